// Command loadtest signs up a set of users, connects each to the websocket
// endpoint and has them send messages to one another, reporting how many
// pushes arrived.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/johndosdos/courier/internal/model"
)

type options struct {
	baseURL  string
	users    int
	messages int
	rps      float64
	settle   time.Duration
}

type user struct {
	email  string
	client *http.Client
}

func main() {
	var opts options
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "server base URL")
	flag.IntVar(&opts.users, "users", 10, "number of simulated users")
	flag.IntVar(&opts.messages, "messages", 5, "messages sent per user")
	flag.Float64Var(&opts.rps, "rps", 20, "compose requests per second across all users")
	flag.DurationVar(&opts.settle, "settle", 2*time.Second, "time to wait for pushes after the last send")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(context.Background(), opts, log); err != nil {
		log.Error("load test failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, log *slog.Logger) error {
	if opts.users < 2 {
		return fmt.Errorf("need at least 2 users, got %d", opts.users)
	}

	runID := uuid.NewString()[:8]
	users := make([]*user, opts.users)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range users {
		g.Go(func() error {
			u, err := signupAndLogin(gctx, opts.baseURL, fmt.Sprintf("load-%s-%d@example.com", runID, i))
			if err != nil {
				return err
			}
			users[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("users ready", "count", len(users))

	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	var received atomic.Int64
	listeners, lctx := errgroup.WithContext(listenCtx)
	for _, u := range users {
		conn, _, err := websocket.Dial(ctx, wsURL(opts.baseURL), &websocket.DialOptions{HTTPClient: u.client})
		if err != nil {
			return fmt.Errorf("websocket connect for %s: %w", u.email, err)
		}
		listeners.Go(func() error {
			defer conn.CloseNow() //nolint:errcheck
			for {
				var ev model.Event
				if err := wsjson.Read(lctx, conn, &ev); err != nil {
					return nil
				}
				if ev.Type == model.EventMessage {
					received.Add(1)
				}
			}
		})
	}

	limiter := rate.NewLimiter(rate.Limit(opts.rps), 1)
	var sent, failed atomic.Int64
	start := time.Now()

	senders, sctx := errgroup.WithContext(ctx)
	for i, u := range users {
		senders.Go(func() error {
			for range opts.messages {
				if err := limiter.Wait(sctx); err != nil {
					return err
				}
				to := users[(i+1+rand.IntN(len(users)-1))%len(users)]
				if err := compose(sctx, opts.baseURL, u, to.email); err != nil {
					failed.Add(1)
					log.Warn("compose failed", "from", u.email, "error", err)
					continue
				}
				sent.Add(1)
			}
			return nil
		})
	}
	if err := senders.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	time.Sleep(opts.settle)
	stopListening()
	_ = listeners.Wait()

	log.Info("load test finished",
		"sent", sent.Load(),
		"failed", failed.Load(),
		"pushed", received.Load(),
		"elapsed", elapsed.Round(time.Millisecond),
		"compose_per_sec", fmt.Sprintf("%.1f", float64(sent.Load())/elapsed.Seconds()))
	return nil
}

func signupAndLogin(ctx context.Context, baseURL, email string) (*user, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	u := &user{email: email, client: &http.Client{Jar: jar}}

	password := "loadtest-" + uuid.NewString()
	if err := u.post(ctx, baseURL+"/account/signup", map[string]string{
		"email":            email,
		"password":         password,
		"confirm_password": password,
	}, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("signup %s: %w", email, err)
	}

	if err := u.post(ctx, baseURL+"/account/login", map[string]string{
		"email":    email,
		"password": password,
	}, http.StatusOK); err != nil {
		return nil, fmt.Errorf("login %s: %w", email, err)
	}
	return u, nil
}

func compose(ctx context.Context, baseURL string, from *user, to string) error {
	return from.post(ctx, baseURL+"/messages", map[string]string{
		"emails":  to,
		"title":   "load " + time.Now().Format(time.TimeOnly),
		"message": "hello from " + from.email,
	}, http.StatusCreated)
}

func (u *user) post(ctx context.Context, endpoint string, body map[string]string, want int) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(b)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send POST request to [%s]: %w", endpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode != want {
		return fmt.Errorf("POST %s: status %d", endpoint, res.StatusCode)
	}
	return nil
}

func wsURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}
