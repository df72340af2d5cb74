// Package ratelimiter throttles requests with one token bucket per caller.
// Anonymous routes key callers by client IP; signed-in routes key them by
// user id so a user cannot dodge the limit by switching networks.
package ratelimiter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"

	"github.com/johndosdos/courier/internal/auth"
)

// KeyFunc names the bucket a request draws from.
type KeyFunc func(r *http.Request) string

// ByIP keys on the client address.
func ByIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ByUser keys on the signed-in user and falls back to the client address.
func ByUser(r *http.Request) string {
	if id, err := auth.GetUserFromContext(r.Context()); err == nil {
		return "user:" + id.String()
	}
	return ByIP(r)
}

// ClientIP is the last X-Forwarded-For hop when present, the peer address
// otherwise.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return strings.TrimSpace(hops[len(hops)-1])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		//nolint:gosec
		slog.Warn("invalid argument for net.SplitHostPort()",
			slog.String("remote_addr", r.RemoteAddr))
		return r.RemoteAddr
	}
	return host
}

type Config struct {
	Requests int
	Window   time.Duration
	// IdleTTL is how long an unused bucket is kept.
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows Requests per Window for each key, with bursts up to
// Requests.
type Limiter struct {
	name    string
	key     KeyFunc
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	now func() time.Time
	log *slog.Logger
}

func New(name string, cfg Config, key KeyFunc, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Limiter{
		name:    name,
		key:     key,
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:   cfg.Requests,
		idleTTL: cfg.IdleTTL,
		buckets: make(map[string]*bucket),
		now:     time.Now,
		log:     logger.With("component", "ratelimiter", "limiter", name),
	}
}

// Reserve takes a token from key's bucket. It returns zero when the request
// may proceed, otherwise how long until a token is available. A refused
// request consumes nothing.
func (l *Limiter) Reserve(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay
	}
	return 0
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many
// were dropped.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.idleTTL {
			delete(l.buckets, key)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Schedule registers a job on s that sweeps idle buckets every interval.
//
//nolint:ireturn
func (l *Limiter) Schedule(s gocron.Scheduler, interval time.Duration) (gocron.Job, error) {
	job, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := l.Sweep(); n > 0 {
				l.log.Debug("idle rate limit buckets dropped", "count", n)
			}
		}),
		gocron.WithName("sweep-rate-limiter-"+l.name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule rate limiter sweep: %w", err)
	}
	return job, nil
}

// Middleware rejects requests over the limit with a JSON 429 and a
// Retry-After header in whole seconds.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)

		if wait := l.Reserve(key); wait > 0 {
			l.log.WarnContext(r.Context(), "rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
				"retry_after", wait)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			w.WriteHeader(http.StatusTooManyRequests)
			err := json.NewEncoder(w).Encode(map[string]string{
				"error": "Too many requests. Try again later.",
				"code":  "rate_limited",
			})
			if err != nil {
				l.log.ErrorContext(r.Context(), "failed to write response", "error", err, "key", key)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}
