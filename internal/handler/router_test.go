package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/identity"
	"github.com/johndosdos/courier/internal/messaging"
	"github.com/johndosdos/courier/internal/model"
	"github.com/johndosdos/courier/internal/store"
	"github.com/johndosdos/courier/internal/testutil"
	ws "github.com/johndosdos/courier/internal/websocket"
)

type testServer struct {
	*httptest.Server
	hub *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.DbInit(t)
	log := testutil.Logger()

	hubCtx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub(log)
	go hub.Run(hubCtx)

	dir := identity.NewDirectory(db.DB, log)
	a := auth.NewAuthenticator(auth.NewRefreshStore(db.DB), auth.Options{
		Secret:     "handlertestsecret",
		Issuer:     "courier",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	}, log)
	svc := messaging.NewService(store.NewProvider(db.DB, log), dir, hub, messaging.Config{}, log)

	srv := httptest.NewServer(NewRouter(Deps{
		Directory: dir,
		Auth:      a,
		Messaging: svc,
		Hub:       hub,
		Sessions:  SessionOptions{Buffer: 8},
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &testServer{Server: srv, hub: hub}
}

func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postJSON(t *testing.T, c *http.Client, u string, body map[string]string) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := c.Post(u, "application/json", strings.NewReader(string(b)))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, c *http.Client, u string) *http.Response {
	t.Helper()
	resp, err := c.Get(u)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (s *testServer) signupAndLogin(t *testing.T, email, first string) (*http.Client, uuid.UUID) {
	t.Helper()
	c := s.client(t)

	resp := postJSON(t, c, s.URL+"/account/signup", map[string]string{
		"email":            email,
		"password":         "password1234",
		"confirm_password": "password1234",
		"first_name":       first,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, c, s.URL+"/account/login", map[string]string{
		"email":    email,
		"password": "password1234",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	account := decode[accountResponse](t, resp)
	return c, uuid.MustParse(account.ID)
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	tests := []struct {
		name     string
		path     string
		body     map[string]string
		wantCode int
	}{
		{"signup", "/account/signup", map[string]string{"email": "a@x.com", "password": "password1234", "confirm_password": "password1234"}, http.StatusCreated},
		{"duplicate signup", "/account/signup", map[string]string{"email": "a@x.com", "password": "password1234", "confirm_password": "password1234"}, http.StatusConflict},
		{"password mismatch", "/account/signup", map[string]string{"email": "b@x.com", "password": "password1234", "confirm_password": "nope"}, http.StatusBadRequest},
		{"bad email", "/account/signup", map[string]string{"email": "nope", "password": "password1234", "confirm_password": "password1234"}, http.StatusBadRequest},
		{"wrong password", "/account/login", map[string]string{"email": "a@x.com", "password": "wrongpassword"}, http.StatusUnauthorized},
		{"unknown user", "/account/login", map[string]string{"email": "ghost@x.com", "password": "password1234"}, http.StatusUnauthorized},
		{"login", "/account/login", map[string]string{"email": "a@x.com", "password": "password1234"}, http.StatusOK},
		{"refresh", "/account/refresh", nil, http.StatusNoContent},
		{"logout", "/account/logout", nil, http.StatusNoContent},
		{"refresh after logout", "/account/refresh", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, c, s.URL+tt.path, tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
		})
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t)
	c := s.client(t)

	for _, path := range []string{"/", "/messages", "/messages/sent", "/users/autocomplete", "/compose"} {
		resp := get(t, c, s.URL+path)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		body := decode[errorBody](t, resp)
		assert.Equal(t, "unauthorized", body.Code, path)
	}

	resp := postJSON(t, c, s.URL+"/messages", map[string]string{"emails": "a@x.com"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestComposeAndRead(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.signupAndLogin(t, "alice@x.com", "Alice")
	bob, _ := s.signupAndLogin(t, "bob@x.com", "")
	carol, _ := s.signupAndLogin(t, "carol@x.com", "")

	resp := get(t, alice, s.URL+"/")
	assert.Equal(t, "/messages", resp.Header.Get("Location"))

	// Form bodies work as well as JSON.
	form := url.Values{"emails": {"bob@x.com, ghost@x.com, bob@x.com"}, "title": {"Hi"}, "message": {"hello"}}
	resp, err := alice.PostForm(s.URL+"/messages", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[messaging.ComposeResult](t, resp)
	assert.Equal(t, []string{"bob@x.com"}, res.Recipients)
	assert.Equal(t, []string{"ghost@x.com"}, res.Unresolved)

	inbox := decode[[]model.MessageView](t, get(t, bob, s.URL+"/messages"))
	require.Len(t, inbox, 1)
	assert.Equal(t, res.MessageID, inbox[0].MessageID)
	assert.Equal(t, "Alice", inbox[0].SenderDisplayName)

	view := decode[model.MessageView](t, get(t, bob, s.URL+"/messages/"+res.MessageID.String()))
	assert.Equal(t, "hello", view.Text)

	sent := decode[[]model.MessageView](t, get(t, alice, s.URL+"/messages/sent"))
	require.Len(t, sent, 1)

	assert.Equal(t, http.StatusNotFound, get(t, carol, s.URL+"/messages/"+res.MessageID.String()).StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, carol, s.URL+"/messages/not-a-uuid").StatusCode)

	resp = postJSON(t, alice, s.URL+"/messages", map[string]string{"emails": " , ", "title": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	emails := decode[[]string](t, get(t, alice, s.URL+"/users/autocomplete?term=bo"))
	assert.Equal(t, []string{"bob@x.com"}, emails)
	emails = decode[[]string](t, get(t, alice, s.URL+"/users/autocomplete?term="))
	assert.Len(t, emails, 3)

	draft := decode[messaging.ReplyDraft](t, get(t, bob, s.URL+"/compose?userSenderId="+inbox[0].SenderID.String()))
	assert.Equal(t, messaging.ReplyDraft{Emails: "alice@x.com", Name: "Alice"}, draft)
}

func TestLiveSessions(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.signupAndLogin(t, "alice@x.com", "Alice")
	bob, bobID := s.signupAndLogin(t, "bob@x.com", "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: bob})
	require.NoError(t, err)
	defer conn.CloseNow() //nolint:errcheck

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/events", nil)
	require.NoError(t, err)
	sse, err := bob.Do(req)
	require.NoError(t, err)
	defer sse.Body.Close()
	require.Equal(t, "text/event-stream", sse.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		n, err := s.hub.SessionCount(ctx, bobID)
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	resp := postJSON(t, alice, s.URL+"/messages", map[string]string{"emails": "bob@x.com", "title": "ping"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[messaging.ComposeResult](t, resp)

	want := model.MessageEvents(res.MessageID, "Alice")

	var ev model.Event
	for _, w := range want {
		require.NoError(t, wsjson.Read(ctx, conn, &ev))
		assert.Equal(t, w, ev)
	}

	lines := bufio.NewScanner(sse.Body)
	var got []string
	for len(got) < 4 && lines.Scan() {
		if line := lines.Text(); strings.HasPrefix(line, "event:") || strings.HasPrefix(line, "data:") {
			got = append(got, line)
		}
	}
	assert.Equal(t, []string{
		"event: message", "data: " + res.MessageID.String(),
		"event: toast", "data: Alice",
	}, got)
}
