package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/courier/internal/auth"
	"github.com/johndosdos/courier/internal/testutil"
)

const testSecret = "middlewaresecret"

func helper(t *testing.T,
	ctx context.Context,
	userID uuid.UUID,
	tokens *auth.RefreshStore,
	refreshTokenExp, jwtExp time.Duration,
	isCookieEmpty bool) (*http.Request, *httptest.ResponseRecorder) {

	req := httptest.NewRequest(http.MethodGet, "/messages", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	if isCookieEmpty {
		return req, rec
	}

	jwtStr, err := auth.MakeJWT(userID, testSecret, "courier", jwtExp)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	refreshTokenStr, err := tokens.Make(ctx, userID, refreshTokenExp)
	if err != nil {
		t.Fatalf("%+v", err)
	}

	req.AddCookie(&http.Cookie{Name: auth.AccessCookie, Value: jwtStr})
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookie, Value: refreshTokenStr})

	return req, rec
}

func TestMiddleware(t *testing.T) {
	db := testutil.DbInit(t)
	user := testutil.InsertUser(t, db, "dummy@test.com", "")

	tokens := auth.NewRefreshStore(db.DB)
	a := auth.NewAuthenticator(tokens, auth.Options{
		Secret:     testSecret,
		Issuer:     "courier",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	}, testutil.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tests := []struct {
		Name              string
		jwtExp            time.Duration
		refreshTokenExp   time.Duration
		isCookieEmpty     bool
		wantHandlerCalled bool
		wantCode          int
	}{
		{"valid_JWT", 5 * time.Minute, 7 * 24 * time.Hour, false, true, http.StatusOK},
		{"expired_JWT", -1 * time.Second, 7 * 24 * time.Hour, false, true, http.StatusOK},
		{"expired_JWT_and_refresh_token", -1 * time.Second, -1 * time.Second, false, false, http.StatusUnauthorized},
		{"empty_cookies", 0, 0, true, false, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			req, rec := helper(t, ctx, user.ID, tokens, tt.refreshTokenExp, tt.jwtExp, tt.isCookieEmpty)

			isHandlerCalled := false
			nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				isHandlerCalled = true
				got, err := auth.GetUserFromContext(r.Context())
				if err != nil || got != user.ID {
					t.Errorf("user id in context = %v, %v", got, err)
				}
				w.WriteHeader(http.StatusOK)
			})

			handler := Middleware(a)(nextHandler)
			handler.ServeHTTP(rec, req)

			if isHandlerCalled != tt.wantHandlerCalled {
				t.Errorf("handler called = %v, want %v", isHandlerCalled, tt.wantHandlerCalled)
			}

			if rec.Code != tt.wantCode {
				t.Errorf("want %d, got %d", tt.wantCode, rec.Code)
			}

			if rec.Code == http.StatusUnauthorized {
				if got := rec.Header().Get("Content-Type"); got != "application/json" {
					t.Errorf("content type = %q, want application/json", got)
				}
				if !strings.Contains(rec.Body.String(), `"code":"unauthorized"`) {
					t.Errorf("body = %s", rec.Body.String())
				}
			}
		})
	}
}
