package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body["error"]
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var seen string
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-id" {
		t.Fatalf("expected request id from header, got %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != "client-id" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Header().Get(RequestIDHeader) == "" || seen == "" || seen == "client-id" {
		t.Fatalf("expected generated request id, got %q", seen)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestKeyedRateLimiter(t *testing.T) {
	limiter := NewKeyedRateLimiter(1, time.Minute, 2, time.Minute)
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected burst to be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("expected third request to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatal("expected separate key to be allowed")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("a") {
		t.Fatal("expected token to refill after window")
	}

	now = now.Add(10 * time.Minute)
	limiter.Allow("c")
	limiter.mu.Lock()
	_, exists := limiter.visitors["b"]
	limiter.mu.Unlock()
	if exists {
		t.Fatal("expected idle visitor to be evicted")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := NewKeyedRateLimiter(1, time.Hour, 1, time.Hour)
	handler := RateLimit(limiter, "login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if decodeError(t, rec) == "" {
		t.Fatal("expected error message")
	}

	spoofed := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	spoofed.RemoteAddr = "10.0.0.1:5678"
	spoofed.Header.Set("X-Forwarded-For", "192.0.2.99")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, spoofed)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected forwarded header to be ignored without a trusted proxy, got %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	other.RemoteAddr = "192.0.2.7:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected other client allowed, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("unexpected ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected forwarded header to be ignored, got %q", got)
	}
}

func TestRealIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.1 ", ""})
	if err != nil {
		t.Fatalf("parse trusted proxies: %v", err)
	}
	var seen string
	handler := RealIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientIP(r)
	}))

	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"untrusted peer keeps its address", "203.0.113.9:4000", "198.51.100.2", "203.0.113.9"},
		{"trusted peer forwards client", "10.1.2.3:4000", "198.51.100.2", "198.51.100.2"},
		{"spoofed leading hop skipped", "10.1.2.3:4000", "6.6.6.6, 198.51.100.2, 10.9.9.9", "198.51.100.2"},
		{"exact address trusted", "192.0.2.1:80", "198.51.100.7", "198.51.100.7"},
		{"only trusted hops", "10.1.2.3:4000", "10.2.2.2", "10.1.2.3"},
		{"malformed hop", "10.1.2.3:4000", "garbage", "10.1.2.3"},
		{"no header", "10.1.2.3:4000", "", "10.1.2.3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if seen != tc.want {
				t.Fatalf("expected client %q got %q", tc.want, seen)
			}
		})
	}

	if _, err := ParseTrustedProxies([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected invalid cidr to be rejected")
	}
}

func TestMaintenance(t *testing.T) {
	var enabled atomic.Bool
	handler := Maintenance(&enabled)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := serve("/api/users"); rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through when disabled, got %d", rec.Code)
	}

	enabled.Store(true)

	rec := serve("/api/users")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for api, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}

	rec = serve("/")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 page, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("expected text content type, got %q", ct)
	}

	if rec := serve("/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected health check to bypass maintenance, got %d", rec.Code)
	}
}

type authenticatorStub struct {
	claims auth.Claims
	err    error
	token  string
}

func (a *authenticatorStub) Authenticate(_ context.Context, token string) (auth.Claims, error) {
	a.token = token
	return a.claims, a.err
}

type accountsStub struct {
	users map[string]models.User
	err   error
}

func (a accountsStub) FindByID(_ context.Context, id string) (models.User, error) {
	if a.err != nil {
		return models.User{}, a.err
	}
	user, ok := a.users[id]
	if !ok {
		return models.User{}, repositories.ErrNotFound
	}
	return user, nil
}

func TestRequireAuth(t *testing.T) {
	accounts := accountsStub{users: map[string]models.User{"user-1": {ID: "user-1", FullName: "Ada"}}}

	var gotUser models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid token", func(t *testing.T) {
		authenticator := &authenticatorStub{claims: auth.Claims{UserID: "user-1"}}
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer tok")
		rec := httptest.NewRecorder()
		RequireAuth(authenticator, accounts)(next).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if authenticator.token != "tok" {
			t.Fatalf("expected bearer token to be forwarded, got %q", authenticator.token)
		}
		if gotUser.ID != "user-1" {
			t.Fatalf("expected user on context, got %+v", gotUser)
		}
	})

	cases := []struct {
		name          string
		authenticator Authenticator
		accounts      AccountLoader
		status        int
	}{
		{"invalid token", &authenticatorStub{err: auth.ErrUnauthenticated}, accounts, http.StatusUnauthorized},
		{"cache failure", &authenticatorStub{err: errors.New("redis down")}, accounts, http.StatusInternalServerError},
		{"unknown account", &authenticatorStub{claims: auth.Claims{UserID: "ghost"}}, accounts, http.StatusUnauthorized},
		{"account lookup failure", &authenticatorStub{claims: auth.Claims{UserID: "user-1"}}, accountsStub{err: errors.New("db down")}, http.StatusInternalServerError},
		{"missing deps", nil, nil, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RequireAuth(tc.authenticator, tc.accounts)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:5173/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Fatal("expected allowed origin echoed")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected foreign origin to pass without cors headers, got %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
