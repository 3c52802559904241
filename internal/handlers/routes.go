package handlers

import (
	"net/http"
	"time"

	"github.com/streamify/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Sync: deps.Sync, CookieSecure: deps.CookieSecure, NowFunc: deps.NowFunc}
	users := UserHandler{Friends: deps.Friends, Users: deps.Users, Avatars: deps.Avatars, Sync: deps.Sync, AvatarMaxBytes: deps.AvatarMaxBytes, NowFunc: deps.NowFunc}
	chat := ChatHandler{Tokens: deps.Tokens}

	var authenticator middleware.Authenticator
	if deps.Sessions != nil {
		authenticator = deps.Sessions
	}
	var accounts middleware.AccountLoader
	if deps.Users != nil {
		accounts = deps.Users
	}
	protected := middleware.RequireAuth(authenticator, accounts)
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		if deps.AuthLimiter == nil {
			return h
		}
		return middleware.RateLimit(deps.AuthLimiter, scope)(h)
	}
	private := func(h http.HandlerFunc) http.Handler { return protected(h) }

	mux.HandleFunc("/healthz", health.Handle)

	mux.Handle("/api/auth/signup", limited("signup", auth.SignUp))
	mux.Handle("/api/auth/login", limited("login", auth.Login))
	mux.HandleFunc("/api/auth/logout", auth.Logout)
	mux.HandleFunc("/api/auth/refresh", auth.Refresh)
	mux.Handle("/api/auth/me", private(auth.Me))
	mux.Handle("/api/auth/onboarding", private(auth.Onboard))

	mux.Handle("/api/users", private(users.Recommended))
	mux.Handle("/api/users/friends", private(users.ListFriends))
	mux.Handle("/api/users/outgoing-friend-requests", private(users.OutgoingRequests))
	mux.Handle("/api/users/friend-requests", private(users.FriendRequests))
	mux.Handle("/api/users/friend-request/{id}", private(users.SendRequest))
	mux.Handle("/api/users/friend-request/{id}/accept", private(users.AcceptRequest))
	mux.Handle("/api/users/avatar", private(users.UploadAvatar))

	mux.Handle("/api/get-stream-token", private(chat.Token))
	mux.Handle("/api/chat/token", private(chat.Token))

	mux.HandleFunc("/api/", NotFound)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users          UserStore
	Sessions       SessionManager
	Friends        FriendService
	Tokens         ProviderTokenIssuer
	Sync           ProviderSync
	Avatars        AvatarStorage
	AvatarMaxBytes int64
	AuthLimiter    middleware.RateLimiter
	CookieSecure   bool
	HealthChecks   map[string]HealthCheck
	NowFunc        func() time.Time
}
