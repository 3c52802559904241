package handlers

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/streamify/backend/internal/auth"
	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/models"
	"github.com/streamify/backend/internal/repositories"
)

const minPasswordLength = 6

// AuthHandler implements account authentication and onboarding endpoints.
type AuthHandler struct {
	Users        UserStore
	Sessions     SessionManager
	Sync         ProviderSync
	CookieSecure bool
	NowFunc      func() time.Time
	AvatarFunc   func() string
}

// SignUp handles POST /api/auth/signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid signup payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		respondError(ctx, w, http.StatusBadRequest, "all fields are required")
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		logger.Warn("signup invalid email", "email", req.Email, "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid email format")
		return
	}

	if len(req.Password) < minPasswordLength {
		respondError(ctx, w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
		return
	}

	if _, err := h.Users.FindByEmail(ctx, req.Email); err == nil {
		respondError(ctx, w, http.StatusConflict, "email already exists, please use a different one")
		return
	} else if !errors.Is(err, repositories.ErrNotFound) {
		logger.Error("signup user lookup failed", "error", err, "email", req.Email)
		respondError(ctx, w, http.StatusInternalServerError, "unable to verify existing accounts")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("signup failed to hash password", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to secure password")
		return
	}

	now := h.now()
	user := models.User{
		ID:         models.NewUserID(),
		Email:      req.Email,
		Password:   string(hashed),
		FullName:   req.FullName,
		ProfilePic: h.avatar(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			respondError(ctx, w, http.StatusConflict, "email already exists, please use a different one")
			return
		}
		logger.Error("signup failed to create user", "error", err, "email", req.Email)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create account")
		return
	}

	h.syncIdentity(ctx, user)

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("signup failed to issue session", "error", err, "userId", user.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, tokens)
	logger.Info("account created", "userId", user.ID)
	respondJSON(ctx, w, http.StatusCreated, newAuthResponse(user, tokens))
}

// Login handles POST /api/auth/login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Users == nil || h.Sessions == nil {
		logger.Error("authentication dependencies unavailable", "hasUsers", h.Users != nil, "hasSessions", h.Sessions != nil)
		respondError(ctx, w, http.StatusInternalServerError, "authentication services unavailable")
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid login payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(ctx, w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.Users.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			logger.Error("login user lookup failed", "email", req.Email, "error", err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to verify credentials")
			return
		}
		logger.Warn("login unknown email", "email", req.Email)
		respondError(ctx, w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "userId", user.ID)
		respondError(ctx, w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	tokens, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		logger.Error("failed to issue session", "error", err, "userId", user.ID)
		respondError(ctx, w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, tokens)
	respondJSON(ctx, w, http.StatusOK, newAuthResponse(user, tokens))
}

// Logout handles POST /api/auth/logout. It always clears the session cookie;
// tokens that are still valid are revoked.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			logger.Warn("invalid logout payload", "error", err)
			respondError(ctx, w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if h.Sessions != nil {
		accessToken := auth.TokenFromRequest(r)
		if req.AllSessions {
			if claims, err := h.Sessions.Authenticate(ctx, accessToken); err == nil {
				if err := h.Sessions.RevokeUser(ctx, claims.UserID); err != nil {
					logger.Error("revoke user sessions", "userId", claims.UserID, "error", err)
				}
			}
		}
		if err := h.Sessions.RevokeAccess(ctx, accessToken); err != nil {
			logger.Error("revoke access token", "error", err)
		}
		h.Sessions.Revoke(ctx, strings.TrimSpace(req.RefreshToken))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "message": "logout successful"})
}

// Refresh exchanges a refresh token for a new session.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if h.Sessions == nil {
		logger.Error("session manager unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid refresh payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondError(ctx, w, http.StatusBadRequest, "refresh token is required")
		return
	}

	tokens, err := h.Sessions.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenExpired) || errors.Is(err, auth.ErrSessionNotFound) {
			logger.Warn("refresh rejected", "error", err)
			respondError(ctx, w, http.StatusUnauthorized, "unable to refresh session")
			return
		}
		logger.Error("refresh failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to refresh session")
		return
	}

	h.setSessionCookie(w, tokens)
	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "token": tokens.AccessToken, "tokens": tokens})
}

// Me handles GET /api/auth/me.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{"success": true, "user": newAccountView(user)})
}

// Onboard handles POST /api/auth/onboarding.
func (h AuthHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.Users == nil {
		logger.Error("user store unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "account services unavailable")
		return
	}

	var req onboardingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid onboarding payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	profile := req.profile()
	if missing := missingProfileFields(profile); len(missing) > 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]any{
			"error":         "all fields are required",
			"missingFields": missing,
		})
		return
	}

	user.FullName = profile.FullName
	user.Bio = profile.Bio
	user.NativeLanguage = profile.NativeLanguage
	user.LearningLanguage = profile.LearningLanguage
	user.Location = profile.Location
	user.IsOnboarded = true
	user.UpdatedAt = h.now()

	if err := h.Users.Update(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "user not found")
			return
		}
		logger.Error("onboarding update failed", "userId", user.ID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	h.syncIdentity(ctx, user)
	respondJSON(ctx, w, http.StatusOK, map[string]any{"success": true, "user": newAccountView(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
	AllSessions  bool   `json:"allSessions"`
}

type onboardingRequest struct {
	FullName         string `json:"fullName"`
	Bio              string `json:"bio"`
	NativeLanguage   string `json:"nativeLanguage"`
	LearningLanguage string `json:"learningLanguage"`
	Location         string `json:"location"`
}

func (r onboardingRequest) profile() models.Profile {
	return models.Profile{
		FullName:         strings.TrimSpace(r.FullName),
		Bio:              strings.TrimSpace(r.Bio),
		NativeLanguage:   strings.TrimSpace(strings.ToLower(r.NativeLanguage)),
		LearningLanguage: strings.TrimSpace(strings.ToLower(r.LearningLanguage)),
		Location:         strings.TrimSpace(r.Location),
	}
}

func missingProfileFields(p models.Profile) []string {
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"fullName", p.FullName},
		{"bio", p.Bio},
		{"nativeLanguage", p.NativeLanguage},
		{"learningLanguage", p.LearningLanguage},
		{"location", p.Location},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// accountView is the signed-in user's own view of their account.
type accountView struct {
	models.UserSummary
	Email       string    `json:"email"`
	IsOnboarded bool      `json:"isOnboarded"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newAccountView(user models.User) accountView {
	return accountView{
		UserSummary: user.Summary(),
		Email:       user.Email,
		IsOnboarded: user.IsOnboarded,
		CreatedAt:   user.CreatedAt,
	}
}

type authResponse struct {
	Success bool                 `json:"success"`
	User    accountView          `json:"user"`
	Token   string               `json:"token"`
	Tokens  models.SessionTokens `json:"tokens"`
}

func newAuthResponse(user models.User, tokens models.SessionTokens) authResponse {
	return authResponse{Success: true, User: newAccountView(user), Token: tokens.AccessToken, Tokens: tokens}
}

func (h AuthHandler) setSessionCookie(w http.ResponseWriter, tokens models.SessionTokens) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    tokens.AccessToken,
		Path:     "/",
		Expires:  tokens.AccessExpiresAt,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h AuthHandler) syncIdentity(ctx context.Context, user models.User) {
	if h.Sync == nil {
		return
	}
	if err := h.Sync.Enqueue(ctx, user.Identity()); err != nil {
		logging.FromContext(ctx).Warn("schedule provider user sync", "userId", user.ID, "error", err)
	}
}

func (h AuthHandler) avatar() string {
	if h.AvatarFunc != nil {
		return h.AvatarFunc()
	}
	return fmt.Sprintf("https://avatar.iran.liara.run/public/%d.png", rand.IntN(100)+1)
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
