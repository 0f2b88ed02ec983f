package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/peakform/coaching-platform/internal/config"
	"github.com/peakform/coaching-platform/internal/model"
	"github.com/peakform/coaching-platform/internal/oauth"
	"github.com/peakform/coaching-platform/internal/queue"
	"github.com/peakform/coaching-platform/internal/repository"
	"github.com/peakform/coaching-platform/internal/service"
	"github.com/peakform/coaching-platform/internal/utils"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"

	stateCookieName = "oauth_state"
	stateCookiePath = "/auth/google"
	stateCookieTTL  = 10 * time.Minute
)

// dbTimeout bounds every persistence call made on behalf of a request.
const dbTimeout = 5 * time.Second

// AuthHandler bundles dependencies for the auth endpoints. Google is nil
// when federated login is not configured; the router skips those routes.
type AuthHandler struct {
	Cfg      config.Config
	Sessions *service.Session
	Google   *oauth.GoogleResolver
}

func NewAuthHandler(cfg config.Config, sessions *service.Session, google *oauth.GoogleResolver) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Sessions: sessions, Google: google}
}

// ----- DTOs -----

type registerReq struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"` // CLIENT | COACH
}

type tokenResp struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func bearer(access utils.AccessToken) tokenResp {
	return tokenResp{AccessToken: access.Token, TokenType: "bearer"}
}

// Register creates a local account and opens its first session. The access
// token comes back in the body; the refresh token only ever travels in an
// HTTP-only cookie. Conflicts are reported without naming the offending
// field.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, pair, err := h.Sessions.Register(ctx, service.RegisterParams{
		Username:  req.Username,
		Password:  req.Password,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Role:      req.Role,
		Email:     optional(req.Email),
		Phone:     optional(req.Phone),
	})
	switch {
	case errors.Is(err, service.ErrContactRequired):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email or phone required"})
	case errors.Is(err, repository.ErrIdentityTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": "account already exists"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	h.publishEvent(queue.EventUserRegistered, u)
	h.setRefreshCookie(c, pair.Refresh)
	return c.JSON(http.StatusOK, bearer(pair.Access))
}

// Login authenticates a form-encoded username/password pair. Unknown user
// and wrong password produce the same 401.
func (h *AuthHandler) Login(c echo.Context) error {
	username := strings.TrimSpace(c.FormValue("username"))
	password := c.FormValue("password")
	if username == "" || password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, pair, err := h.Sessions.Login(ctx, username, password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	h.publishEvent(queue.EventUserLoggedIn, u)
	h.setRefreshCookie(c, pair.Refresh)
	return c.JSON(http.StatusOK, bearer(pair.Access))
}

// Refresh reads the refresh cookie and mints a new access token. The
// refresh token itself is not rotated. An invalid or expired token clears
// the cookie so the client stops presenting a dead credential.
func (h *AuthHandler) Refresh(c echo.Context) error {
	raw := h.refreshCookie(c)
	if raw == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	access, err := h.Sessions.Refresh(ctx, raw)
	if errors.Is(err, repository.ErrRefreshInvalid) || errors.Is(err, repository.ErrRefreshExpired) {
		h.clearRefreshCookie(c)
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "refresh failed"})
	}
	return c.JSON(http.StatusOK, bearer(access))
}

// Logout revokes the session behind the refresh cookie and always clears
// the cookie, whether or not a matching session existed.
func (h *AuthHandler) Logout(c echo.Context) error {
	raw := h.refreshCookie(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Sessions.Logout(ctx, raw); err != nil {
		// The cookie is cleared regardless; losing the row delete only means
		// the token dies at its natural expiry.
		c.Logger().Errorf("logout: revoke failed: %v", err)
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"status": "logged out"})
}

// LogoutAll terminates every session of the authenticated user. Protected
// route: JWTAuth has already placed the username in context.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	username, _ := c.Get("username").(string)
	if username == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Sessions.LogoutAllForUsername(ctx, username); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"status": "logged out everywhere"})
}

// GoogleLogin redirects the browser to Google's authorization endpoint. A
// random state value is pinned in a short-lived cookie and checked on the
// way back.
func (h *AuthHandler) GoogleLogin(c echo.Context) error {
	state, err := utils.NewStateToken()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login unavailable"})
	}
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(stateCookieTTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, h.Google.AuthCodeURL(state))
}

// GoogleCallback receives the authorization code, resolves the external
// profile, reconciles it to a local user and issues tokens exactly like a
// password login.
func (h *AuthHandler) GoogleCallback(c echo.Context) error {
	state := c.QueryParam("state")
	cookie, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || cookie.Value != state {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "state mismatch"})
	}
	// The state value is single-use; expire it so it cannot be replayed
	// within its lifetime.
	h.clearStateCookie(c)
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}

	profile, err := h.Google.ExchangeCode(c.Request().Context(), code)
	if err != nil {
		// The authorization code is single-use; no retry within the request.
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "identity provider unavailable"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	u, pair, err := h.Sessions.FederatedLogin(ctx, profile)
	if errors.Is(err, repository.ErrIdentityTaken) {
		// The provider email belongs to an existing local account; linking
		// accounts is a deliberate action, not something to do silently here.
		return c.JSON(http.StatusConflict, echo.Map{"error": "account already exists"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "login failed"})
	}

	h.publishEvent(queue.EventUserLoggedIn, u)
	h.setRefreshCookie(c, pair.Refresh)
	return c.JSON(http.StatusOK, bearer(pair.Access))
}

// Me returns the identity claims of the authenticated caller.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"username": c.Get("username"),
		"role":     c.Get("role"),
	})
}

// ----- helpers -----

func (h *AuthHandler) refreshCookie(c echo.Context) string {
	cookie, err := c.Cookie(refreshCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, refresh utils.RefreshToken) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh.Raw,
		Path:     refreshCookiePath,
		MaxAge:   h.Cfg.RefreshTTLDays * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearStateCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// publishEvent fires an audit event without blocking or failing the
// request. Publish errors are already logged inside the queue package.
func (h *AuthHandler) publishEvent(kind string, u model.User) {
	ev := queue.AuthEvent{
		Kind:       kind,
		UserID:     u.ID,
		Username:   u.Username,
		Role:       u.Role,
		Provider:   u.AuthProvider,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
		defer cancel()
		_ = queue.PublishAuthEvent(ctx, ev)
	}()
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
