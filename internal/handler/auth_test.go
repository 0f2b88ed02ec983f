package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/peakform/coaching-platform/internal/config"
	"github.com/peakform/coaching-platform/internal/middleware"
	"github.com/peakform/coaching-platform/internal/model"
	"github.com/peakform/coaching-platform/internal/oauth"
	"github.com/peakform/coaching-platform/internal/repository"
	"github.com/peakform/coaching-platform/internal/service"
)

// ----- in-memory stores (mirrors the service test fakes) -----

type memUsers struct {
	mu   sync.Mutex
	seq  uint64
	byID map[uint64]model.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uint64]model.User{}} }

func (m *memUsers) taken(username string, email, phone, googleID *string) bool {
	for _, u := range m.byID {
		if u.Username == username {
			return true
		}
		if email != nil && u.Email != nil && strings.EqualFold(*u.Email, *email) {
			return true
		}
		if phone != nil && u.Phone != nil && *u.Phone == *phone {
			return true
		}
		if googleID != nil && u.GoogleID != nil && *u.GoogleID == *googleID {
			return true
		}
	}
	return false
}

func (m *memUsers) Create(_ context.Context, nu repository.NewLocalUser) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken(nu.Username, nu.Email, nu.Phone, nil) {
		return 0, repository.ErrIdentityTaken
	}
	m.seq++
	hash := nu.PasswordHash
	m.byID[m.seq] = model.User{
		ID: m.seq, Username: nu.Username, Email: nu.Email, Phone: nu.Phone,
		FirstName: nu.FirstName, LastName: nu.LastName, PasswordHash: &hash,
		Role: nu.Role, AuthProvider: model.ProviderLocal,
	}
	return m.seq, nil
}

func (m *memUsers) CreateFederated(_ context.Context, username string, email *string, firstName, lastName, googleID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.taken(username, email, nil, &googleID) {
		return 0, repository.ErrIdentityTaken
	}
	m.seq++
	gid := googleID
	m.byID[m.seq] = model.User{
		ID: m.seq, Username: username, Email: email,
		FirstName: firstName, LastName: lastName,
		Role: model.RoleClient, AuthProvider: model.ProviderGoogle, GoogleID: &gid,
	}
	return m.seq, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return model.User{}, repository.ErrUserNotFound
}

func (m *memUsers) GetByGoogleID(_ context.Context, googleID string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.GoogleID != nil && *u.GoogleID == googleID {
			return u, nil
		}
	}
	return model.User{}, repository.ErrUserNotFound
}

type tokenRow struct {
	userID uint64
	exp    time.Time
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]tokenRow
}

func newMemTokens() *memTokens { return &memTokens{rows: map[string]tokenRow{}} }

func (m *memTokens) Store(_ context.Context, userID uint64, tokenHash string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[tokenHash] = tokenRow{userID: userID, exp: exp}
	return nil
}

func (m *memTokens) Validate(_ context.Context, tokenHash string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tokenHash]
	if !ok {
		return 0, repository.ErrRefreshInvalid
	}
	if time.Now().UTC().After(row.exp) {
		delete(m.rows, tokenHash)
		return 0, repository.ErrRefreshExpired
	}
	return row.userID, nil
}

func (m *memTokens) Revoke(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, tokenHash)
	return nil
}

func (m *memTokens) DeleteAllForUser(_ context.Context, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, row := range m.rows {
		if row.userID == userID {
			delete(m.rows, h)
		}
	}
	return nil
}

// ----- test server -----

func testConfig() config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		JWTAlgorithm:   "HS256",
		AccessTTLMin:   30,
		RefreshTTLDays: 7,
		BcryptCost:     bcrypt.MinCost,
	}
}

// newTestServer mounts the same route layout the router package builds.
// Routes are registered inline here: the router package imports handler, so
// an in-package test cannot import it back without a cycle.
func newTestServer(t *testing.T, google *oauth.GoogleResolver) *echo.Echo {
	t.Helper()
	cfg := testConfig()
	sessions := service.NewSession(cfg, newMemUsers(), newMemTokens())
	h := NewAuthHandler(cfg, sessions, google)

	e := echo.New()
	e.GET("/healthz", Health)

	g := e.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	if h.Google != nil {
		g.GET("/google/login", h.GoogleLogin)
		g.GET("/google/callback", h.GoogleCallback)
	}

	auth := e.Group("")
	auth.Use(middleware.JWTAuth(cfg.JWTSecret, cfg.JWTAlgorithm))
	auth.Use(middleware.RequireRole("CLIENT", "COACH"))
	auth.GET("/me", h.Me)
	auth.POST("/logout-all", h.LogoutAll)
	return e
}

func doJSON(e *echo.Echo, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func doForm(e *echo.Echo, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func refreshCookieOf(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", refreshCookieName)
	return nil
}

const aliceJSON = `{"username":"alice","password":"pw123","email":"alice@example.com","first_name":"Alice","last_name":"Liddell"}`

func TestRegisterSetsBearerAndCookie(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(e, http.MethodPost, "/auth/register", aliceJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"access_token"`)
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)

	cookie := refreshCookieOf(t, rec)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, refreshCookiePath, cookie.Path)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestServer(t, nil)

	// Missing credentials.
	rec := doJSON(e, http.MethodPost, "/auth/register", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Neither email nor phone.
	rec = doJSON(e, http.MethodPost, "/auth/register", `{"username":"bob","password":"pw"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Phone alone is an acceptable contact field.
	rec = doJSON(e, http.MethodPost, "/auth/register", `{"username":"bob","password":"pw","phone":"+15550100"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterConflictIsGeneric(t *testing.T) {
	e := newTestServer(t, nil)
	require.Equal(t, http.StatusOK, doJSON(e, http.MethodPost, "/auth/register", aliceJSON).Code)

	// Same username.
	rec := doJSON(e, http.MethodPost, "/auth/register",
		`{"username":"alice","password":"pw","email":"other@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	// The response names no field.
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "username")
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "email")

	// Same email, different username.
	rec = doJSON(e, http.MethodPost, "/auth/register",
		`{"username":"alice2","password":"pw","email":"alice@example.com"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// TestSessionLifecycle walks the full credential flow: register, login with
// right and wrong passwords, refresh from the cookie, logout, and refresh
// again with the dead cookie.
func TestSessionLifecycle(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(e, http.MethodPost, "/auth/register", aliceJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	registerCookie := refreshCookieOf(t, rec)

	// Login with correct credentials.
	rec = doForm(e, "/auth/login", url.Values{"username": {"alice"}, "password": {"pw123"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"access_token"`)

	// Wrong password.
	rec = doForm(e, "/auth/login", url.Values{"username": {"alice"}, "password": {"wrongpw"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Refresh with the registration cookie still works (sessions are
	// additive and non-rotating).
	rec = doJSON(e, http.MethodPost, "/auth/refresh", "", registerCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token"`)

	// Logout revokes the session and clears the cookie.
	rec = doJSON(e, http.MethodPost, "/auth/logout", "", registerCookie)
	require.Equal(t, http.StatusOK, rec.Code)
	cleared := refreshCookieOf(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	// The same cookie no longer refreshes, and is cleared again.
	rec = doJSON(e, http.MethodPost, "/auth/refresh", "", registerCookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared = refreshCookieOf(t, rec)
	assert.Empty(t, cleared.Value)
}

func TestRefreshWithoutCookie(t *testing.T) {
	e := newTestServer(t, nil)
	rec := doJSON(e, http.MethodPost, "/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithoutSessionSucceeds(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(e, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/auth/logout", "",
		&http.Cookie{Name: refreshCookieName, Value: "never-issued"})
	assert.Equal(t, http.StatusOK, rec.Code)
	cleared := refreshCookieOf(t, rec)
	assert.Empty(t, cleared.Value)
}

func TestMeRequiresValidBearer(t *testing.T) {
	e := newTestServer(t, nil)

	rec := doJSON(e, http.MethodPost, "/auth/register", aliceJSON)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.AccessToken)
	out := httptest.NewRecorder()
	e.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.Contains(t, out.Body.String(), `"alice"`)

	// No token and garbage token are both rejected.
	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	out = httptest.NewRecorder()
	e.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	out = httptest.NewRecorder()
	e.ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestGoogleLoginRedirectsWithState(t *testing.T) {
	google := oauth.NewResolverWithEndpoints("client-id", "client-secret",
		"https://app.example.com/auth/google/callback",
		oauth2.Endpoint{AuthURL: "https://provider.example/auth", TokenURL: "https://provider.example/token"},
		"https://provider.example/userinfo")
	e := newTestServer(t, google)

	rec := doJSON(e, http.MethodGet, "/auth/google/login", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	assert.NotEmpty(t, state)
	assert.Equal(t, "client-id", loc.Query().Get("client_id"))

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.Equal(t, state, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
}

func TestGoogleCallback(t *testing.T) {
	// Stub provider: token endpoint plus userinfo.
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"stub-access","token_type":"bearer"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"stub-sub","email":"carol@example.com","given_name":"Carol","family_name":"Jones"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	google := oauth.NewResolverWithEndpoints("client-id", "client-secret",
		"https://app.example.com/auth/google/callback",
		oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		srv.URL+"/userinfo")
	e := newTestServer(t, google)

	// State mismatch is rejected before any upstream call.
	rec := doJSON(e, http.MethodGet, "/auth/google/callback?code=c&state=forged", "",
		&http.Cookie{Name: stateCookieName, Value: "expected"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid state: the code is exchanged and a session opens.
	rec = doJSON(e, http.MethodGet, "/auth/google/callback?code=one-time&state=expected", "",
		&http.Cookie{Name: stateCookieName, Value: "expected"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"access_token"`)
	cookie := refreshCookieOf(t, rec)
	assert.NotEmpty(t, cookie.Value)

	// The consumed state cookie is expired in the same response.
	var stateCookie *http.Cookie
	for _, sc := range rec.Result().Cookies() {
		if sc.Name == stateCookieName {
			stateCookie = sc
		}
	}
	require.NotNil(t, stateCookie)
	assert.Empty(t, stateCookie.Value)
	assert.Less(t, stateCookie.MaxAge, 0)

	// The fresh refresh cookie works against /auth/refresh.
	rec = doJSON(e, http.MethodPost, "/auth/refresh", "", cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGoogleCallbackUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "code already redeemed", http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	google := oauth.NewResolverWithEndpoints("client-id", "client-secret",
		"https://app.example.com/auth/google/callback",
		oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		srv.URL+"/userinfo")
	e := newTestServer(t, google)

	rec := doJSON(e, http.MethodGet, "/auth/google/callback?code=burned&state=s", "",
		&http.Cookie{Name: stateCookieName, Value: "s"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
