// Package service holds the session manager: the state machine behind
// register, login, refresh, logout and federated login. Handlers stay thin;
// every credential decision is made here against the store interfaces.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/peakform/coaching-platform/internal/config"
	"github.com/peakform/coaching-platform/internal/model"
	"github.com/peakform/coaching-platform/internal/oauth"
	"github.com/peakform/coaching-platform/internal/repository"
	"github.com/peakform/coaching-platform/internal/utils"
)

// ErrInvalidCredentials covers both an unknown username and a wrong
// password. The two cases are deliberately indistinguishable so the login
// endpoint cannot be used to enumerate usernames.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrContactRequired is returned when a local registration supplies neither
// an email address nor a phone number.
var ErrContactRequired = errors.New("email or phone required")

// UserStore is the slice of the credential store the session manager needs.
// *repository.UserRepo satisfies it.
type UserStore interface {
	Create(ctx context.Context, nu repository.NewLocalUser) (uint64, error)
	CreateFederated(ctx context.Context, username string, email *string, firstName, lastName, googleID string) (uint64, error)
	GetByUsername(ctx context.Context, username string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	GetByGoogleID(ctx context.Context, googleID string) (model.User, error)
}

// TokenStore is the refresh token store interface. *repository.TokenRepo
// satisfies it.
type TokenStore interface {
	Store(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	Validate(ctx context.Context, tokenHash string) (uint64, error)
	Revoke(ctx context.Context, tokenHash string) error
	DeleteAllForUser(ctx context.Context, userID uint64) error
}

// TokenPair bundles the two credentials issued on successful
// authentication. Refresh.Raw is the only copy of the opaque value; it is
// unrecoverable once handed to the client.
type TokenPair struct {
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// Session orchestrates the credential lifecycle. It is stateless across
// requests; all durable state lives behind the store interfaces.
type Session struct {
	cfg    config.Config
	users  UserStore
	tokens TokenStore
}

func NewSession(cfg config.Config, users UserStore, tokens TokenStore) *Session {
	return &Session{cfg: cfg, users: users, tokens: tokens}
}

// RegisterParams carries a local registration profile plus the plaintext
// password, which is hashed here and never stored or logged.
type RegisterParams struct {
	Username  string
	Password  string
	FirstName string
	LastName  string
	Role      string
	Email     *string
	Phone     *string
}

// Register creates a local account and opens its first session. Duplicate
// username, email or phone surfaces repository.ErrIdentityTaken; a missing
// contact field surfaces ErrContactRequired before any row is written.
func (s *Session) Register(ctx context.Context, p RegisterParams) (model.User, TokenPair, error) {
	if emptyPtr(p.Email) && emptyPtr(p.Phone) {
		return model.User{}, TokenPair{}, ErrContactRequired
	}
	role := strings.ToUpper(strings.TrimSpace(p.Role))
	if role != model.RoleCoach && role != model.RoleClient {
		role = model.RoleClient
	}
	hash, err := utils.HashPassword(p.Password, s.cfg.BcryptCost)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	uid, err := s.users.Create(ctx, repository.NewLocalUser{
		Username:     p.Username,
		Email:        p.Email,
		Phone:        p.Phone,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		PasswordHash: hash,
		Role:         role,
	})
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	u, err := s.users.GetByID(ctx, uid)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// Login verifies a username/password pair and opens an additional session.
// Existing sessions stay valid: refresh tokens are additive per login.
func (s *Session) Login(ctx context.Context, username, password string) (model.User, TokenPair, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrUserNotFound) {
		return model.User{}, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	// Federated-only accounts have no password hash and cannot log in locally.
	if u.PasswordHash == nil || !utils.VerifyPassword(*u.PasswordHash, password) {
		return model.User{}, TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

// Refresh mints a new access token for the user owning a valid refresh
// token. The refresh row is not rotated: the same opaque value stays usable
// until its fixed expiry or an explicit logout.
func (s *Session) Refresh(ctx context.Context, rawRefresh string) (utils.AccessToken, error) {
	userID, err := s.tokens.Validate(ctx, utils.HashRefreshRaw(rawRefresh))
	if err != nil {
		return utils.AccessToken{}, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return utils.AccessToken{}, repository.ErrRefreshInvalid
	}
	if err != nil {
		return utils.AccessToken{}, err
	}
	return utils.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTAlgorithm, u.Username, u.Role, s.cfg.AccessTTLMin)
}

// Logout revokes the session behind a refresh token. Unknown or already
// revoked tokens are not an error; the caller clears its cookie either way.
func (s *Session) Logout(ctx context.Context, rawRefresh string) error {
	if rawRefresh == "" {
		return nil
	}
	return s.tokens.Revoke(ctx, utils.HashRefreshRaw(rawRefresh))
}

// LogoutAllForUsername terminates every session of a user (sign out
// everywhere). An unknown username is treated as already signed out.
func (s *Session) LogoutAllForUsername(ctx context.Context, username string) error {
	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.tokens.DeleteAllForUser(ctx, u.ID)
}

// FederatedLogin reconciles a verified external profile to a local user and
// issues tokens exactly like Login. A first login creates the user; the
// (provider, google_id) unique key guards the create against a concurrent
// first login for the same identity, in which case the loser re-reads the
// winner's row instead of failing.
func (s *Session) FederatedLogin(ctx context.Context, profile oauth.GoogleProfile) (model.User, TokenPair, error) {
	u, err := s.users.GetByGoogleID(ctx, profile.Sub)
	if errors.Is(err, repository.ErrUserNotFound) {
		u, err = s.reconcile(ctx, profile)
	}
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	pair, err := s.issueTokens(ctx, u)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	return u, pair, nil
}

func (s *Session) reconcile(ctx context.Context, profile oauth.GoogleProfile) (model.User, error) {
	var email *string
	if profile.Email != "" {
		e := profile.Email
		email = &e
	}
	for _, username := range usernameCandidates(profile) {
		uid, err := s.users.CreateFederated(ctx, username, email, profile.GivenName, profile.FamilyName, profile.Sub)
		if err == nil {
			return s.users.GetByID(ctx, uid)
		}
		if !errors.Is(err, repository.ErrIdentityTaken) {
			return model.User{}, err
		}
		// Either a concurrent reconciliation of the same identity won, or
		// the derived username is taken by someone else. Re-read by the
		// external id to tell the two apart.
		if u, lookupErr := s.users.GetByGoogleID(ctx, profile.Sub); lookupErr == nil {
			return u, nil
		}
	}
	return model.User{}, repository.ErrIdentityTaken
}

// usernameCandidates derives login names for a first-time federated user:
// the email local part, then suffixed variants from the stable subject id
// when that name is already claimed.
func usernameCandidates(profile oauth.GoogleProfile) []string {
	base := profile.Email
	if i := strings.IndexByte(base, '@'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "g-" + profile.Sub
		return []string{base}
	}
	tail := profile.Sub
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	return []string{base, base + "-" + tail, "g-" + profile.Sub}
}

// issueTokens mints the access token and persists a new refresh session.
// If the refresh row cannot be stored the whole operation fails and no
// access token reaches the caller.
func (s *Session) issueTokens(ctx context.Context, u model.User) (TokenPair, error) {
	access, err := utils.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTAlgorithm, u.Username, u.Role, s.cfg.AccessTTLMin)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshTTLDays)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Store(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func emptyPtr(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
