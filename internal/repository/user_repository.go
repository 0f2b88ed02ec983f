package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/peakform/coaching-platform/internal/model"
)

const userColumns = "id,username,email,phone,first_name,last_name,password_hash,role,auth_provider,google_id,created_at,updated_at"

// UserRepo persists user identity records.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NewLocalUser captures the fields needed to insert a local account. The
// password hash must already be computed; this layer never sees plaintext.
type NewLocalUser struct {
	Username     string
	Email        *string
	Phone        *string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         string
}

// Create inserts a local user and returns its id. A duplicate username,
// email or phone maps to ErrIdentityTaken.
func (r *UserRepo) Create(ctx context.Context, nu NewLocalUser) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username,email,phone,first_name,last_name,password_hash,role,auth_provider) VALUES (?,?,?,?,?,?,?,?)",
		strings.TrimSpace(nu.Username), normalizeEmail(nu.Email), nu.Phone,
		nu.FirstName, nu.LastName, nu.PasswordHash, nu.Role, model.ProviderLocal)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// CreateFederated inserts a user reconciled from an external identity
// provider. PasswordHash stays NULL; the (auth_provider, google_id) unique
// key guards concurrent first logins, so a duplicate-key error here means
// another request won the race and the caller should re-read.
func (r *UserRepo) CreateFederated(ctx context.Context, username string, email *string, firstName, lastName, googleID string) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username,email,first_name,last_name,role,auth_provider,google_id) VALUES (?,?,?,?,?,?,?)",
		strings.TrimSpace(username), normalizeEmail(email),
		firstName, lastName, model.RoleClient, model.ProviderGoogle, googleID)
	if err != nil {
		return 0, mapDuplicate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1", username)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
}

// GetByGoogleID fetches the local user reconciled to a Google subject id.
func (r *UserRepo) GetByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	return r.getOne(ctx,
		"SELECT "+userColumns+" FROM users WHERE auth_provider=? AND google_id=? LIMIT 1",
		model.ProviderGoogle, googleID)
}

func (r *UserRepo) getOne(ctx context.Context, query string, args ...any) (model.User, error) {
	var (
		u        model.User
		email    sql.NullString
		phone    sql.NullString
		pwHash   sql.NullString
		googleID sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(
		&u.ID, &u.Username, &email, &phone, &u.FirstName, &u.LastName,
		&pwHash, &u.Role, &u.AuthProvider, &googleID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, err
	}
	u.Email = nullable(email)
	u.Phone = nullable(phone)
	u.PasswordHash = nullable(pwHash)
	u.GoogleID = nullable(googleID)
	return u, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*email))
	if v == "" {
		return nil
	}
	return &v
}

// mapDuplicate converts MySQL error 1062 (duplicate entry for a unique key)
// into ErrIdentityTaken and passes everything else through.
func mapDuplicate(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrIdentityTaken
	}
	return err
}
