package model

import "time"

// Role values stored in users.role. Clients train under a programme; coaches
// own client rosters and publish programmes.
const (
	RoleClient = "CLIENT"
	RoleCoach  = "COACH"
)

// Auth provider values stored in users.auth_provider. Local accounts carry a
// password hash; google accounts carry a google_id instead.
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User represents a row of the `users` table. Local registrations must
// supply at least one of Email or Phone; federated accounts have a nil
// PasswordHash and a non-nil GoogleID. Handlers define their own response
// types, so no json tags here.
type User struct {
	ID           uint64    // users.id
	Username     string    // users.username (unique)
	Email        *string   // users.email (nullable, unique)
	Phone        *string   // users.phone (nullable, unique)
	FirstName    string    // users.first_name
	LastName     string    // users.last_name
	PasswordHash *string   // users.password_hash (null for federated accounts)
	Role         string    // users.role (CLIENT | COACH)
	AuthProvider string    // users.auth_provider (local | google)
	GoogleID     *string   // users.google_id (unique together with provider)
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models a row of the `refresh_tokens` table. The raw token
// value handed to the client is never stored; only its SHA-256 hex digest.
// Rows are removed on logout, on expiry detection during validation, or by
// cascade when the owning user is deleted.
type RefreshToken struct {
	ID        uint64    // refresh_tokens.id
	UserID    uint64    // refresh_tokens.user_id (FK users.id, ON DELETE CASCADE)
	TokenHash string    // refresh_tokens.token_hash (SHA-256 hex)
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}
