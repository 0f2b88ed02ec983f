// Package repository implements record storage for users and refresh tokens
// on top of database/sql. Sentinel errors let the service layer distinguish
// failure modes without inspecting driver-specific error strings.
package repository

import "errors"

// ErrIdentityTaken is returned when an insert collides with an existing
// username, email, phone or federated identity. The service layer maps it
// to a generic HTTP 409 without disclosing which field conflicted.
var ErrIdentityTaken = errors.New("identity already taken")

// ErrUserNotFound is returned by lookups that match no row.
var ErrUserNotFound = errors.New("user not found")

// ErrRefreshInvalid is returned when a presented refresh token matches no
// stored hash. Clients see the same 401 as for an expired token.
var ErrRefreshInvalid = errors.New("refresh token invalid")

// ErrRefreshExpired is returned when a matching refresh token row exists but
// its expiry has passed. The row is deleted as part of the same validation
// transaction before this error is returned.
var ErrRefreshExpired = errors.New("refresh token expired")
