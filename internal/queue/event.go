// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into an audit trail.
package queue

// AuthEventQueue is the durable queue carrying account lifecycle events.
const AuthEventQueue = "user.events"

// Kinds of auth events. Kept as plain strings so downstream consumers in
// other languages can match on them without a shared schema package.
const (
	EventUserRegistered = "user.registered"
	EventUserLoggedIn   = "user.logged_in"
)

// AuthEvent is published when an account is created or a session is opened.
// It carries enough for audit logging and analytics without a database
// round-trip, and deliberately never carries credentials or token values.
type AuthEvent struct {
	Kind       string `json:"kind"`        // EventUserRegistered | EventUserLoggedIn
	UserID     uint64 `json:"user_id"`
	Username   string `json:"username"`
	Role       string `json:"role"`        // CLIENT | COACH
	Provider   string `json:"provider"`    // local | google
	OccurredAt string `json:"occurred_at"` // RFC 3339 UTC
}
