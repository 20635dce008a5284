package models

// Caller is the identity attached to a request after authentication. The
// engine assumes the caller is already authorized for the group it names.
type Caller struct {
	// UserID is the authenticated user.
	UserID string

	// Email is informational; it appears in logs only.
	Email string
}
