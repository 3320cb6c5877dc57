// Package domain contains core concepts of the chat hub.
// This file defines the authenticated identity and its live session binding.
// No runtime, network, or storage logic should be added here.
package domain

import "time"

// ConnID identifies one transport-level link to one client process.
// The transport layer owns the connection; the hub only references it.
type ConnID string

// Principal is the authenticated identity bound to a session.
// It is immutable for the duration of a session.
type Principal struct {
	Key     string // stable identity key, unique across users
	Name    string // display name
	Profile map[string]string
}

// Session is the live binding between one connection and one principal.
// At most one Session per principal key, at most one per connection.
type Session struct {
	Conn      ConnID
	Principal Principal
	BoundAt   time.Time
}
