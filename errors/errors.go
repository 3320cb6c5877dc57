package errors

import "fmt"

var (
	// Session taxonomy. None of these is fatal to the process; every
	// failure path leaves registry and gate state consistent.
	ErrAuthFailed   = fmt.Errorf("authentication failed")
	ErrUnauthorized = fmt.Errorf("not signed in")
	ErrAlreadyBound = fmt.Errorf("connection already has a session")
	ErrRateLimited  = fmt.Errorf("assistant cooldown active")
	ErrUpstream     = fmt.Errorf("upstream collaborator failed")

	// Identity store.
	ErrUserAlreadyExists  = fmt.Errorf("user id already taken")
	ErrNicknameTaken      = fmt.Errorf("nickname already taken")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidSignup      = fmt.Errorf("invalid signup request")
	ErrTokenGeneration    = fmt.Errorf("token generation failed")

	// Runtime.
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no censored words have been found")
)
