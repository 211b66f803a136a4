// Package common defines shared constants and sentinel errors used across
// the accessor, its stores and the bootstrap code. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrorNotFound         = errors.New("not found")
	ErrorUnauthorized     = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Credential errors, detected locally before any backend call.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Accessor-level errors.
	ErrInvalidUserID       = errors.New("invalid user id")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientCredits = errors.New("insufficient credits")
)
