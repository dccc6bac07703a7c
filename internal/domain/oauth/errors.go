package oauth

import "errors"

var (
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrInvalidClient indicates an unknown client or redirect mismatch.
	ErrInvalidClient = errors.New("oauth: invalid client")
	// ErrInvalidState is the single opaque failure surfaced for any CSRF
	// state problem; the internal reasons below never reach callers.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrInvalidGrant covers expired, consumed, and mismatched codes and
	// refresh tokens, including replay.
	ErrInvalidGrant = errors.New("oauth: invalid grant")
	// ErrAccessDenied signals that no account matched a verified identity.
	ErrAccessDenied = errors.New("oauth: access denied")
	// ErrInvalidPin is the uniform PIN-flow failure; per-cause detail is
	// logged but never surfaced, to avoid user enumeration.
	ErrInvalidPin = errors.New("oauth: invalid pin")
	// ErrPendingNotFound signals a missing or expired pending-selection
	// token; the flow must be restarted from the previous step.
	ErrPendingNotFound = errors.New("oauth: pending selection not found")
	// ErrTokenInvalid indicates malformed or unverifiable tokens.
	ErrTokenInvalid = errors.New("oauth: token invalid")
	// ErrEmailTaken signals an attempt to bind an email to a second user
	// within the same org.
	ErrEmailTaken = errors.New("oauth: email already registered for org")
)

// Internal CSRF state failure reasons, distinguishable for logging only.
var (
	ErrStateNotFound = errors.New("oauth: state not found")
	ErrStateConsumed = errors.New("oauth: state already consumed")
	ErrStateExpired  = errors.New("oauth: state expired")
)
