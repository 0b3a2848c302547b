package scraper

import "errors"

// Sentinel errors shared across subsystems. Handlers map these onto HTTP
// status codes; the queue maps ErrInfrastructure onto its retry policy.
var (
	// ErrValidation indicates bad caller input (malformed IP, unknown job type).
	ErrValidation = errors.New("validation error")
	// ErrNotFound indicates an unknown job, mapping or store id.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a duplicate active mapping or a bad state transition.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited indicates rejection by the security gate.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInfrastructure indicates an environmental failure (browser crash,
	// network outage). Jobs failing with it re-enter the queue per the retry
	// policy.
	ErrInfrastructure = errors.New("infrastructure error")
)
