package domain

import "errors"

// Entity validation errors, grounded on pkg/agents/errors.go's sentinel-error
// style.
var (
	ErrMissingPersonaID     = errors.New("persona ID is required")
	ErrMissingPersonaHandle = errors.New("persona handle is required")
	ErrInvalidProactivity   = errors.New("persona proactivity must be in [0,1]")
	ErrInvalidMemoryWindow  = errors.New("persona memory_window must be >= 1")
	ErrInvalidMaxAgents     = errors.New("persona max_agents_per_turn must be >= 1")

	ErrMissingAPIProfileID = errors.New("api profile ID is required")
	ErrProfileOwnerMismatch = errors.New("api profile is owned by a different tenant")

	ErrInvalidSessionID = errors.New("session id does not match the expected format")
	ErrSessionOwnerMismatch = errors.New("session id owner token does not match stored owner")
)
