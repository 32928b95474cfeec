package domain

import "github.com/google/uuid"

// MustNewID mints a random identifier for entities that do not encode an
// owner (messages, API profiles). Panics only on an exhausted entropy
// source, which uuid.NewString treats as unrecoverable.
func MustNewID() string {
	return uuid.NewString()
}
