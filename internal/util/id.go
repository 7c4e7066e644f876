package util

import "github.com/google/uuid"

// NewID returns a new random UUID string for entity and request IDs.
func NewID() string {
	return uuid.NewString()
}
