package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUID (v7) string. IDs created later sort
// after earlier ones, which keeps created_at ties in insertion order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
