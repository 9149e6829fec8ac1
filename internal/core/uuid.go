package core

import (
	"github.com/google/uuid"
)

// NewMessageUID generates a correlation id for a task that arrived without one.
func NewMessageUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// IsValidUUID checks if a string is a valid UUID (any version).
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
