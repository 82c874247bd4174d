// Package id provides unique identifier generation for jobs and pipeline runs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// IDs are UUIDv7 so that lexical order follows creation order.
// Example: 01936b2e-7c4a-7b9e-8f3d-2a1c4e5f6a7b
func Generate() string {
	v, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random UUID if the clock source fails
		return uuid.NewString()
	}
	return v.String()
}

// Valid returns true if s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
