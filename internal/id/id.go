// Package id generates record identifiers.
package id

import "github.com/google/uuid"

// UUID implements outreach.IDGenerator with random UUIDs.
type UUID struct{}

// NewID returns a new random UUID string.
func (UUID) NewID() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
