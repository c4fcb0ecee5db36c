package id

import "github.com/google/uuid"

// New returns a random UUIDv4 string used for jobs, scratch files and object keys.
func New() string {
	return uuid.NewString()
}
