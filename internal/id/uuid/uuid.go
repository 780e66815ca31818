// Package uuid provides ID generation helpers.
package uuid

import "github.com/google/uuid"

// Generator creates UUID strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string, falling back to UUID4 if the
// monotonic source fails.
func (Generator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
