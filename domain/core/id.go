package core

import (
	"time"

	"github.com/google/uuid"
)

// RunID uniquely identifies one power analysis run
type RunID string

// NewRunID generates a new unique run identifier
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func (id RunID) String() string {
	return string(id)
}

// Timestamp is the canonical time representation for run artifacts
type Timestamp time.Time

// Now returns the current timestamp
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
