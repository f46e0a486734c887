package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Cohort construction errors
	ErrEmptyCohort      = errors.New("cohort has no clusters")
	ErrUnknownCluster   = errors.New("observation references unknown cluster")
	ErrDuplicateCluster = errors.New("duplicate cluster id")

	// Model fitting errors
	ErrNonConvergence = errors.New("model fit did not converge")
	ErrDegenerateData = errors.New("degenerate data for model fit")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid run configuration")
)

// NewConfigError builds a configuration error for a single field
func NewConfigError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, field, reason)
}

// NewNonConvergenceError wraps ErrNonConvergence with fit context
func NewNonConvergenceError(family string, iterations int) error {
	return fmt.Errorf("%w: family=%s after %d iterations", ErrNonConvergence, family, iterations)
}

// Error checking helpers
func IsNonConvergence(err error) bool {
	return errors.Is(err, ErrNonConvergence)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
