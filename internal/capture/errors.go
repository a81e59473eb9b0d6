package capture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOverconstrained is returned by a Camera when no device can
	// satisfy a profile. The negotiator moves on to the next profile.
	ErrOverconstrained = errors.New("constraints not satisfiable by any device")

	// ErrExhausted is wrapped by ExhaustedError.
	ErrExhausted = errors.New("camera not accessible with specified constraints")

	ErrNoProfiles = errors.New("no constraint profiles configured")
)

// Outcome tags the result of one access attempt.
type Outcome int

const (
	Acquired Outcome = iota
	Retriable
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Retriable:
		return "retriable"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Classify maps a Camera.Open error onto an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Acquired
	case errors.Is(err, ErrOverconstrained):
		return Retriable
	default:
		return Fatal
	}
}

// ExhaustedError reports that every profile was overconstrained.
type ExhaustedError struct {
	Attempted []string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s (tried %s)", ErrExhausted.Error(), strings.Join(e.Attempted, ", "))
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// AccessError is a non-retriable failure while opening a profile, such as
// a permission denial or a device fault.
type AccessError struct {
	Profile string
	Err     error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("camera not accessible (profile %s): %v", e.Profile, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }
