package scan

import "fmt"

// State is the scan loop's position. It only moves forward:
// Idle -> Scanning -> Stopped.
type State int32

const (
	Idle State = iota
	Scanning
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DetectionError stops the loop when the detector is unusable or keeps failing.
type DetectionError struct {
	Failures int
	Err      error
}

func (e *DetectionError) Error() string {
	if e.Failures > 1 {
		return fmt.Sprintf("code detection failed %d times in a row: %v", e.Failures, e.Err)
	}
	return fmt.Sprintf("code detection failed: %v", e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }
