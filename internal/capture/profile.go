// Package capture acquires a camera stream by trying constraint profiles
// in order of preference.
package capture

import "fmt"

// FacingMode selects which physical camera a profile asks for.
type FacingMode string

const (
	FacingAny         FacingMode = ""
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

// IntRange is a min/ideal/max constraint. Zero fields are unconstrained.
type IntRange struct {
	Min   int `yaml:"min,omitempty"`
	Ideal int `yaml:"ideal,omitempty"`
	Max   int `yaml:"max,omitempty"`
}

// IsZero reports whether the range constrains nothing.
func (r IntRange) IsZero() bool {
	return r.Min == 0 && r.Ideal == 0 && r.Max == 0
}

func (r IntRange) validate(name string) error {
	if r.Min < 0 || r.Ideal < 0 || r.Max < 0 {
		return fmt.Errorf("%s: negative bound", name)
	}
	if r.Max > 0 && r.Min > r.Max {
		return fmt.Errorf("%s: min %d exceeds max %d", name, r.Min, r.Max)
	}
	if r.Ideal > 0 && r.Max > 0 && r.Ideal > r.Max {
		return fmt.Errorf("%s: ideal %d exceeds max %d", name, r.Ideal, r.Max)
	}
	return nil
}

// FloatRange is the frame-rate flavour of IntRange.
type FloatRange struct {
	Min   float32 `yaml:"min,omitempty"`
	Ideal float32 `yaml:"ideal,omitempty"`
	Max   float32 `yaml:"max,omitempty"`
}

// IsZero reports whether the range constrains nothing.
func (r FloatRange) IsZero() bool {
	return r.Min == 0 && r.Ideal == 0 && r.Max == 0
}

func (r FloatRange) validate(name string) error {
	if r.Min < 0 || r.Ideal < 0 || r.Max < 0 {
		return fmt.Errorf("%s: negative bound", name)
	}
	if r.Max > 0 && r.Min > r.Max {
		return fmt.Errorf("%s: min %g exceeds max %g", name, r.Min, r.Max)
	}
	return nil
}

// Profile describes the video a caller would like to receive. A list of
// profiles is ordered from most to least demanding.
type Profile struct {
	Name        string     `yaml:"name"`
	Facing      FacingMode `yaml:"facing,omitempty"`
	FacingExact bool       `yaml:"facing_exact,omitempty"`
	Width       IntRange   `yaml:"width,omitempty"`
	Height      IntRange   `yaml:"height,omitempty"`
	FrameRate   FloatRange `yaml:"frame_rate,omitempty"`
}

// Validate checks that every range in the profile is well formed.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile: missing name")
	}
	switch p.Facing {
	case FacingAny, FacingUser, FacingEnvironment:
	default:
		return fmt.Errorf("profile %q: unknown facing mode %q", p.Name, p.Facing)
	}
	if p.FacingExact && p.Facing == FacingAny {
		return fmt.Errorf("profile %q: facing_exact requires a facing mode", p.Name)
	}
	if err := p.Width.validate("width"); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if err := p.Height.validate("height"); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if err := p.FrameRate.validate("frame_rate"); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	return nil
}

func (p Profile) String() string {
	return p.Name
}
