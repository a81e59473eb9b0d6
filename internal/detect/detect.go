// Package detect finds optical codes in video frames.
package detect

import (
	"context"
	"errors"
	"image"
)

// Format is a symbology the detector can be asked to recognise.
type Format string

const FormatQRCode Format = "qr_code"

// Candidate is one decoded code.
type Candidate struct {
	RawValue string
	Format   Format
}

// Detector recognises codes in a frame. An empty result with a nil error
// means nothing was found. Errors wrapping ErrUnusable mean the detector
// will not work on later frames either.
type Detector interface {
	Detect(ctx context.Context, frame image.Image, formats []Format) ([]Candidate, error)
}

// ErrUnusable marks a detector failure that retrying cannot fix.
var ErrUnusable = errors.New("detector unusable")

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, frame image.Image, formats []Format) ([]Candidate, error)

func (f DetectorFunc) Detect(ctx context.Context, frame image.Image, formats []Format) ([]Candidate, error) {
	return f(ctx, frame, formats)
}
