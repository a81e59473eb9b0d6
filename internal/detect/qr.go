package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi/qrcode"
)

// QRDetector decodes QR codes with gozxing. It is safe for concurrent use.
type QRDetector struct {
	// TryHarder trades speed for accuracy on blurry frames.
	TryHarder bool
}

var errNilFrame = errors.New("nil frame")

func (d *QRDetector) hints() map[gozxing.DecodeHintType]interface{} {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_QR_CODE},
	}
	if d.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return hints
}

// Detect implements Detector.
func (d *QRDetector) Detect(ctx context.Context, frame image.Image, formats []Format) ([]Candidate, error) {
	if !slices.Contains(formats, FormatQRCode) {
		return nil, fmt.Errorf("formats %v: %w", formats, ErrUnusable)
	}
	if frame == nil {
		return nil, errNilFrame
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return nil, fmt.Errorf("binarize frame: %w", err)
	}

	// readers keep per-decode state, so each call gets its own
	results, err := qrcode.NewQRCodeMultiReader().DecodeMultiple(bmp, d.hints())
	if err != nil {
		if noCode(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		out = append(out, Candidate{RawValue: r.GetText(), Format: FormatQRCode})
	}
	return out, nil
}

func noCode(err error) bool {
	var (
		notFound gozxing.NotFoundException
		checksum gozxing.ChecksumException
		format   gozxing.FormatException
	)
	return errors.As(err, &notFound) || errors.As(err, &checksum) || errors.As(err, &format)
}
