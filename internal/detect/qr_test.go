package detect

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrFrame(t *testing.T, payload string) image.Image {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, 320, 320, nil)
	require.NoError(t, err)

	// paste onto a larger frame, the way a camera would see it
	frame := image.NewGray(image.Rect(0, 0, 640, 480))
	draw.Draw(frame, frame.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(frame, matrix.Bounds().Add(image.Pt(160, 80)), matrix, image.Point{}, draw.Src)
	return frame
}

func TestQRDetector_Decodes(t *testing.T) {
	d := &QRDetector{TryHarder: true}

	got, err := d.Detect(context.Background(), qrFrame(t, "ABC123"), []Format{FormatQRCode})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ABC123", got[0].RawValue)
	assert.Equal(t, FormatQRCode, got[0].Format)
}

func TestQRDetector_EmptyFrame(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 320, 240))
	got, err := (&QRDetector{}).Detect(context.Background(), frame, []Format{FormatQRCode})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQRDetector_UnsupportedFormat(t *testing.T) {
	_, err := (&QRDetector{}).Detect(context.Background(), qrFrame(t, "x"), []Format{"ean_13"})
	assert.ErrorIs(t, err, ErrUnusable)
}

func TestQRDetector_NilFrame(t *testing.T) {
	_, err := (&QRDetector{}).Detect(context.Background(), nil, []Format{FormatQRCode})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnusable)
}
