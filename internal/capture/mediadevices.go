package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	// registers the V4L2/AVFoundation camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/camera"
)

// mediadevices does not export its "no driver fits" error.
const noDriverFits = "fits the constraints"

// DeviceCamera opens local cameras through pion/mediadevices.
type DeviceCamera struct {
	// Devices maps a facing mode onto a device ID from EnumerateDevices.
	Devices map[FacingMode]string
	// Codec, when set, lets the tracks be added to a WebRTC peer connection.
	Codec  *mediadevices.CodecSelector
	Logger zerolog.Logger
}

// DeviceInfo describes a video input.
type DeviceInfo struct {
	ID    string
	Label string
}

// Devices lists the available video inputs.
func Devices() []DeviceInfo {
	var out []DeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		out = append(out, DeviceInfo{ID: d.DeviceID, Label: d.Label})
	}
	return out
}

func intConstraint(r IntRange) prop.IntConstraint {
	if r.Min == 0 && r.Max == 0 {
		return prop.Int(r.Ideal)
	}
	hi := r.Max
	if hi == 0 {
		hi = math.MaxInt32
	}
	return prop.IntRanged{Min: r.Min, Ideal: r.Ideal, Max: hi}
}

func floatConstraint(r FloatRange) prop.FloatConstraint {
	if r.Min == 0 && r.Max == 0 {
		return prop.Float(r.Ideal)
	}
	hi := r.Max
	if hi == 0 {
		hi = math.MaxFloat32
	}
	return prop.FloatRanged{Min: r.Min, Ideal: r.Ideal, Max: hi}
}

func (c *DeviceCamera) constraints(p Profile) (mediadevices.MediaStreamConstraints, error) {
	var deviceID string
	if p.Facing != FacingAny {
		id, ok := c.Devices[p.Facing]
		if !ok && p.FacingExact {
			return mediadevices.MediaStreamConstraints{},
				fmt.Errorf("no %s-facing device configured: %w", p.Facing, ErrOverconstrained)
		}
		deviceID = id
	}

	return mediadevices.MediaStreamConstraints{
		Video: func(mtc *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				if p.FacingExact {
					mtc.DeviceID = prop.StringExact(deviceID)
				} else {
					mtc.DeviceID = prop.String(deviceID)
				}
			}
			if !p.Width.IsZero() {
				mtc.Width = intConstraint(p.Width)
			}
			if !p.Height.IsZero() {
				mtc.Height = intConstraint(p.Height)
			}
			if !p.FrameRate.IsZero() {
				mtc.FrameRate = floatConstraint(p.FrameRate)
			}
		},
		Codec: c.Codec,
	}, nil
}

// Open implements Camera. GetUserMedia cannot be interrupted, so when ctx
// ends first the late stream is closed as soon as it arrives.
func (c *DeviceCamera) Open(ctx context.Context, p Profile) (*Session, error) {
	msc, err := c.constraints(p)
	if err != nil {
		return nil, err
	}

	c.Logger.Debug().Str("profile", p.Name).Str("facing", string(p.Facing)).Msg("requesting camera")

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(msc)
		done <- result{stream: stream, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classifyOpenErr(res.err)
		}
		return c.bind(p, res.stream)
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				for _, t := range res.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

// classifyOpenErr marks GetUserMedia's "no driver fits" failure as
// ErrOverconstrained so the negotiator moves on to the next profile.
// Every other error is returned as is.
func classifyOpenErr(err error) error {
	if err == nil || errors.Is(err, ErrOverconstrained) {
		return err
	}
	if strings.Contains(err.Error(), noDriverFits) {
		return fmt.Errorf("%w: %w", err, ErrOverconstrained)
	}
	return err
}

func (c *DeviceCamera) bind(p Profile, stream mediadevices.MediaStream) (*Session, error) {
	var tracks []Track
	for _, t := range stream.GetTracks() {
		if vt, ok := t.(*mediadevices.VideoTrack); ok {
			tracks = append(tracks, videoTrack{vt})
			continue
		}
		tracks = append(tracks, track{t})
	}
	if len(stream.GetVideoTracks()) == 0 {
		for _, t := range tracks {
			_ = t.Close()
		}
		return nil, ErrNoVideoTrack
	}
	return NewSession(p, tracks...), nil
}

// LocalTrack is implemented by tracks that can be sent over WebRTC.
type LocalTrack interface {
	TrackLocal() webrtc.TrackLocal
}

type track struct {
	mediadevices.Track
}

func (t track) TrackLocal() webrtc.TrackLocal { return t.Track }

type videoTrack struct {
	*mediadevices.VideoTrack
}

func (t videoTrack) NewFrameReader() FrameReader { return t.NewReader(false) }

func (t videoTrack) TrackLocal() webrtc.TrackLocal { return t.VideoTrack }
