// Package scan samples a live video stream on a fixed interval and hands
// frames to a code detector until the first code is decoded.
package scan

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jenojiji/pion-examples/qrscan/internal/detect"
	"github.com/jenojiji/pion-examples/qrscan/internal/metrics"
)

const DefaultInterval = 100 * time.Millisecond

// MaxInFlight caps overlapping detections. Ticks that find the cap
// reached are skipped.
const MaxInFlight = 2

// FrameSource yields the current frame of a stream.
type FrameSource interface {
	Read() (img image.Image, release func(), err error)
}

type Options struct {
	Interval time.Duration
	Formats  []detect.Format
	// MaxConsecutiveFailures escalates transient errors into a fatal
	// DetectionError. Zero never escalates.
	MaxConsecutiveFailures int
	Logger                 zerolog.Logger
}

// Scanner runs one scan. A Scanner is single use.
type Scanner struct {
	src  FrameSource
	det  detect.Detector
	opts Options

	mu     sync.Mutex
	state  State
	result string

	sometimes rate.Sometimes
}

func New(src FrameSource, det detect.Detector, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []detect.Format{detect.FormatQRCode}
	}
	return &Scanner{
		src:       src,
		det:       det,
		opts:      opts,
		sometimes: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the decoded payload, or "" if nothing was decoded.
func (s *Scanner) Result() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Scanner) start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return false
	}
	s.state = Scanning
	return true
}

func (s *Scanner) stop() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

// publish records v and stops the scan. It is a no-op unless scanning.
func (s *Scanner) publish(v string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Scanning {
		return false
	}
	s.result = v
	s.state = Stopped
	return true
}

type tick struct {
	candidates []detect.Candidate
	err        error
}

var errAlreadyRun = errors.New("scanner already run")

// Run samples frames every Interval until a code is decoded, the detector
// fails fatally or ctx is cancelled. It returns the decoded payload; on
// cancellation it returns "" and a nil error. Run waits for in-flight
// detections before returning.
func (s *Scanner) Run(ctx context.Context) (string, error) {
	if !s.start() {
		return "", errAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.stop()
	}()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	ticks := make(chan tick)
	inflight := make(chan struct{}, MaxInFlight)
	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.opts.Logger.Debug().Msg("scan cancelled")
			return "", nil

		case <-ticker.C:
			select {
			case inflight <- struct{}{}:
			default:
				metrics.IncDetectionTick("skipped")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.sample(ctx, ticks)
				<-inflight
			}()

		case t := <-ticks:
			if t.err != nil {
				metrics.IncDetectionTick("error")
				if errors.Is(t.err, detect.ErrUnusable) {
					return "", &DetectionError{Failures: failures + 1, Err: t.err}
				}
				failures++
				if limit := s.opts.MaxConsecutiveFailures; limit > 0 && failures >= limit {
					return "", &DetectionError{Failures: failures, Err: t.err}
				}
				s.sometimes.Do(func() {
					s.opts.Logger.Warn().Err(t.err).Int("consecutive", failures).Msg("detection failed, continuing")
				})
				continue
			}
			failures = 0
			if len(t.candidates) == 0 {
				metrics.IncDetectionTick("empty")
				continue
			}
			metrics.IncDetectionTick("decoded")
			v := t.candidates[0].RawValue
			if s.publish(v) {
				metrics.DecodesTotal.Inc()
				s.opts.Logger.Info().Int("candidates", len(t.candidates)).Msg("code decoded")
			}
			return s.Result(), nil
		}
	}
}

// sample runs on its own goroutine so a slow detection never delays the
// next tick. Results that arrive after the loop has exited are dropped.
func (s *Scanner) sample(ctx context.Context, out chan<- tick) {
	var t tick
	img, release, err := s.src.Read()
	if err != nil {
		t.err = err
	} else {
		t.candidates, t.err = s.det.Detect(ctx, img, s.opts.Formats)
		if release != nil {
			release()
		}
	}

	select {
	case out <- t:
	case <-ctx.Done():
	}
}
