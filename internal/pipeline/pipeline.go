// Package pipeline ties camera negotiation and the scan loop to a single
// acquire/release cycle.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
	"github.com/jenojiji/pion-examples/qrscan/internal/detect"
	"github.com/jenojiji/pion-examples/qrscan/internal/metrics"
	"github.com/jenojiji/pion-examples/qrscan/internal/scan"
)

// Surface presents the live stream. Rendering is up to the implementation.
// Detach may be called more than once and must leave nothing attached.
type Surface interface {
	Attach(*capture.Session) error
	Detach()
}

// NopSurface renders nothing.
type NopSurface struct{}

func (NopSurface) Attach(*capture.Session) error { return nil }
func (NopSurface) Detach()                       {}

var (
	ErrAlreadyRun = errors.New("pipeline already run")
	ErrClosed     = errors.New("pipeline closed")
)

type Options struct {
	Profiles []capture.Profile
	Scan     scan.Options
	// NegotiateTimeout bounds camera acquisition; zero waits indefinitely,
	// e.g. for a permission prompt.
	NegotiateTimeout time.Duration
	Surface          Surface
	Logger           zerolog.Logger
}

// Pipeline negotiates a camera once, scans it until the first code is
// decoded and releases the camera exactly once.
type Pipeline struct {
	camera capture.Camera
	det    detect.Detector
	opts   Options

	mu      sync.Mutex
	st      state
	started bool
	closed  bool
	cancel  context.CancelFunc
	session *capture.Session
	done    chan struct{}

	teardownOnce sync.Once
	teardownErr  error
}

func New(camera capture.Camera, det detect.Detector, opts Options) *Pipeline {
	if opts.Surface == nil {
		opts.Surface = NopSurface{}
	}
	return &Pipeline{
		camera: camera,
		det:    det,
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Snapshot returns the current observable state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.st.snap
}

// Subscribe delivers the current snapshot and every later change. Slow
// readers only miss intermediate snapshots. The channel is closed when the
// pipeline finishes or when cancel is called.
func (p *Pipeline) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, id := p.st.subscribe()
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.st.unsubscribe(id)
	}
}

// Done is closed once Run has returned.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) update(fn func(*Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.st.update(fn)
}

func (p *Pipeline) fail(err error) {
	p.update(func(s *Snapshot) {
		if s.Err == "" && s.Result == "" {
			s.Err = err.Error()
		}
	})
}

// Run negotiates the camera, scans until a code is decoded, a fatal error
// occurs or ctx ends, then tears down. It returns the decoded payload, or
// "" and nil when cancelled first.
func (p *Pipeline) Run(ctx context.Context) (string, error) {
	p.mu.Lock()
	switch {
	case p.started:
		p.mu.Unlock()
		return "", ErrAlreadyRun
	case p.closed:
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	logger := p.opts.Logger
	defer func() {
		if err := p.teardown(); err != nil {
			logger.Warn().Err(err).Msg("stopping camera tracks")
		}
		p.mu.Lock()
		p.st.finish()
		p.mu.Unlock()
		close(p.done)
	}()

	sess, err := p.negotiate(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			logger.Debug().Msg("torn down during negotiation")
			return "", nil
		}
		p.fail(err)
		return "", err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = sess.Stop()
		return "", nil
	}
	p.session = sess
	p.mu.Unlock()
	metrics.SessionsActive.Inc()

	logger = logger.With().Str("session_id", sess.ID()).Str("profile", sess.Profile().Name).Logger()
	if err := p.opts.Surface.Attach(sess); err != nil {
		logger.Warn().Err(err).Msg("attach video surface")
	}
	// teardown may have detached before Attach ran
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.opts.Surface.Detach()
		return "", nil
	}

	scanOpts := p.opts.Scan
	scanOpts.Logger = logger
	scanner := scan.New(sess, p.det, scanOpts)
	p.update(func(s *Snapshot) {
		s.State = scan.Scanning
		s.Profile = sess.Profile().Name
		s.SessionID = sess.ID()
	})
	logger.Info().Dur("interval", scanOpts.Interval).Msg("scanning")

	v, err := scanner.Run(ctx)
	switch {
	case err != nil:
		p.fail(err)
		p.update(func(s *Snapshot) { s.State = scan.Stopped })
		return "", err
	case v != "":
		p.update(func(s *Snapshot) {
			if s.Result == "" {
				s.Result = v
			}
			s.State = scan.Stopped
		})
		return v, nil
	default:
		return "", nil
	}
}

func (p *Pipeline) negotiate(ctx context.Context) (*capture.Session, error) {
	if p.opts.NegotiateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.NegotiateTimeout)
		defer cancel()
	}
	return capture.NewNegotiator(p.camera, p.opts.Logger).Negotiate(ctx, p.opts.Profiles)
}

// teardown cancels scanning and releases the camera. Only the first call
// does any work.
func (p *Pipeline) teardown() error {
	p.teardownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		cancel, sess := p.cancel, p.session
		p.st.update(func(s *Snapshot) { s.State = scan.Stopped })
		if !p.started {
			// Run will refuse to start, so nothing else closes subscribers
			p.st.finish()
		}
		p.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if sess == nil {
			return
		}
		p.opts.Surface.Detach()
		p.teardownErr = sess.Stop()
		metrics.SessionsActive.Dec()
		p.opts.Logger.Info().Str("session_id", sess.ID()).Msg("camera released")
	})
	return p.teardownErr
}

// Close tears the pipeline down and waits for Run to return. It is safe to
// call at any point and more than once.
func (p *Pipeline) Close() error {
	err := p.teardown()
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		<-p.done
	}
	return err
}
