package capture

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Track is one live hardware track of a session.
type Track interface {
	ID() string
	Close() error
}

// FrameReader yields decoded frames. The returned release func must be
// called once the frame is no longer used.
type FrameReader interface {
	Read() (img image.Image, release func(), err error)
}

// VideoTrack is a Track that can be sampled.
type VideoTrack interface {
	Track
	NewFrameReader() FrameReader
}

// Session is the live handle to an acquired camera stream. It is owned by
// a single pipeline and must be stopped exactly once.
type Session struct {
	id      string
	profile Profile
	tracks  []Track

	readerOnce sync.Once
	readMu     sync.Mutex
	reader     FrameReader

	stopOnce sync.Once
	stopErr  error
	stopped  atomic.Bool
}

// NewSession binds tracks acquired under profile.
func NewSession(profile Profile, tracks ...Track) *Session {
	return &Session{
		id:      uuid.NewString(),
		profile: profile,
		tracks:  tracks,
	}
}

func (s *Session) ID() string { return s.id }

// Profile returns the profile the session was acquired with.
func (s *Session) Profile() Profile { return s.profile }

// Tracks returns the session's tracks. The slice must not be modified.
func (s *Session) Tracks() []Track { return s.tracks }

// Stopped reports whether Stop has run.
func (s *Session) Stopped() bool { return s.stopped.Load() }

// Read samples the current frame of the first video track. Concurrent
// callers are served one at a time.
func (s *Session) Read() (image.Image, func(), error) {
	if s.stopped.Load() {
		return nil, nil, ErrSessionStopped
	}
	s.readerOnce.Do(func() {
		for _, t := range s.tracks {
			if vt, ok := t.(VideoTrack); ok {
				s.reader = vt.NewFrameReader()
				return
			}
		}
	})
	if s.reader == nil {
		return nil, nil, ErrNoVideoTrack
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	return s.reader.Read()
}

// Stop closes every track. Only the first call does any work; later calls
// return the first call's result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		var errs []error
		for _, t := range s.tracks {
			if err := t.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	return s.stopErr
}

var (
	ErrSessionStopped = errors.New("capture session stopped")
	ErrNoVideoTrack   = errors.New("capture session has no video track")
)
