// Package preview serves the live camera to browsers over WebRTC and
// pushes the scanner's state alongside it.
package preview

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
	"github.com/jenojiji/pion-examples/qrscan/internal/metrics"
	"github.com/jenojiji/pion-examples/qrscan/internal/pipeline"
)

type Config struct {
	// Codec must be the selector the camera was opened with. Nil registers
	// pion's default codecs, which only suits state-only viewers.
	Codec      *mediadevices.CodecSelector
	MaxViewers int
	ICEServers []webrtc.ICEServer
	Logger     zerolog.Logger
}

// Server is a pipeline.Surface that renders to remote browsers.
type Server struct {
	api    *webrtc.API
	config webrtc.Configuration
	room   *Room
	logger zerolog.Logger

	mu     sync.Mutex
	tracks []webrtc.TrackLocal
	latest pipeline.Snapshot
}

var _ pipeline.Surface = (*Server)(nil)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func New(cfg Config) (*Server, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.Codec != nil {
		cfg.Codec.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	return &Server{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		config: webrtc.Configuration{ICEServers: cfg.ICEServers},
		room:   NewRoom(cfg.MaxViewers),
		logger: cfg.Logger,
	}, nil
}

// Handler routes /ws, /state and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.HandleWS)
	r.Get("/state", s.handleState)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Attach offers the session's tracks to every viewer, current and future.
func (s *Server) Attach(sess *capture.Session) error {
	var tracks []webrtc.TrackLocal
	for _, t := range sess.Tracks() {
		if lt, ok := t.(capture.LocalTrack); ok {
			tracks = append(tracks, lt.TrackLocal())
		}
	}

	s.mu.Lock()
	s.tracks = tracks
	viewers := s.room.All()
	s.mu.Unlock()

	var errs []error
	for _, v := range viewers {
		if err := v.addTracks(tracks); err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info().Int("tracks", len(tracks)).Int("viewers", len(viewers)).Msg("stream attached")
	return errors.Join(errs...)
}

func (s *Server) Detach() {
	s.mu.Lock()
	s.tracks = nil
	viewers := s.room.All()
	s.mu.Unlock()

	for _, v := range viewers {
		if err := v.removeTracks(); err != nil {
			v.logger.Debug().Err(err).Msg("renegotiating after detach")
		}
	}
}

// Broadcast pushes a state snapshot to every viewer.
func (s *Server) Broadcast(snap pipeline.Snapshot) {
	s.mu.Lock()
	s.latest = snap
	viewers := s.room.All()
	s.mu.Unlock()

	for _, v := range viewers {
		if err := v.send(typeState, snap); err != nil {
			v.logger.Debug().Err(err).Msg("sending state")
		}
	}
}

// Watch broadcasts every snapshot from updates until it closes or ctx ends.
func (s *Server) Watch(ctx context.Context, updates <-chan pipeline.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			s.Broadcast(snap)
		}
	}
}

// CloseViewers disconnects every viewer. http.Server.Shutdown does not
// touch hijacked connections.
func (s *Server) CloseViewers() {
	for _, v := range s.room.All() {
		v.Close()
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	snap := s.latest
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.Debug().Err(err).Msg("writing state")
	}
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	pc, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		s.logger.Warn().Err(err).Msg("creating peer connection")
		_ = conn.Close()
		return
	}
	v := newViewer(conn, pc, s.logger)

	s.mu.Lock()
	err = s.room.Add(v)
	tracks := slices.Clone(s.tracks)
	latest := s.latest
	s.mu.Unlock()
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		v.Close()
		return
	}

	metrics.PreviewViewers.Inc()
	v.logger.Info().Msg("viewer connected")
	defer func() {
		s.room.Remove(v.ID)
		metrics.PreviewViewers.Dec()
		v.Close()
		v.logger.Info().Msg("viewer disconnected")
	}()

	if err := v.send(typeState, latest); err != nil {
		return
	}
	if err := v.addTracks(tracks); err != nil {
		v.logger.Warn().Err(err).Msg("offering stream")
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := v.handleSignal(msg); err != nil {
			v.logger.Warn().Err(err).Msg("handling signal")
		}
	}
}
