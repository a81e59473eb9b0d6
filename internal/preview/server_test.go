package preview

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jenojiji/pion-examples/qrscan/internal/capture"
	"github.com/jenojiji/pion-examples/qrscan/internal/pipeline"
	"github.com/jenojiji/pion-examples/qrscan/internal/scan"
)

type stateMessage struct {
	Type string `json:"type"`
	Data struct {
		State   string `json:"state"`
		Result  string `json:"result"`
		Profile string `json:"profile"`
	} `json:"data"`
}

func newTestServer(t *testing.T, maxViewers int) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Config{MaxViewers: maxViewers, Logger: zerolog.Nop()})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.CloseViewers()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) stateMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg stateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, typeState, msg.Type)
	return msg
}

func TestServer_PushesState(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)

	first := readState(t, conn)
	assert.Equal(t, "idle", first.Data.State)

	s.Broadcast(pipeline.Snapshot{State: scan.Scanning, Profile: "low-res"})
	next := readState(t, conn)
	assert.Equal(t, "scanning", next.Data.State)
	assert.Equal(t, "low-res", next.Data.Profile)

	s.Broadcast(pipeline.Snapshot{State: scan.Stopped, Result: "ABC123"})
	last := readState(t, conn)
	assert.Equal(t, "ABC123", last.Data.Result)
}

func TestServer_Watch(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	readState(t, conn)

	updates := make(chan pipeline.Snapshot, 1)
	updates <- pipeline.Snapshot{State: scan.Stopped, Result: "hello"}
	close(updates)
	s.Watch(t.Context(), updates)

	assert.Equal(t, "hello", readState(t, conn).Data.Result)
}

func TestServer_StateEndpoint(t *testing.T) {
	s, ts := newTestServer(t, 0)
	s.Broadcast(pipeline.Snapshot{State: scan.Stopped, Err: "camera not accessible"})

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "stopped", body["state"])
	assert.Equal(t, "camera not accessible", body["error"])
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RoomFull(t *testing.T) {
	_, ts := newTestServer(t, 1)
	first := dial(t, ts)
	readState(t, first)

	second := dial(t, ts)
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
}

type plainTrack struct{}

func (plainTrack) ID() string   { return "fake" }
func (plainTrack) Close() error { return nil }

func TestServer_AttachIgnoresNonWebRTCTracks(t *testing.T) {
	s, _ := newTestServer(t, 0)
	sess := capture.NewSession(capture.Profile{Name: "low-res"}, plainTrack{})

	require.NoError(t, s.Attach(sess))
	assert.Empty(t, s.tracks)
	s.Detach()
}

func TestViewer_QueuesEarlyCandidates(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	readState(t, conn)

	viewers := s.room.All()
	require.Len(t, viewers, 1)
	v := viewers[0]

	raw, err := json.Marshal(MessageOut{Type: typeICE, Data: map[string]any{
		"candidate": "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host",
	}})
	require.NoError(t, err)
	require.NoError(t, v.handleSignal(raw))

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.Len(t, v.pending, 1)
}

func TestViewer_RejectsGarbage(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	readState(t, conn)

	v := s.room.All()[0]
	assert.Error(t, v.handleSignal([]byte("{")))
	assert.NoError(t, v.handleSignal([]byte(`{"type":"bye","data":null}`)))
}

type sampleTrack struct {
	*webrtc.TrackLocalStaticSample
}

func (t sampleTrack) Close() error                  { return nil }
func (t sampleTrack) TrackLocal() webrtc.TrackLocal { return t.TrackLocalStaticSample }

// readOffer skips candidates and state pushes until the next offer.
func readOffer(t *testing.T, conn *websocket.Conn) webrtc.SessionDescription {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != typeOffer {
			continue
		}
		var sdp webrtc.SessionDescription
		require.NoError(t, json.Unmarshal(msg.Data, &sdp))
		return sdp
	}
}

func TestServer_DetachRenegotiates(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	readState(t, conn)

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "qrscan")
	require.NoError(t, err)
	sess := capture.NewSession(capture.Profile{Name: "low-res"}, sampleTrack{local})

	require.NoError(t, s.Attach(sess))
	attached := readOffer(t, conn)
	assert.Contains(t, attached.SDP, "a=sendonly")

	s.Detach()
	detached := readOffer(t, conn)
	assert.Equal(t, webrtc.SDPTypeOffer, detached.Type)
	assert.Contains(t, detached.SDP, "a=inactive")
	assert.NotContains(t, detached.SDP, "a=sendonly")

	v := s.room.All()[0]
	v.mu.Lock()
	assert.Empty(t, v.senders)
	v.mu.Unlock()

	// nothing left to remove, so no further offer
	require.NoError(t, v.removeTracks())
}
