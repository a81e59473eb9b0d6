package preview

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Viewer is one connected browser: its socket and its peer connection.
type Viewer struct {
	ID   string
	Conn *websocket.Conn
	PC   *webrtc.PeerConnection

	logger    zerolog.Logger
	clientMux sync.Mutex

	mu      sync.Mutex
	senders []*webrtc.RTPSender
	pending []webrtc.ICECandidateInit
}

func newViewer(conn *websocket.Conn, pc *webrtc.PeerConnection, logger zerolog.Logger) *Viewer {
	id := uuid.NewString()
	v := &Viewer{
		ID:     id,
		Conn:   conn,
		PC:     pc,
		logger: logger.With().Str("viewer_id", id).Logger(),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if err := v.send(typeICE, c.ToJSON()); err != nil {
			v.logger.Debug().Err(err).Msg("sending ice candidate")
		}
	})

	pc.OnConnectionStateChange(func(pcs webrtc.PeerConnectionState) {
		v.logger.Debug().Str("state", pcs.String()).Msg("peer connection state changed")
	})
	return v
}

// send writes one message. gorilla/websocket allows a single writer.
func (v *Viewer) send(typ string, data any) error {
	msg, err := json.Marshal(MessageOut{Type: typ, Data: data})
	if err != nil {
		return err
	}
	v.clientMux.Lock()
	defer v.clientMux.Unlock()
	return v.Conn.WriteMessage(websocket.TextMessage, msg)
}

// addTracks adds every track sendonly and offers the new session.
func (v *Viewer) addTracks(tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 {
		return nil
	}
	v.mu.Lock()
	for _, track := range tracks {
		tr, err := v.PC.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendonly,
		})
		if err != nil {
			v.mu.Unlock()
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		v.senders = append(v.senders, tr.Sender())
		go v.readRTCP(tr.Sender())
	}
	v.mu.Unlock()
	return v.offer()
}

// removeTracks stops every sender and offers the now inactive
// transceivers so the viewer drops the stream.
func (v *Viewer) removeTracks() error {
	v.mu.Lock()
	senders := v.senders
	v.senders = nil
	v.mu.Unlock()

	if len(senders) == 0 {
		return nil
	}
	for _, s := range senders {
		if err := v.PC.RemoveTrack(s); err != nil {
			v.logger.Debug().Err(err).Msg("removing track")
		}
	}
	return v.offer()
}

func (v *Viewer) offer() error {
	offer, err := v.PC.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := v.PC.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return v.send(typeOffer, offer)
}

// readRTCP drains the sender so interceptors keep running. It returns
// once the peer connection closes.
func (v *Viewer) readRTCP(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range packets {
			if pli, ok := p.(*rtcp.PictureLossIndication); ok {
				v.logger.Debug().Uint32("ssrc", pli.MediaSSRC).Msg("picture loss indication")
			}
		}
	}
}

func (v *Viewer) Close() {
	if err := v.PC.Close(); err != nil {
		v.logger.Debug().Err(err).Msg("closing peer connection")
	}
	_ = v.Conn.Close()
}
