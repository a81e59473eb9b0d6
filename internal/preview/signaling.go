package preview

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

func (v *Viewer) handleSignal(raw []byte) error {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("message unmarshaling failed: %w", err)
	}

	switch msg.Type {
	case typeAnswer:
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(msg.Data, &sdp); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}
		if err := v.PC.SetRemoteDescription(sdp); err != nil {
			return fmt.Errorf("set remote description: %w", err)
		}

		v.mu.Lock()
		pending := v.pending
		v.pending = nil
		v.mu.Unlock()
		for _, candidate := range pending {
			if err := v.PC.AddICECandidate(candidate); err != nil {
				return fmt.Errorf("add ice candidate: %w", err)
			}
		}

	case typeICE:
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(msg.Data, &candidate); err != nil {
			return fmt.Errorf("unmarshal ice candidate: %w", err)
		}
		if v.PC.RemoteDescription() == nil {
			v.mu.Lock()
			v.pending = append(v.pending, candidate)
			v.mu.Unlock()
			return nil
		}
		if err := v.PC.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("add ice candidate: %w", err)
		}

	default:
		v.logger.Debug().Str("type", msg.Type).Msg("ignoring message")
	}
	return nil
}
