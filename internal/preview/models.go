package preview

import "encoding/json"

// Message is one signalling or state frame on the viewer socket.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type MessageOut struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	typeOffer  = "offer"
	typeAnswer = "answer"
	typeICE    = "ice"
	typeState  = "state"
)
