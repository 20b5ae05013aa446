package event

import "encoding/json"

// Stream message kinds sent to live subscribers.
const (
	MsgSnapshot       = "snapshot"
	MsgEvent          = "event"
	MsgPlayerCount    = "player_count"
	MsgQueueDepth     = "queue_depth"
	MsgIdentityUpdate = "identity_update"
	MsgSessionClosed  = "session_closed"
	MsgNotifyPause    = "notify_pause"
)

// Message is a kind-tagged envelope sent over the subscriber channel.
type Message struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewMessage builds a Message from any JSON-encodable payload.
// Returns an error if the payload cannot be marshalled.
func NewMessage(kind string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{Kind: kind, Data: raw}, nil
}

// PlayerCountData is the payload for MsgPlayerCount messages.
type PlayerCountData struct {
	Count int `json:"count"`
}

// QueueDepthData is the payload for MsgQueueDepth messages.
type QueueDepthData struct {
	Depth int `json:"depth"`
}

// PauseData is the payload for MsgNotifyPause messages.
type PauseData struct {
	Paused bool `json:"paused"`
}

// SessionClosedData is the payload for MsgSessionClosed messages.
type SessionClosedData struct {
	Session Session `json:"session"`
}
