package streaming

import "encoding/json"

// Inbound event names as sent by the upstream feed.
const (
	EventLocationUpdate = "locationUpdate"
	EventSOS            = "sos"
	EventOK             = "ok"
	EventWarning        = "warning"
)

// Outbound message types pushed to renderer clients.
const (
	TypeView         = "view"
	TypeAlarm        = "alarm"
	TypeSpeech       = "speech"
	TypeSpeechCancel = "speech_cancel"
	TypeAck          = "ack"
	TypeSubscribe    = "subscribe"
)

// Alarm actions.
const (
	AlarmPlay = "play"
	AlarmStop = "stop"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// SubscribePayload is sent upstream on every connect to name the events
// this tracker consumes.
type SubscribePayload struct {
	Events []string `json:"events"`
}

// AlarmPayload tells renderers to start or stop the looping alarm. Stop
// always rewinds to the start.
type AlarmPayload struct {
	Action string `json:"action"`
}

// SpeechPayload is one utterance to speak.
type SpeechPayload struct {
	Text string `json:"text"`
}

// NewEnvelope marshals payload into an Envelope of the given type.
// A nil payload yields an envelope without one.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: data}, nil
}
