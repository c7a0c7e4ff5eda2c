package domain

import "time"

// CallArrivalEvent is the canonical record for one inbound call notification.
// CallSid is the provider-assigned correlation key: two events carrying the
// same CallSid describe the same call attempt. The JSON field names are part
// of the wire contract with operator clients and must not change.
type CallArrivalEvent struct {
	FromNumber   string    `json:"fromNumber"`
	CallSid      string    `json:"callSid"`
	TimestampUTC time.Time `json:"timestampUtc"`
}

// Message types exchanged on the /hubs/calls socket.
const (
	MessageTypeIncomingCall = "incomingCall"
	MessageTypeJoinGroup    = "joinGroup"
)

// ServerMessage is the server-to-client push envelope.
type ServerMessage struct {
	Type string           `json:"type"`
	Data CallArrivalEvent `json:"data"`
}

// ClientMessage is the client-to-server envelope. Group is only meaningful
// for joinGroup messages.
type ClientMessage struct {
	Type  string `json:"type"`
	Group string `json:"group,omitempty"`
}
