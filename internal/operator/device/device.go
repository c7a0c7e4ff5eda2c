package device

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned by PlaceCall when the device has not been
	// initialized or has not reported ready.
	ErrNotReady = errors.New("softphone device is not ready")
)

// EventKind enumerates the notifications a softphone device emits.
type EventKind int

const (
	EventReady EventKind = iota
	EventError
	EventIncoming
	EventDisconnect
)

// Event is one device notification. From and CallSid are set for
// EventIncoming; Err is set for EventError.
type Event struct {
	Kind    EventKind
	From    string
	CallSid string
	Err     error
}

// Call is a handle on an in-progress call placed through the device.
type Call interface {
	SID() string
	Disconnect()
}

// Device is the capability interface over a concrete softphone SDK. The
// pipeline depends only on this surface; tests drive it with a fake.
type Device interface {
	Register(ctx context.Context) error
	Connect(ctx context.Context, params map[string]string) (Call, error)
	Destroy()
	Events() <-chan Event
}

// Factory constructs a Device from an access token obtained from the token
// endpoint.
type Factory func(token string) (Device, error)

// IncomingCall is a device-originated ring indication.
type IncomingCall struct {
	From    string
	CallSid string
}
