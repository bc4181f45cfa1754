package change

import "fmt"

// ConnState describes the lifecycle of a gateway or realtime connection.
// Within one connect attempt the observable sequence is a prefix of
// [Connecting, Connected] or [Connecting, Error].
type ConnState struct {
	Status  Status
	Attempt uint   // set for StatusReconnecting
	Message string // set for StatusError
}

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

func Disconnected() ConnState      { return ConnState{Status: StatusDisconnected} }
func Connecting() ConnState        { return ConnState{Status: StatusConnecting} }
func Connected() ConnState         { return ConnState{Status: StatusConnected} }
func Errored(msg string) ConnState { return ConnState{Status: StatusError, Message: msg} }

func Reconnecting(attempt uint) ConnState {
	return ConnState{Status: StatusReconnecting, Attempt: attempt}
}

func (s ConnState) IsConnected() bool { return s.Status == StatusConnected }

// StatusMessage renders the optional human-readable detail for the
// boundary's {status, message} payload.
func (s ConnState) StatusMessage() string {
	switch s.Status {
	case StatusReconnecting:
		return fmt.Sprintf("Attempt %d", s.Attempt)
	case StatusError:
		return s.Message
	default:
		return ""
	}
}
