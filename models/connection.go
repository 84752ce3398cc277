package models

import "time"

// ConnectionStatus is the lifecycle label reported to consumers.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusReset        ConnectionStatus = "reset"
)

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusConnecting, StatusConnected, StatusDisconnected, StatusError, StatusReset:
		return true
	}
	return false
}

// ConnectionState is the process-wide view of the feed connection.
// ResetReason is only populated while Status is StatusReset.
type ConnectionState struct {
	Status             ConnectionStatus `json:"status"`
	ReconnectAttempt   int              `json:"reconnectAttempt"`
	LastConnectedAt    *time.Time       `json:"lastConnected,omitempty"`
	LastDisconnectedAt *time.Time       `json:"lastDisconnected,omitempty"`
	ResetReason        string           `json:"resetReason,omitempty"`
}

// Clone returns a copy that shares no pointers with s.
func (s ConnectionState) Clone() ConnectionState {
	out := s
	if s.LastConnectedAt != nil {
		t := *s.LastConnectedAt
		out.LastConnectedAt = &t
	}
	if s.LastDisconnectedAt != nil {
		t := *s.LastDisconnectedAt
		out.LastDisconnectedAt = &t
	}
	return out
}
