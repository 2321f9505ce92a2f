package models

import "time"

type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "CONNECTING"
	StatusOpen       ConnectionStatus = "OPEN"
	StatusClosed     ConnectionStatus = "CLOSED"
)

type ConnectionState struct {
	Status          ConnectionStatus `json:"status"`
	LastHeartbeatAt time.Time        `json:"last_heartbeat_at"`
	SessionID       string           `json:"session_id,omitempty"`
	Reconnects      int              `json:"reconnects"`
}
