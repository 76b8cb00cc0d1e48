package models

import (
	"fmt"
	"time"
)

// ConnectionStatus is the lifecycle state of a live connection.
// disconnected is terminal.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ParseConnectionStatus maps a storage string to a ConnectionStatus.
func ParseConnectionStatus(s string) (ConnectionStatus, error) {
	switch ConnectionStatus(s) {
	case ConnectionConnected, ConnectionDisconnected:
		return ConnectionStatus(s), nil
	}
	return "", fmt.Errorf("unknown connection status %q", s)
}

// Connection is one live transport link from a device/tab to the server.
// A connection belongs to exactly one user; a user may hold many.
type Connection struct {
	ConnectionID   string           `json:"connection_id"`
	UserID         int64            `json:"user_id"`
	DeviceID       string           `json:"device_id,omitempty"`
	Status         ConnectionStatus `json:"status"`
	LastHeartbeat  time.Time        `json:"last_heartbeat"`
	ConnectedAt    time.Time        `json:"connected_at"`
	DisconnectedAt *time.Time       `json:"disconnected_at,omitempty"`
}
