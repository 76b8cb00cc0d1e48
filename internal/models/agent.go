package models

import (
	"fmt"
	"time"
)

// AgentPresence is a support agent's availability.
type AgentPresence string

const (
	AgentOnline  AgentPresence = "online"
	AgentOffline AgentPresence = "offline"
	AgentAway    AgentPresence = "away"
	AgentBusy    AgentPresence = "busy"
)

// ParseAgentPresence maps a storage string to an AgentPresence.
func ParseAgentPresence(s string) (AgentPresence, error) {
	switch AgentPresence(s) {
	case AgentOnline, AgentOffline, AgentAway, AgentBusy:
		return AgentPresence(s), nil
	}
	return "", fmt.Errorf("unknown agent presence %q", s)
}

// AgentStatus is the presence row for one agent, upserted on change.
type AgentStatus struct {
	AgentID       int64         `json:"agent_id"`
	Status        AgentPresence `json:"status"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
}

// Agent is an agent's presence joined with their profile, as returned by
// online-agent membership queries.
type Agent struct {
	ID       int64         `json:"id"`
	Username string        `json:"username"`
	Email    string        `json:"email"`
	Status   AgentPresence `json:"status"`
}
