package routing

import (
	"errors"
	"time"
)

type AgentStatus string

const (
	AgentOffline   AgentStatus = "offline"
	AgentAvailable AgentStatus = "available"
	AgentOnCall    AgentStatus = "on-call"
)

func (s AgentStatus) Valid() bool {
	return s == AgentOffline || s == AgentAvailable || s == AgentOnCall
}

// Agent is one human agent's availability.
//
// Invariant: CurrentCallID != "" if and only if Status == on-call.
type Agent struct {
	AgentID       string      `json:"agent_id"`
	BusinessID    string      `json:"business_id"`
	Status        AgentStatus `json:"status"`
	CurrentCallID string      `json:"current_call_id,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type Strategy string

const (
	StrategyFirstAvailable Strategy = "first-available"
	StrategyRoundRobin     Strategy = "round-robin"
	StrategyRandom         Strategy = "random"
)

type AfterHoursAction string

const (
	AfterHoursVoicemail AfterHoursAction = "voicemail"
	AfterHoursMessage   AfterHoursAction = "message"
)

// Queue is a named routing target used when no agent can take the call.
type Queue struct {
	ID                string           `json:"id"`
	BusinessID        string           `json:"business_id"`
	Name              string           `json:"name"`
	Strategy          Strategy         `json:"routing_strategy"`
	Hours             BusinessHours    `json:"business_hours"`
	MaxWaitSeconds    int              `json:"max_wait_time"`
	AfterHours        AfterHoursAction `json:"after_hours_action"`
	AfterHoursMessage string           `json:"after_hours_message,omitempty"`
	HoldMusicURL      string           `json:"hold_music_url,omitempty"`
}

const (
	DefaultQueueName    = "default"
	DefaultQueueMaxWait = 300
)

// DefaultQueue is used when a business has not configured one: always open, voicemail after
// the wait limit.
func DefaultQueue(businessID string) Queue {
	return Queue{
		ID:             businessID + ":" + DefaultQueueName,
		BusinessID:     businessID,
		Name:           DefaultQueueName,
		Strategy:       StrategyFirstAvailable,
		MaxWaitSeconds: DefaultQueueMaxWait,
		AfterHours:     AfterHoursVoicemail,
	}
}

// WaitExceeded reports whether a caller who has waited waitedSeconds must leave the queue.
func (q Queue) WaitExceeded(waitedSeconds int) bool {
	max := q.MaxWaitSeconds
	if max <= 0 {
		max = DefaultQueueMaxWait
	}
	return waitedSeconds >= max
}

// PhoneNumber maps a provisioned number to its business and optional queue.
type PhoneNumber struct {
	Number     string `json:"number"`
	BusinessID string `json:"business_id"`
	QueueID    string `json:"queue_id,omitempty"`
}

// ForwardRule sends every inbound call on Number to Target until it expires.
type ForwardRule struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Number     string    `json:"number"`
	Target     string    `json:"target"`
	ExpiresAt  time.Time `json:"expires_at"`
}

var (
	ErrInvalidArgument = errors.New("routing: invalid argument")
	ErrNumberNotFound  = errors.New("routing: number not found")
	ErrNoQueue         = errors.New("routing: queue not found")
	ErrAgentNotFound   = errors.New("routing: agent not found")
	ErrAgentBusy       = errors.New("routing: agent busy")
)
