package routing

import (
	"context"
	"time"
)

// AgentStore holds agent availability. Claim and ReleaseCall are compare-and-set updates;
// they must never read and then write in two round trips.
type AgentStore interface {
	// ListAvailable returns agents with status available and no current call, ordered by agent id.
	ListAvailable(ctx context.Context, businessID string) ([]Agent, error)
	// Claim moves (available, null) to (on-call, callID). False means someone else won.
	Claim(ctx context.Context, businessID, agentID, callID string, now time.Time) (bool, error)
	// ReleaseCall resets whichever agent holds callID. False means no agent was linked.
	ReleaseCall(ctx context.Context, businessID, callID string, now time.Time) (bool, error)
	// SetPresence records a heartbeat. It never touches an agent that is on a call.
	SetPresence(ctx context.Context, businessID, agentID string, status AgentStatus, now time.Time) (Agent, error)
	CountByStatus(ctx context.Context, businessID string) (map[AgentStatus]int, error)
}

type QueueStore interface {
	// QueueFor returns the queue for a number's configuration, or the business default.
	// (Queue{}, false, nil) means nothing is configured.
	QueueFor(ctx context.Context, businessID, queueID string) (Queue, bool, error)
}

// Directory resolves which business owns a number.
type Directory interface {
	LookupNumber(ctx context.Context, number string) (PhoneNumber, error)
}
