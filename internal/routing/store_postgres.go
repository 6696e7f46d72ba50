package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PostgresStore implements the routing stores over agent_availability, call_queues,
// phone_numbers and forwarding_rules.
//
// Assumed constraints:
// - agent_availability PRIMARY KEY (business_id, agent_id)
// - agent_availability UNIQUE (current_call_id)
// - agent_availability CHECK ((status = 'on-call') = (current_call_id IS NOT NULL))
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const agentColumns = `agent_id, business_id, status, COALESCE(current_call_id::text, ''), updated_at`

func scanAgent(row interface{ Scan(...any) error }) (Agent, error) {
	var a Agent
	if err := row.Scan(&a.AgentID, &a.BusinessID, &a.Status, &a.CurrentCallID, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrAgentNotFound
		}
		return Agent{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListAvailable(ctx context.Context, businessID string) ([]Agent, error) {
	q := `
SELECT ` + agentColumns + `
FROM agent_availability
WHERE business_id = $1 AND status = 'available' AND current_call_id IS NULL
ORDER BY agent_id`
	rows, err := s.db.QueryContext(ctx, q, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Claim(ctx context.Context, businessID, agentID, callID string, now time.Time) (bool, error) {
	q := `
UPDATE agent_availability
SET status = 'on-call', current_call_id = $3, updated_at = $4
WHERE business_id = $1 AND agent_id = $2 AND status = 'available' AND current_call_id IS NULL`
	return affectedOne(s.db.ExecContext(ctx, q, businessID, agentID, callID, now))
}

func (s *PostgresStore) ReleaseCall(ctx context.Context, businessID, callID string, now time.Time) (bool, error) {
	q := `
UPDATE agent_availability
SET status = 'available', current_call_id = NULL, updated_at = $3
WHERE business_id = $1 AND current_call_id = $2`
	return affectedOne(s.db.ExecContext(ctx, q, businessID, callID, now))
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, businessID, agentID string, status AgentStatus, now time.Time) (Agent, error) {
	q := `
INSERT INTO agent_availability (business_id, agent_id, status, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (business_id, agent_id) DO UPDATE
SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
WHERE agent_availability.current_call_id IS NULL
RETURNING ` + agentColumns
	a, err := scanAgent(s.db.QueryRowContext(ctx, q, businessID, agentID, string(status), now))
	if errors.Is(err, ErrAgentNotFound) {
		// The agent is on a call; presence does not override that.
		row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agent_availability WHERE business_id = $1 AND agent_id = $2`, businessID, agentID)
		return scanAgent(row)
	}
	return a, err
}

func (s *PostgresStore) CountByStatus(ctx context.Context, businessID string) (map[AgentStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM agent_availability WHERE business_id = $1 GROUP BY status`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[AgentStatus]int{}
	for rows.Next() {
		var (
			st AgentStatus
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

const queueColumns = `id, business_id, name, routing_strategy, business_hours, max_wait_time,
       after_hours_action, after_hours_message, hold_music_url`

func scanQueue(row interface{ Scan(...any) error }) (Queue, error) {
	var (
		q     Queue
		hours []byte
	)
	if err := row.Scan(&q.ID, &q.BusinessID, &q.Name, &q.Strategy, &hours, &q.MaxWaitSeconds,
		&q.AfterHours, &q.AfterHoursMessage, &q.HoldMusicURL); err != nil {
		return Queue{}, err
	}
	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &q.Hours); err != nil {
			return Queue{}, fmt.Errorf("routing: decode business_hours for queue %s: %w", q.ID, err)
		}
	}
	return q, nil
}

func (s *PostgresStore) QueueFor(ctx context.Context, businessID, queueID string) (Queue, bool, error) {
	// The named queue wins over the default; both are tenant-scoped.
	q := `
SELECT ` + queueColumns + `
FROM call_queues
WHERE business_id = $1 AND (id::text = $2 OR is_default)
ORDER BY (id::text = $2) DESC
LIMIT 1`
	out, err := scanQueue(s.db.QueryRowContext(ctx, q, businessID, queueID))
	if errors.Is(err, sql.ErrNoRows) {
		return Queue{}, false, nil
	}
	if err != nil {
		return Queue{}, false, err
	}
	return out, true, nil
}

func (s *PostgresStore) LookupNumber(ctx context.Context, number string) (PhoneNumber, error) {
	var n PhoneNumber
	err := s.db.QueryRowContext(ctx,
		`SELECT number, business_id, COALESCE(queue_id::text, '') FROM phone_numbers WHERE number = $1`, number,
	).Scan(&n.Number, &n.BusinessID, &n.QueueID)
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneNumber{}, ErrNumberNotFound
	}
	return n, err
}

func (s *PostgresStore) ActiveForwardRule(ctx context.Context, businessID, number string, now time.Time) (ForwardRule, bool, error) {
	q := `
SELECT id, business_id, number, target, expires_at
FROM forwarding_rules
WHERE business_id = $1 AND number = $2 AND expires_at > $3
ORDER BY created_at DESC
LIMIT 1`
	var r ForwardRule
	err := s.db.QueryRowContext(ctx, q, businessID, number, now).Scan(&r.ID, &r.BusinessID, &r.Number, &r.Target, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ForwardRule{}, false, nil
	}
	if err != nil {
		return ForwardRule{}, false, err
	}
	return r, true, nil
}
