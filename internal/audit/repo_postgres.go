package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresRepo writes to call_events. The table is INSERT-only.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	q := `
INSERT INTO call_events (id, business_id, event_type, call_id, carrier_call_id,
                         actor_user_id, actor_role, ip_address, message, payload, created_at)
VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.BusinessID, e.Type, e.CallID, e.CarrierCallID,
		e.ActorUserID, e.ActorRole, e.IPAddress, e.Message, payload, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	q := `
SELECT id, business_id, event_type, COALESCE(call_id::text, ''), carrier_call_id,
       actor_user_id, actor_role, ip_address, message, payload, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Type, &e.CallID, &e.CarrierCallID,
			&e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.Message, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
