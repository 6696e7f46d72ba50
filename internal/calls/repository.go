package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository persists call records.
//
// Concurrency contract: UpdateIfStatus is a compare-and-set on status, so two writers
// racing on the same call cannot both move it out of the same state.
type Repository interface {
	// Upsert inserts rec. When carrier_call_id is already stored it fills in the identity
	// fields a minimal record may lack and returns the stored row, status untouched.
	Upsert(ctx context.Context, rec CallRecord) (CallRecord, error)
	GetByID(ctx context.Context, id string) (CallRecord, error)
	GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error)
	UpdateIfStatus(ctx context.Context, rec CallRecord, prev Status) (bool, error)
	BindCarrierID(ctx context.Context, id, carrierCallID string) (CallRecord, error)
	// AssignAgent links an agent while the call can still hold one.
	AssignAgent(ctx context.Context, id, agentID string, now time.Time) (bool, error)
	// SetArtifacts overwrites recording_url and transcript with any non-empty argument.
	SetArtifacts(ctx context.Context, id, recordingURL, transcript string, now time.Time) (CallRecord, error)
	MergeMetadata(ctx context.Context, id string, kv map[string]string, now time.Time) error
	List(ctx context.Context, f ListFilter) ([]CallRecord, error)
	CountByStatus(ctx context.Context, businessID string, since time.Time) (map[Status]int, error)
}

// PostgresRepo stores calls in the calls table.
//
// Assumed constraints:
// - calls.carrier_call_id UNIQUE (NULL until bound)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, carrier_call_id, business_id, direction, from_number, to_number, status,
       agent_id, started_at, answered_at, ended_at, duration_seconds,
       recording_url, transcript, metadata, created_at, updated_at`

func scanCall(row interface{ Scan(...any) error }) (CallRecord, error) {
	var (
		rec      CallRecord
		carrier  sql.NullString
		agent    sql.NullString
		answered sql.NullTime
		ended    sql.NullTime
		duration sql.NullInt64
		meta     []byte
	)
	if err := row.Scan(
		&rec.ID,
		&carrier,
		&rec.BusinessID,
		&rec.Direction,
		&rec.From,
		&rec.To,
		&rec.Status,
		&agent,
		&rec.StartedAt,
		&answered,
		&ended,
		&duration,
		&rec.RecordingURL,
		&rec.Transcript,
		&meta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	rec.CarrierCallID = carrier.String
	rec.AgentID = agent.String
	if answered.Valid {
		rec.AnsweredAt = timePtr(answered.Time)
	}
	if ended.Valid {
		rec.EndedAt = timePtr(ended.Time)
	}
	if duration.Valid {
		d := int(duration.Int64)
		rec.DurationSeconds = &d
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return CallRecord{}, fmt.Errorf("calls: decode metadata: %w", err)
		}
	}
	return rec, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func (r *PostgresRepo) Upsert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return CallRecord{}, err
	}
	q := `
INSERT INTO calls (id, carrier_call_id, business_id, direction, from_number, to_number, status,
                   agent_id, started_at, answered_at, ended_at, duration_seconds,
                   recording_url, transcript, metadata, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15, $16, $16)
ON CONFLICT (carrier_call_id) DO UPDATE SET
  business_id = CASE WHEN calls.business_id = '' THEN EXCLUDED.business_id ELSE calls.business_id END,
  direction   = EXCLUDED.direction,
  from_number = COALESCE(NULLIF(calls.from_number, ''), EXCLUDED.from_number),
  to_number   = COALESCE(NULLIF(calls.to_number, ''), EXCLUDED.to_number),
  metadata    = calls.metadata || EXCLUDED.metadata,
  updated_at  = EXCLUDED.updated_at
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q,
		rec.ID, rec.CarrierCallID, rec.BusinessID, string(rec.Direction), rec.From, rec.To, string(rec.Status),
		rec.AgentID, rec.StartedAt, nullTime(rec.AnsweredAt), nullTime(rec.EndedAt), nullInt(rec.DurationSeconds),
		rec.RecordingURL, rec.Transcript, meta, rec.UpdatedAt,
	))
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) GetByCarrierID(ctx context.Context, carrierCallID string) (CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE carrier_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, carrierCallID))
}

func (r *PostgresRepo) UpdateIfStatus(ctx context.Context, rec CallRecord, prev Status) (bool, error) {
	q := `
UPDATE calls
SET status = $3,
    agent_id = NULLIF($4, ''),
    answered_at = $5,
    ended_at = $6,
    duration_seconds = $7,
    recording_url = $8,
    updated_at = $9
WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, q,
		rec.ID, string(prev), string(rec.Status), rec.AgentID,
		nullTime(rec.AnsweredAt), nullTime(rec.EndedAt), nullInt(rec.DurationSeconds),
		rec.RecordingURL, rec.UpdatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) BindCarrierID(ctx context.Context, id, carrierCallID string) (CallRecord, error) {
	q := `
UPDATE calls SET carrier_call_id = $2, updated_at = now()
WHERE id = $1 AND (carrier_call_id IS NULL OR carrier_call_id = $2)
RETURNING ` + callColumns
	rec, err := scanCall(r.db.QueryRowContext(ctx, q, id, carrierCallID))
	if errors.Is(err, ErrNotFound) {
		// Either missing, or bound to a different carrier id.
		if existing, gerr := r.GetByID(ctx, id); gerr == nil {
			return existing, ErrConflict
		}
	}
	return rec, err
}

func (r *PostgresRepo) AssignAgent(ctx context.Context, id, agentID string, now time.Time) (bool, error) {
	q := `UPDATE calls SET agent_id = $2, updated_at = $3
WHERE id = $1 AND status IN ('initiated', 'ringing', 'in-progress')`
	res, err := r.db.ExecContext(ctx, q, id, agentID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresRepo) SetArtifacts(ctx context.Context, id, recordingURL, transcript string, now time.Time) (CallRecord, error) {
	q := `
UPDATE calls
SET recording_url = COALESCE(NULLIF($2, ''), recording_url),
    transcript    = COALESCE(NULLIF($3, ''), transcript),
    updated_at    = $4
WHERE id = $1
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q, id, recordingURL, transcript, now))
}

func (r *PostgresRepo) MergeMetadata(ctx context.Context, id string, kv map[string]string, now time.Time) error {
	meta, err := encodeMetadata(kv)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE calls SET metadata = metadata || $2, updated_at = $3 WHERE id = $1`, id, meta, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f ListFilter) ([]CallRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.BusinessID != "" {
		add("business_id = $%d", f.BusinessID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Direction != "" {
		add("direction = $%d", string(f.Direction))
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if !f.Since.IsZero() {
		add("started_at >= $%d", f.Since)
	}

	q := `SELECT ` + callColumns + ` FROM calls`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, listLimit(f.Limit))
	q += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func listLimit(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, businessID string, since time.Time) (map[Status]int, error) {
	q := `SELECT status, COUNT(*) FROM calls WHERE business_id = $1 AND started_at >= $2 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, q, businessID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var (
			s Status
			n int
		)
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}
