package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one notification handed to the outbound sink, keyed by the stream
// position of the event that produced it.
type Entry struct {
	ID               string
	Topic            string
	Partition        int
	Offset           int64
	ServiceRequestID string
	TenantID         string
	Intent           string
	TemplateID       string
	MobileNumber     string
	Params           []string
	DispatchedAt     time.Time
}

type Repository interface {
	Record(ctx context.Context, entry Entry) (duplicate bool, err error)
}

const Schema = `
CREATE TABLE IF NOT EXISTS dispatched_notifications (
id UUID PRIMARY KEY,
topic TEXT NOT NULL,
partition_no INTEGER NOT NULL,
offset_no BIGINT NOT NULL,
service_request_id TEXT NOT NULL,
tenant_id TEXT NOT NULL,
intent TEXT NOT NULL,
template_id TEXT NOT NULL,
mobile_number TEXT NOT NULL,
params_json JSONB NOT NULL,
dispatched_at TIMESTAMPTZ NOT NULL,
UNIQUE (topic, partition_no, offset_no)
)
`

const insertEntry = `
INSERT INTO dispatched_notifications (
id,
topic,
partition_no,
offset_no,
service_request_id,
tenant_id,
intent,
template_id,
mobile_number,
params_json,
dispatched_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (topic, partition_no, offset_no) DO NOTHING
RETURNING id
`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

var ErrNotConfigured = errors.New("postgres journal requires a non-nil pool")

func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, ErrNotConfigured
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

// Record inserts the entry. duplicate is true when the stream position was
// already journaled, i.e. the event was redelivered.
func (r *PostgresRepository) Record(ctx context.Context, entry Entry) (bool, error) {
	params, err := json.Marshal(entry.Params)
	if err != nil {
		return false, err
	}

	var id string
	err = r.pool.QueryRow(ctx, insertEntry,
		entry.ID,
		entry.Topic,
		entry.Partition,
		entry.Offset,
		entry.ServiceRequestID,
		entry.TenantID,
		entry.Intent,
		entry.TemplateID,
		entry.MobileNumber,
		params,
		entry.DispatchedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert journal entry: %w", err)
	}
	return false, nil
}
