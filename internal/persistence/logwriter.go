package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"PredMarket/internal/outbound"
)

// SettlementLogWriter appends settlement events to market.settlement_log
// using multi-row INSERT. The log is the durable audit trail: every applied
// operation lands here in sequence order, idempotently.
type SettlementLogWriter struct {
	db *sql.DB
}

// LogRow is one row of market.settlement_log.
type LogRow struct {
	Sequence  int64
	Kind      string
	EventID   *uint64
	Payload   []byte
	Timestamp time.Time
}

func NewSettlementLogWriter(db *sql.DB) *SettlementLogWriter {
	return &SettlementLogWriter{db: db}
}

// RowFromEnvelope converts an outbound envelope into its log row.
func RowFromEnvelope(env outbound.Envelope) (LogRow, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return LogRow{}, fmt.Errorf("marshal payload for seq %d: %w", env.Sequence, err)
	}
	return LogRow{
		Sequence:  env.Sequence,
		Kind:      string(env.Kind),
		EventID:   env.EventID,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}, nil
}

// LatestSequence returns the highest sequence present in the settlement log,
// or 0 when the log is empty. Startup seeds the engine's outbound sequence
// from this so restarts never reuse a sequence the log already holds.
func LatestSequence(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM market.settlement_log`,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest settlement log sequence: %w", err)
	}
	return seq, nil
}

// WriteBatch appends rows inside the given transaction. Re-delivered
// sequences are skipped, which makes replay after a crash safe.
func (w *SettlementLogWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []LogRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO market.settlement_log
		(sequence, kind, event_id, payload, created_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*5)

	for i, r := range rows {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, r.Sequence, r.Kind, r.EventID, r.Payload, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write settlement log batch: %w", err)
	}
	return nil
}
