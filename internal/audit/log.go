package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"cowrite/engine/internal/ot"
)

// Entry is one applied, transformed operation as recorded for audit.
type Entry struct {
	OperationID     string
	RoomID          string
	UserID          string
	OperationType   string
	Position        int
	Length          int
	Text            string
	VectorClock     ot.VectorClock
	DocumentVersion int64
	AppliedAt       time.Time
}

// Log writes applied operations to Postgres.
type Log struct {
	db *sql.DB
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

func (l *Log) DB() *sql.DB {
	return l.db
}

func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Record appends one entry to the operation log.
func (l *Log) Record(ctx context.Context, e Entry) error {
	clock, err := json.Marshal(e.VectorClock)
	if err != nil {
		return fmt.Errorf("marshal vector clock: %w", err)
	}

	const insertOp = `
		INSERT INTO operation_log
			(operation_id, room_id, user_id, operation_type, position, length, text, vector_clock, document_version, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := l.db.ExecContext(ctx, insertOp,
		e.OperationID, e.RoomID, e.UserID, e.OperationType,
		e.Position, e.Length, e.Text, clock, e.DocumentVersion, e.AppliedAt,
	); err != nil {
		return fmt.Errorf("insert operation log entry: %w", err)
	}
	return nil
}

// RoomHistory returns a room's recorded operations in applied order, up
// to limit entries.
func (l *Log) RoomHistory(ctx context.Context, roomID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	const selectOps = `
		SELECT operation_id, room_id, user_id, operation_type, position, length, text, vector_clock, document_version, applied_at
		FROM operation_log
		WHERE room_id = $1
		ORDER BY applied_at ASC, document_version ASC
		LIMIT $2
	`
	rows, err := l.db.QueryContext(ctx, selectOps, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query room history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var clock []byte
		if err := rows.Scan(
			&e.OperationID, &e.RoomID, &e.UserID, &e.OperationType,
			&e.Position, &e.Length, &e.Text, &clock, &e.DocumentVersion, &e.AppliedAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if len(clock) > 0 {
			if err := json.Unmarshal(clock, &e.VectorClock); err != nil {
				return nil, fmt.Errorf("unmarshal vector clock: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
