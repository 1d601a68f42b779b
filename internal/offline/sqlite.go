package offline

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"kasirku/backend/internal/domain"
	"kasirku/backend/internal/store"
)

// SQLiteQueue persists queued sales in a local SQLite file so a terminal
// that crashes or loses power mid-shift keeps its unsynced sales.
type SQLiteQueue struct {
	db *sql.DB
}

func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_transactions (
			client_id  TEXT PRIMARY KEY,
			payload    TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteQueue{db: db}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, record domain.ClientRecord) error {
	if record.ClientID == "" {
		return store.ErrInvalidTransaction
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_transactions (client_id, payload, created_at)
		VALUES (?,?,?)
	`, record.ClientID, string(payload), record.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return err
}

func (q *SQLiteQueue) List(ctx context.Context, limit int) ([]domain.ClientRecord, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT payload
		FROM pending_transactions
		ORDER BY created_at ASC, client_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ClientRecord, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var record domain.ClientRecord
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (q *SQLiteQueue) Delete(ctx context.Context, clientIDs []string) error {
	if len(clientIDs) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range clientIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_transactions WHERE client_id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Count(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_transactions`).Scan(&count)
	return count, err
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}
