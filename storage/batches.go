package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/auditmos/blackbox/logging"
)

type StoredBatch struct {
	ID         string
	ProjectID  string
	EntryCount int
	ReceivedAt int64
}

type StoredEntry struct {
	ID         string
	BatchID    string
	ProjectID  string
	ReceivedAt int64
	Entry      logging.Entry
}

type BatchRepo interface {
	Save(projectID string, batch logging.Batch) (*StoredBatch, error)
	ListEntries(projectID string, minLevel logging.Level, limit int) ([]*StoredEntry, error)
	CountEntries(projectID string) (int, error)
	Prune(olderThan time.Time) (int64, error)
}

type SQLiteBatchRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteBatchRepo(db *sql.DB) *SQLiteBatchRepo {
	return &SQLiteBatchRepo{db: db, now: time.Now}
}

// Save stores the batch and each of its entries in one transaction.
func (r *SQLiteBatchRepo) Save(projectID string, batch logging.Batch) (*StoredBatch, error) {
	stored := &StoredBatch{
		ID:         ulid.Make().String(),
		ProjectID:  projectID,
		EntryCount: len(batch.Entries),
		ReceivedAt: r.now().UnixMilli(),
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		"INSERT INTO batches (id, project_id, entry_count, received_at) VALUES (?, ?, ?, ?)",
		stored.ID, stored.ProjectID, stored.EntryCount, stored.ReceivedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO entries (id, batch_id, project_id, ts, severity, msg, data, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range batch.Entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal entry: %w", err)
		}
		_, err = stmt.Exec(ulid.Make().String(), stored.ID, projectID, entry.Timestamp, int(entry.Level), entry.Message, string(data), stored.ReceivedAt)
		if err != nil {
			return nil, fmt.Errorf("insert entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return stored, nil
}

// ListEntries returns the newest entries at or above minLevel, newest
// first.
func (r *SQLiteBatchRepo) ListEntries(projectID string, minLevel logging.Level, limit int) ([]*StoredEntry, error) {
	rows, err := r.db.Query(`
		SELECT id, batch_id, project_id, received_at, data
		FROM entries WHERE project_id = ? AND severity >= ?
		ORDER BY received_at DESC, id DESC LIMIT ?
	`, projectID, int(minLevel), limit)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []*StoredEntry
	for rows.Next() {
		e := &StoredEntry{}
		var data string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.ProjectID, &e.ReceivedAt, &data); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &e.Entry); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteBatchRepo) CountEntries(projectID string) (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM entries WHERE project_id = ?", projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (r *SQLiteBatchRepo) Prune(olderThan time.Time) (int64, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := olderThan.UnixMilli()
	res, err := tx.Exec("DELETE FROM entries WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM batches WHERE received_at < ?", cutoff); err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return res.RowsAffected()
}
