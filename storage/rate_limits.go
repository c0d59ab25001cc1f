package storage

import (
	"database/sql"
	"fmt"
)

const (
	DefaultRequestsPerMin = 120
	DefaultMaxBatchBytes  = 1 << 20
)

const rateLimitsSchema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    id               INTEGER PRIMARY KEY CHECK (id = 1),
    requests_per_min INTEGER NOT NULL,
    max_batch_bytes  INTEGER NOT NULL
);
`

type RateLimits struct {
	RequestsPerMin int
	MaxBatchBytes  int64
}

type RateLimitRepo interface {
	Get() (*RateLimits, error)
	Update(limits RateLimits) error
}

type SQLiteRateLimitRepo struct {
	db *sql.DB
}

func InitRateLimitsSchema(db *sql.DB) error {
	_, err := db.Exec(rateLimitsSchema)
	if err != nil {
		return fmt.Errorf("init rate_limits schema: %w", err)
	}
	return nil
}

func SeedRateLimits(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO rate_limits (id, requests_per_min, max_batch_bytes)
		VALUES (1, ?, ?)
	`, DefaultRequestsPerMin, DefaultMaxBatchBytes)
	if err != nil {
		return fmt.Errorf("seed rate_limits: %w", err)
	}
	return nil
}

func NewSQLiteRateLimitRepo(db *sql.DB) *SQLiteRateLimitRepo {
	return &SQLiteRateLimitRepo{db: db}
}

func (r *SQLiteRateLimitRepo) Get() (*RateLimits, error) {
	row := r.db.QueryRow("SELECT requests_per_min, max_batch_bytes FROM rate_limits WHERE id = 1")
	limits := &RateLimits{}
	err := row.Scan(&limits.RequestsPerMin, &limits.MaxBatchBytes)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rate_limits not seeded")
	}
	if err != nil {
		return nil, fmt.Errorf("scan rate_limits: %w", err)
	}
	return limits, nil
}

func (r *SQLiteRateLimitRepo) Update(limits RateLimits) error {
	if limits.RequestsPerMin < 1 || limits.MaxBatchBytes < 1 {
		return fmt.Errorf("rate limits must be positive")
	}
	_, err := r.db.Exec(`
		INSERT INTO rate_limits (id, requests_per_min, max_batch_bytes) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET requests_per_min = excluded.requests_per_min, max_batch_bytes = excluded.max_batch_bytes
	`, limits.RequestsPerMin, limits.MaxBatchBytes)
	if err != nil {
		return fmt.Errorf("update rate_limits: %w", err)
	}
	return nil
}
