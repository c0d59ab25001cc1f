package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrTokenNotFound = errors.New("token not found")

// ProjectToken binds a bearer token to a project. Only the SHA-256 hash of
// the token is stored.
type ProjectToken struct {
	ID        string
	ProjectID string
	TokenHash string
	CreatedAt int64
}

type TokenRepo interface {
	Create(projectID, token string) (*ProjectToken, error)
	Lookup(token string) (string, error)
	GetAll() ([]*ProjectToken, error)
	Delete(id string) error
	Seed(tokens map[string]string) error
}

type SQLiteTokenRepo struct {
	db *sql.DB
}

func NewSQLiteTokenRepo(db *sql.DB) *SQLiteTokenRepo {
	return &SQLiteTokenRepo{db: db}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *SQLiteTokenRepo) Create(projectID, token string) (*ProjectToken, error) {
	if projectID == "" || token == "" {
		return nil, fmt.Errorf("project and token cannot be empty")
	}

	pt := &ProjectToken{
		ID:        ulid.Make().String(),
		ProjectID: projectID,
		TokenHash: HashToken(token),
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := r.db.Exec(
		"INSERT INTO project_tokens (id, project_id, token_hash, created_at) VALUES (?, ?, ?, ?)",
		pt.ID, pt.ProjectID, pt.TokenHash, pt.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert project_token: %w", err)
	}
	return pt, nil
}

// Lookup returns the project the token belongs to.
func (r *SQLiteTokenRepo) Lookup(token string) (string, error) {
	if token == "" {
		return "", ErrTokenNotFound
	}
	var projectID string
	err := r.db.QueryRow("SELECT project_id FROM project_tokens WHERE token_hash = ?", HashToken(token)).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup project_token: %w", err)
	}
	return projectID, nil
}

func (r *SQLiteTokenRepo) GetAll() ([]*ProjectToken, error) {
	rows, err := r.db.Query("SELECT id, project_id, token_hash, created_at FROM project_tokens ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("query project_tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*ProjectToken
	for rows.Next() {
		pt := &ProjectToken{}
		if err := rows.Scan(&pt.ID, &pt.ProjectID, &pt.TokenHash, &pt.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project_token: %w", err)
		}
		tokens = append(tokens, pt)
	}
	return tokens, rows.Err()
}

func (r *SQLiteTokenRepo) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM project_tokens WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete project_token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Seed inserts project -> token pairs, skipping tokens already present.
func (r *SQLiteTokenRepo) Seed(tokens map[string]string) error {
	for projectID, token := range tokens {
		if projectID == "" || token == "" {
			continue
		}
		_, err := r.db.Exec(
			"INSERT OR IGNORE INTO project_tokens (id, project_id, token_hash, created_at) VALUES (?, ?, ?, ?)",
			ulid.Make().String(), projectID, HashToken(token), time.Now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("seed project_token %s: %w", projectID, err)
		}
	}
	return nil
}
