package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/auditmos/blackbox/logging"
)

var (
	ErrRuleNotFound = errors.New("redact rule not found")
	ErrRuleExists   = errors.New("redact rule already exists")
	ErrEmptyRuleKey = errors.New("redact rule pattern is empty")
)

// Keys masked by the collector on top of the agent-side defaults.
var defaultRedactPatterns = []string{
	"cookie",
	"set-cookie",
	"x-api-key",
	"x-auth-token",
	"x-access-token",
	"x-csrf-token",
	"session",
	"credential",
}

// RedactRule is one extra payload key the collector masks before storing.
type RedactRule struct {
	ID        string
	Pattern   string
	CreatedAt int64
}

type RedactRuleRepo interface {
	GetAll() ([]*RedactRule, error)
	Create(pattern string) (*RedactRule, error)
	Delete(id string) error
	Seed() error
}

type SQLiteRedactRuleRepo struct {
	db *sql.DB
}

func NewSQLiteRedactRuleRepo(db *sql.DB) *SQLiteRedactRuleRepo {
	return &SQLiteRedactRuleRepo{db: db}
}

const insertRedactRule = `INSERT INTO redact_rules (id, pattern, created_at)
VALUES (?, ?, ?)
ON CONFLICT (pattern) DO NOTHING`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// insertRule stores pattern unless it is already present and reports
// whether a row was written.
func insertRule(db execer, rule *RedactRule) (bool, error) {
	res, err := db.Exec(insertRedactRule, rule.ID, rule.Pattern, rule.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func newRule(pattern string) *RedactRule {
	return &RedactRule{
		ID:        ulid.Make().String(),
		Pattern:   pattern,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func normalizePattern(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// GetAll lists rules oldest first.
func (r *SQLiteRedactRuleRepo) GetAll() ([]*RedactRule, error) {
	rows, err := r.db.Query(`SELECT id, pattern, created_at FROM redact_rules ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list redact rules: %w", err)
	}
	defer rows.Close()

	var out []*RedactRule
	for rows.Next() {
		var rule RedactRule
		if err := rows.Scan(&rule.ID, &rule.Pattern, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("list redact rules: %w", err)
		}
		out = append(out, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list redact rules: %w", err)
	}
	return out, nil
}

// Create adds a rule for pattern, lowercased and trimmed. Adding a pattern
// twice returns ErrRuleExists.
func (r *SQLiteRedactRuleRepo) Create(pattern string) (*RedactRule, error) {
	pattern = normalizePattern(pattern)
	if pattern == "" {
		return nil, ErrEmptyRuleKey
	}

	rule := newRule(pattern)
	added, err := insertRule(r.db, rule)
	switch {
	case err != nil:
		return nil, fmt.Errorf("add redact rule %q: %w", pattern, err)
	case !added:
		return nil, fmt.Errorf("add redact rule %q: %w", pattern, ErrRuleExists)
	}
	return rule, nil
}

func (r *SQLiteRedactRuleRepo) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM redact_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove redact rule %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("remove redact rule %s: %w", id, err)
	} else if n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Seed installs the default patterns in one transaction. Patterns that
// already exist, including ones an operator added by hand, are kept.
func (r *SQLiteRedactRuleRepo) Seed() error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("seed redact rules: %w", err)
	}
	defer tx.Rollback()

	for _, pattern := range defaultRedactPatterns {
		if _, err := insertRule(tx, newRule(pattern)); err != nil {
			return fmt.Errorf("seed redact rules: %s: %w", pattern, err)
		}
	}
	return tx.Commit()
}

// LoadRedactor builds a masking redactor from the stored rules.
func LoadRedactor(repo RedactRuleRepo) (*logging.Redactor, error) {
	rules, err := repo.GetAll()
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(rules))
	for i, rule := range rules {
		keys[i] = rule.Pattern
	}
	return logging.NewRedactor(logging.RedactMaskSecrets, keys...), nil
}
