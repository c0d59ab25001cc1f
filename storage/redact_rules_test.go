package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/logging"
)

func TestRedactRuleRepo_Seed(t *testing.T) {
	repo := NewSQLiteRedactRuleRepo(openTestDB(t))

	require.NoError(t, repo.Seed())
	require.NoError(t, repo.Seed())

	rules, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, rules, len(defaultRedactPatterns))
}

func TestRedactRuleRepo_CreateNormalizes(t *testing.T) {
	repo := NewSQLiteRedactRuleRepo(openTestDB(t))

	rule, err := repo.Create("  X-Tenant-Secret ")
	require.NoError(t, err)
	assert.Equal(t, "x-tenant-secret", rule.Pattern)

	_, err = repo.Create("   ")
	assert.True(t, errors.Is(err, ErrEmptyRuleKey))

	_, err = repo.Create("X-TENANT-SECRET")
	assert.True(t, errors.Is(err, ErrRuleExists))
}

func TestRedactRuleRepo_SeedKeepsOperatorRules(t *testing.T) {
	repo := NewSQLiteRedactRuleRepo(openTestDB(t))

	custom, err := repo.Create("Cookie")
	require.NoError(t, err)
	require.NoError(t, repo.Seed())

	rules, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, rules, len(defaultRedactPatterns))
	assert.Equal(t, custom.ID, rules[0].ID)

	seen := map[string]bool{}
	for _, rule := range rules {
		assert.False(t, seen[rule.Pattern], "duplicate pattern %s", rule.Pattern)
		seen[rule.Pattern] = true
	}
}

func TestRedactRuleRepo_Delete(t *testing.T) {
	repo := NewSQLiteRedactRuleRepo(openTestDB(t))

	rule, err := repo.Create("cookie")
	require.NoError(t, err)
	require.NoError(t, repo.Delete(rule.ID))
	assert.True(t, errors.Is(repo.Delete(rule.ID), ErrRuleNotFound))

	rules, err := repo.GetAll()
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestLoadRedactor(t *testing.T) {
	repo := NewSQLiteRedactRuleRepo(openTestDB(t))
	_, err := repo.Create("cookie")
	require.NoError(t, err)

	redactor, err := LoadRedactor(repo)
	require.NoError(t, err)
	assert.Equal(t, logging.RedactMaskSecrets, redactor.Mode())

	entry := logging.NewEntry(logging.INFO, "req", storeNow,
		logging.WithPayload(map[string]any{"Cookie": "sid=1", "password": "p", "path": "/"}))
	out := redactor.Redact(entry)

	assert.JSONEq(t, `{"Cookie":"***","password":"***","path":"/"}`, out.Payload.String())
}
