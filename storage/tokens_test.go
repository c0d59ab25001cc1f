package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRepo_CreateAndLookup(t *testing.T) {
	repo := NewSQLiteTokenRepo(openTestDB(t))

	pt, err := repo.Create("p1", "secret-1")
	require.NoError(t, err)
	assert.Equal(t, HashToken("secret-1"), pt.TokenHash)
	assert.NotContains(t, pt.TokenHash, "secret")

	project, err := repo.Lookup("secret-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", project)

	_, err = repo.Lookup("wrong")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, err = repo.Lookup("")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenRepo_CreateRejectsEmpty(t *testing.T) {
	repo := NewSQLiteTokenRepo(openTestDB(t))

	_, err := repo.Create("", "x")
	assert.Error(t, err)
	_, err = repo.Create("p1", "")
	assert.Error(t, err)
}

func TestTokenRepo_DuplicateToken(t *testing.T) {
	repo := NewSQLiteTokenRepo(openTestDB(t))

	_, err := repo.Create("p1", "same")
	require.NoError(t, err)
	_, err = repo.Create("p2", "same")
	assert.Error(t, err)
}

func TestTokenRepo_SeedIdempotent(t *testing.T) {
	repo := NewSQLiteTokenRepo(openTestDB(t))
	seed := map[string]string{"p1": "t1", "p2": "t2", "": "ignored"}

	require.NoError(t, repo.Seed(seed))
	require.NoError(t, repo.Seed(seed))

	all, err := repo.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTokenRepo_Delete(t *testing.T) {
	repo := NewSQLiteTokenRepo(openTestDB(t))

	pt, err := repo.Create("p1", "t1")
	require.NoError(t, err)

	require.NoError(t, repo.Delete(pt.ID))
	_, err = repo.Lookup("t1")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	assert.ErrorIs(t, repo.Delete(pt.ID), ErrTokenNotFound)
}
