package memory_test

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darunbjork/InsightAPI/internal/storage"
	"github.com/darunbjork/InsightAPI/internal/storage/memory"
)

func TestSaveAndFindPrincipal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	username := gofakeit.Username()
	email := gofakeit.Email()

	saved, err := store.SavePrincipal(ctx, username, email, []byte("hash"))
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	byEmail, err := store.PrincipalByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byEmail.ID)
	assert.Equal(t, []byte("hash"), byEmail.PassHash)

	byID, err := store.PrincipalByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, email, byID.Email)

	byUsername, err := store.PrincipalByUsernameOrEmail(ctx, username, "nobody@example.com")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byUsername.ID)

	byEither, err := store.PrincipalByUsernameOrEmail(ctx, "nobody", email)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byEither.ID)
}

func TestFindMissingPrincipal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	_, err := store.PrincipalByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)

	_, err = store.PrincipalByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)

	_, err = store.PrincipalByUsernameOrEmail(ctx, "nobody", "nobody@example.com")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)
}

func TestSaveDuplicatePrincipal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	username := gofakeit.Username()
	email := gofakeit.Email()

	_, err := store.SavePrincipal(ctx, username, email, []byte("hash"))
	require.NoError(t, err)

	_, err = store.SavePrincipal(ctx, username, gofakeit.Email(), []byte("hash"))
	assert.ErrorIs(t, err, storage.ErrPrincipalExists)

	_, err = store.SavePrincipal(ctx, gofakeit.Username(), email, []byte("hash"))
	assert.ErrorIs(t, err, storage.ErrPrincipalExists)
}

func TestRevocationSet(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	saved, err := store.SavePrincipal(ctx, gofakeit.Username(), gofakeit.Email(), []byte("hash"))
	require.NoError(t, err)

	revoked, err := store.IsTokenRevoked(ctx, saved.ID, "t-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.AppendRevokedToken(ctx, saved.ID, "t-1"))
	require.NoError(t, store.AppendRevokedToken(ctx, saved.ID, "t-1")) // idempotent
	require.NoError(t, store.AppendRevokedToken(ctx, saved.ID, "t-2"))

	revoked, err = store.IsTokenRevoked(ctx, saved.ID, "t-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsTokenRevoked(ctx, saved.ID, "t-3")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.ClearRevokedTokens(ctx, saved.ID))

	revoked, err = store.IsTokenRevoked(ctx, saved.ID, "t-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationSetMissingPrincipal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	err := store.AppendRevokedToken(ctx, "missing", "t-1")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)

	_, err = store.IsTokenRevoked(ctx, "missing", "t-1")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)

	err = store.ClearRevokedTokens(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrPrincipalNotFound)
}

func TestReturnedPrincipalDoesNotAliasStore(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	email := gofakeit.Email()

	saved, err := store.SavePrincipal(ctx, gofakeit.Username(), email, []byte("hash"))
	require.NoError(t, err)

	saved.Username = "mutated"
	saved.PassHash[0] = 'X'

	fetched, err := store.PrincipalByEmail(ctx, email)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", fetched.Username)
	assert.Equal(t, []byte("hash"), fetched.PassHash)
}
