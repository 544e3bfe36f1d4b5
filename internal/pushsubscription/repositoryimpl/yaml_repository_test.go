package repositoryimpl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/pushsubscription"
	"github.com/kazz187/cardflow/pkg/cerr"
	"github.com/kazz187/cardflow/pkg/storage"
)

func newRepo(t *testing.T) *YAMLRepository {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewYAMLRepository(s)
}

func sub(id, userID, endpoint string) *pushsubscription.Subscription {
	return &pushsubscription.Subscription{
		ID:        id,
		UserID:    userID,
		Endpoint:  endpoint,
		P256dhKey: "p256-" + id,
		AuthKey:   "auth-" + id,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestYAMLRepository_SaveReplacesEndpoint(t *testing.T) {
	ctx := t.Context()
	repo := newRepo(t)

	require.NoError(t, repo.Save(ctx, sub("s1", "alice", "https://push.example/1")))
	require.NoError(t, repo.Save(ctx, sub("s2", "alice", "https://push.example/2")))
	require.NoError(t, repo.Save(ctx, sub("s3", "bob", "https://push.example/1")))

	// Same endpoint again for alice: the older record goes away.
	require.NoError(t, repo.Save(ctx, sub("s4", "alice", "https://push.example/1")))

	alice, err := repo.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, "s2", alice[0].ID)
	assert.Equal(t, "s4", alice[1].ID)
	assert.Equal(t, "p256-s4", alice[1].P256dhKey)

	bob, err := repo.ListByUser(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bob, 1)

	none, err := repo.ListByUser(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestYAMLRepository_DeleteByEndpoint(t *testing.T) {
	ctx := t.Context()
	repo := newRepo(t)
	require.NoError(t, repo.Save(ctx, sub("s1", "alice", "https://push.example/1")))

	assert.True(t, cerr.IsCode(repo.DeleteByEndpoint(ctx, "bob", "https://push.example/1"), cerr.NotFound))
	require.NoError(t, repo.DeleteByEndpoint(ctx, "alice", "https://push.example/1"))

	_, err := repo.FindByEndpoint(ctx, "alice", "https://push.example/1")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.True(t, cerr.IsCode(repo.Delete(ctx, "alice", "s1"), cerr.NotFound))
	assert.True(t, cerr.IsCode(repo.Save(ctx, sub("s2", "", "x")), cerr.InvalidArgument))
}
