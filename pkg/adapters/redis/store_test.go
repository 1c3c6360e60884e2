package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunSessionStoreContract(t, redis.NewFromClient(client))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("bot1:"))

	s := domain.NewSession("5511999", "wa")
	require.NoError(t, store.Save(context.Background(), s))

	assert.True(t, mr.Exists("bot1:session:wa:5511999"))
	members, err := mr.ZMembers("bot1:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"wa:5511999"}, members)
}

func TestRedisStore_TTLExpiration(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(time.Second))
	ctx := context.Background()

	s := domain.NewSession("ttl", "wa")
	require.NoError(t, store.Save(ctx, s))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, s.ID)

	mr.FastForward(2 * time.Second)

	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRedisStore_DeleteRemovesIndex(t *testing.T) {
	_, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	s := domain.NewSession("gone", "wa")
	require.NoError(t, store.Save(ctx, s))
	require.NoError(t, store.Delete(ctx, s.ID))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, s.ID)
}
