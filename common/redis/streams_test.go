package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStreamRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestStreams_PublishReadAck(t *testing.T) {
	client := setupStreamRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "functions", "workers"))
	// second create is a no-op
	require.NoError(t, CreateConsumerGroup(ctx, client, "functions", "workers"))

	id, err := PublishJSONToStream(ctx, client, "functions", map[string]string{"deal_id": "deal-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadFromStream(ctx, client, "functions", "workers", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.JSONEq(t, `{"deal_id":"deal-1"}`, msgs[0].Values["data"].(string))

	require.NoError(t, Ack(ctx, client, "functions", "workers", msgs[0].ID))

	pending, err := client.XPending(ctx, "functions", "workers").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
}
