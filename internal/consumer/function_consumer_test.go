package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	rediscommon "investorkonnect-signing/common/redis"
	"investorkonnect-signing/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testStream = "functions"
	testGroup  = "workers"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []service.FunctionCall
	fail  bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, call service.FunctionCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.fail {
		return errors.New("handler failed")
	}
	return nil
}

func (d *recordingDispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func setup(t *testing.T, d Dispatcher) (*redis.Client, *FunctionConsumer) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := NewFunctionConsumer(client, d, zap.NewNop(), testStream, testGroup, "w1", 10)
	c.block = 10 * time.Millisecond
	require.NoError(t, rediscommon.CreateConsumerGroup(context.Background(), client, testStream, testGroup))
	return client, c
}

func pending(t *testing.T, client *redis.Client) int64 {
	p, err := client.XPending(context.Background(), testStream, testGroup).Result()
	require.NoError(t, err)
	return p.Count
}

func TestConsumeOnce_DispatchesAndAcks(t *testing.T) {
	d := &recordingDispatcher{}
	client, c := setup(t, d)
	ctx := context.Background()

	inv := service.NewStreamFunctionInvoker(client, testStream)
	require.NoError(t, inv.Invoke(ctx, service.FunctionCreateInvitesAfterInvestorSign, map[string]string{"deal_id": "deal-1"}))

	require.NoError(t, c.consumeOnce(ctx))
	require.Equal(t, 1, d.Len())
	assert.Equal(t, service.FunctionCreateInvitesAfterInvestorSign, d.calls[0].Function)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(d.calls[0].Payload, &payload))
	assert.Equal(t, "deal-1", payload["deal_id"])
	assert.Equal(t, int64(0), pending(t, client))
}

func TestConsumeOnce_FailureLeavesMessagePending(t *testing.T) {
	d := &recordingDispatcher{fail: true}
	client, c := setup(t, d)
	ctx := context.Background()

	inv := service.NewStreamFunctionInvoker(client, testStream)
	require.NoError(t, inv.Invoke(ctx, "anything", map[string]string{"deal_id": "deal-1"}))

	require.NoError(t, c.consumeOnce(ctx))
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, int64(1), pending(t, client))
}

func TestConsumeOnce_MalformedMessageIsAcked(t *testing.T) {
	d := &recordingDispatcher{}
	client, c := setup(t, d)
	ctx := context.Background()

	_, err := client.XAdd(ctx, &redis.XAddArgs{Stream: testStream, Values: map[string]interface{}{"data": "not json"}}).Result()
	require.NoError(t, err)

	require.NoError(t, c.consumeOnce(ctx))
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, int64(0), pending(t, client))
}

func TestStart_StopsOnCancel(t *testing.T) {
	d := &recordingDispatcher{}
	client, c := setup(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	inv := service.NewStreamFunctionInvoker(client, testStream)
	require.NoError(t, inv.Invoke(context.Background(), "fn", map[string]string{}))
	require.Eventually(t, func() bool { return d.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
