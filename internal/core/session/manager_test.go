package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRedis struct {
	redis.RedisServiceInterface
	values map[string]string
	ttls   map[string]time.Duration
}

func newMapRedis() *mapRedis {
	return &mapRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mapRedis) GetValue(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.ErrKeyNotExist
	}
	return v, nil
}

func (m *mapRedis) SetValue(_ context.Context, key, value string, ttl time.Duration) error {
	m.values[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mapRedis) DelValue(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *mapRedis) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMapRedis()
	m := NewManager(store, "pod-a")

	base := time.Unix(1700000000, 0)
	require.NoError(t, m.Register(ctx, CallInfo{RoomName: "call-2", PhoneNumber: "+2", StartTime: base.Add(time.Second)}))
	require.NoError(t, m.Register(ctx, CallInfo{RoomName: "call-1", PhoneNumber: "+1", StartTime: base}))
	assert.Equal(t, SessionTTL, store.ttls[SessionKeyPrefix+":call-1"])

	require.NoError(t, m.UpdateState(ctx, "call-1", "active"))

	calls, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "call-1", calls[0].RoomName)
	assert.Equal(t, "active", calls[0].State)
	assert.Equal(t, "pod-a", calls[1].PodID)

	require.NoError(t, m.Unregister(ctx, "call-1"))
	calls, err = m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, calls, 1)
}

func TestManagerUpdateStateUnknownCall(t *testing.T) {
	m := NewManager(newMapRedis(), "pod-a")
	assert.ErrorIs(t, m.UpdateState(context.Background(), "missing", "active"), redis.ErrKeyNotExist)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry("local")

	require.NoError(t, r.Register(ctx, CallInfo{RoomName: "call-1"}))
	require.NoError(t, r.UpdateState(ctx, "call-1", "greeting"))
	calls, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "greeting", calls[0].State)
	assert.Equal(t, "local", calls[0].PodID)

	require.NoError(t, r.Unregister(ctx, "call-1"))
	calls, _ = r.List(ctx)
	assert.Empty(t, calls)
}
