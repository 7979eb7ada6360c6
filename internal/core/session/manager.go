package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/ClareAI/astra-outbound-caller/pkg/redis"
	"go.uber.org/zap"
)

const (
	SessionKeyPrefix = "astra:outbound:call:info"
	SessionTTL       = 1 * time.Hour
)

// CallInfo represents monitoring data for a live outbound call
type CallInfo struct {
	RoomName     string    `json:"roomName"`
	DispatchID   string    `json:"dispatchId"`
	PodID        string    `json:"podId"`
	PhoneNumber  string    `json:"phoneNumber"`
	CustomerName string    `json:"customerName"`
	State        string    `json:"state"`
	StartTime    time.Time `json:"startTime"`
}

// Registry tracks live calls. Manager is the Redis-backed implementation.
type Registry interface {
	Register(ctx context.Context, info CallInfo) error
	UpdateState(ctx context.Context, roomName, state string) error
	Unregister(ctx context.Context, roomName string) error
	List(ctx context.Context) ([]CallInfo, error)
}

type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

func key(roomName string) string {
	return fmt.Sprintf("%s:%s", SessionKeyPrefix, roomName)
}

// Register call for monitoring
func (m *Manager) Register(ctx context.Context, info CallInfo) error {
	info.PodID = m.podID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	if err := m.redisSvc.SetValue(ctx, key(info.RoomName), string(data), SessionTTL); err != nil {
		return fmt.Errorf("register call %s: %w", info.RoomName, err)
	}
	logger.Base().Info("Call registered in Redis", zap.String("room_name", info.RoomName), zap.String("pod_id", m.podID))
	return nil
}

// UpdateState rewrites the stored state, keeping the TTL fresh.
func (m *Manager) UpdateState(ctx context.Context, roomName, state string) error {
	raw, err := m.redisSvc.GetValue(ctx, key(roomName))
	if err != nil {
		return fmt.Errorf("load call %s: %w", roomName, err)
	}

	var info CallInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return fmt.Errorf("decode call %s: %w", roomName, err)
	}
	info.State = state

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return m.redisSvc.SetValue(ctx, key(roomName), string(data), SessionTTL)
}

// Unregister call from monitoring
func (m *Manager) Unregister(ctx context.Context, roomName string) error {
	return m.redisSvc.DelValue(ctx, key(roomName))
}

// List returns every registered call across pods, oldest first.
func (m *Manager) List(ctx context.Context) ([]CallInfo, error) {
	keys, err := m.redisSvc.ScanKeys(ctx, SessionKeyPrefix+":*")
	if err != nil {
		return nil, err
	}

	calls := make([]CallInfo, 0, len(keys))
	for _, k := range keys {
		raw, err := m.redisSvc.GetValue(ctx, k)
		if err != nil {
			// expired between SCAN and GET
			continue
		}
		var info CallInfo
		if err := json.Unmarshal([]byte(raw), &info); err != nil {
			logger.Base().Warn("Skipping malformed call record", zap.String("key", k), zap.Error(err))
			continue
		}
		calls = append(calls, info)
	}

	sort.Slice(calls, func(i, j int) bool { return calls[i].StartTime.Before(calls[j].StartTime) })
	return calls, nil
}
