package capacity

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// heldSetKey is the single Redis key backing the platform-wide counter.
// There is intentionally one key for the whole platform, not one per pod —
// the cap in spec §3 is global, not per-instance.
const heldSetKey = "callgate:global:active_calls"

// RedisStore is the Store implementation backed by a shared Redis instance
// (spec §4.1: "a shared counter, not a per-process one").
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client. Callers own the client's
// lifecycle.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) CheckCapacity(ctx context.Context, limit int) (CheckResult, error) {
	current, err := s.client.SCard(ctx, heldSetKey).Result()
	if err != nil {
		return CheckResult{}, fmt.Errorf("capacity: check: %w", err)
	}
	cur := int(current)
	remaining := limit - cur
	if remaining < 0 {
		remaining = 0
	}
	return CheckResult{
		Available: cur < limit,
		Current:   cur,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

func (s *RedisStore) AcquireSlot(ctx context.Context, callID string, limit int) (AcquireResult, error) {
	raw, err := acquireScript.Run(ctx, s.client, []string{heldSetKey}, callID, limit).Result()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("capacity: acquire: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 3 {
		return AcquireResult{}, fmt.Errorf("capacity: acquire: unexpected script result %T", raw)
	}
	success := toInt64(vals[0]) == 1
	current := int(toInt64(vals[1]))
	idempotent := toInt64(vals[2]) == 1
	return AcquireResult{Success: success, Current: current, Idempotent: idempotent}, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, callID string) (ReleaseResult, error) {
	raw, err := releaseScript.Run(ctx, s.client, []string{heldSetKey}, callID).Result()
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("capacity: release: %w", err)
	}
	return ReleaseResult{Success: true, Current: int(toInt64(raw))}, nil
}

func (s *RedisStore) GlobalStatus(ctx context.Context, limit int) (GlobalStatus, error) {
	callIDs, err := s.client.SMembers(ctx, heldSetKey).Result()
	if err != nil {
		return GlobalStatus{}, fmt.Errorf("capacity: status: %w", err)
	}
	current := len(callIDs)
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return GlobalStatus{
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
		CallIDs:   callIDs,
	}, nil
}

func (s *RedisStore) ForceReset(ctx context.Context) error {
	if err := s.client.Del(ctx, heldSetKey).Err(); err != nil {
		return fmt.Errorf("capacity: force reset: %w", err)
	}
	return nil
}

func (s *RedisStore) CleanupStuck(ctx context.Context, liveCallIDs []string) (int, error) {
	args := make([]interface{}, len(liveCallIDs))
	for i, id := range liveCallIDs {
		args[i] = id
	}
	raw, err := cleanupStuckScript.Run(ctx, s.client, []string{heldSetKey}, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("capacity: cleanup stuck: %w", err)
	}
	return int(toInt64(raw)), nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
