package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arenarelay/internal/domain"
)

// claimLua creates the trigger hash only when it does not exist yet, so two
// relays racing on the same token cannot both win.
const claimLua = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 0
end
redis.call('HSET', KEYS[1], 'nonce', ARGV[1], 'record', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// removeLua deletes the trigger hash only while it still carries the caller's
// nonce. A newer dispatch to the same recipient is left alone.
const removeLua = `
if redis.call('HGET', KEYS[1], 'nonce') == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const triggerKeyPrefix = "trigger:"

// TriggerStore implements domain.TriggerStore on Redis hashes. Every record
// carries a TTL so a crashed relay cannot leave a recipient blocked forever.
type TriggerStore struct {
	rdb      *redis.Client
	ttl      time.Duration
	claimSc  *redis.Script
	removeSc *redis.Script
}

// NewTriggerStore creates a TriggerStore whose records expire after ttl.
func NewTriggerStore(c *Client, ttl time.Duration) *TriggerStore {
	return &TriggerStore{
		rdb:      c.Underlying(),
		ttl:      ttl,
		claimSc:  redis.NewScript(claimLua),
		removeSc: redis.NewScript(removeLua),
	}
}

func triggerKey(token string) string {
	return triggerKeyPrefix + token
}

// Claim stores rec if no record is active for rec.Token.
func (s *TriggerStore) Claim(ctx context.Context, rec domain.TriggerRecord) (bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("redis: marshal trigger %s: %w", rec.Token, err)
	}
	n, err := s.claimSc.Run(ctx, s.rdb, []string{triggerKey(rec.Token)},
		rec.Nonce, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: claim trigger %s: %w", rec.Token, err)
	}
	return n == 1, nil
}

// Get returns the active record for token.
func (s *TriggerStore) Get(ctx context.Context, token string) (domain.TriggerRecord, error) {
	data, err := s.rdb.HGet(ctx, triggerKey(token), "record").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TriggerRecord{}, domain.ErrNotFound
		}
		return domain.TriggerRecord{}, fmt.Errorf("redis: get trigger %s: %w", token, err)
	}
	var rec domain.TriggerRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.TriggerRecord{}, fmt.Errorf("redis: unmarshal trigger %s: %w", token, err)
	}
	return rec, nil
}

// Remove deletes the record for rec.Token if its nonce still matches.
func (s *TriggerStore) Remove(ctx context.Context, rec domain.TriggerRecord) (bool, error) {
	n, err := s.removeSc.Run(ctx, s.rdb, []string{triggerKey(rec.Token)}, rec.Nonce).Int()
	if err != nil {
		return false, fmt.Errorf("redis: remove trigger %s: %w", rec.Token, err)
	}
	return n == 1, nil
}

// List scans the trigger keyspace and returns every active record ordered by
// start time. Keys that expire mid-scan are skipped.
func (s *TriggerStore) List(ctx context.Context) ([]domain.TriggerRecord, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, triggerKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan triggers: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HGet(ctx, k, "record")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: list triggers: %w", err)
	}

	out := make([]domain.TriggerRecord, 0, len(keys))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var rec domain.TriggerRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("redis: unmarshal trigger %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Compile-time interface check.
var _ domain.TriggerStore = (*TriggerStore)(nil)
