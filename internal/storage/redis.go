package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"opportunist/internal/model"
)

const (
	fingerprintKeyPrefix = "opportunist:fp:"
	runKeyPrefix         = "opportunist:run:"
)

// beginRunScript is an atomic check-and-set over the window's run key.
// KEYS[1] run key, ARGV[1] attempt id, ARGV[2] lease in milliseconds.
// Returns "<prior>:acquired" or "<prior>:held".
var beginRunScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local status = string.match(cur, '^[^:]+')
  if status == 'delivered' then
    return 'delivered:held'
  end
  if status == 'running' then
    return 'running:held'
  end
  redis.call('SET', KEYS[1], 'running:' .. ARGV[1], 'PX', ARGV[2])
  return status .. ':acquired'
end
redis.call('SET', KEYS[1], 'running:' .. ARGV[1], 'PX', ARGV[2])
return 'pending:acquired'
`)

// finishRunScript writes the terminal status only when the window is still
// held by this attempt (or the claim already expired). KEYS[1] run key,
// ARGV[1] attempt id, ARGV[2] status, ARGV[3] retention in milliseconds.
var finishRunScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= 'running:' .. ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Redis implements Store on a shared Redis instance. Fingerprint retention
// uses native key TTLs; the window lock is a single key whose lease expires
// automatically if an attempt dies mid-run.
type Redis struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedis parses redisURL, verifies connectivity, and keeps delivered
// fingerprints for the given retention horizon.
func NewRedis(ctx context.Context, redisURL string, retention time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: redis ping: %v", ErrUnavailable, err)
	}

	return &Redis{client: client, retention: retention}, nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	return r.client.Close()
}

// IsDelivered checks the fingerprint key; expired keys read as absent.
func (r *Redis) IsDelivered(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, fingerprintKeyPrefix+fingerprint).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check delivered: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// MarkDelivered sets the fingerprint key with the retention TTL. SET NX
// makes the second concurrent writer a no-op.
func (r *Redis) MarkDelivered(ctx context.Context, fingerprint string, window model.Window) error {
	err := r.client.SetNX(ctx, fingerprintKeyPrefix+fingerprint, window.Date, r.retention).Err()
	if err != nil {
		return fmt.Errorf("%w: mark delivered: %v", ErrUnavailable, err)
	}
	return nil
}

// BeginRun claims the window via the check-and-set script.
func (r *Redis) BeginRun(ctx context.Context, window model.Window, attemptID string, lease time.Duration) (model.RunStatus, bool, error) {
	res, err := beginRunScript.Run(ctx, r.client,
		[]string{runKeyPrefix + window.Date},
		attemptID, lease.Milliseconds(),
	).Text()
	if err != nil {
		return "", false, fmt.Errorf("%w: begin run: %v", ErrUnavailable, err)
	}

	prior, outcome, ok := strings.Cut(res, ":")
	if !ok {
		return "", false, fmt.Errorf("%w: begin run reply %q", ErrUnavailable, res)
	}
	return model.RunStatus(prior), outcome == "acquired", nil
}

// FinishRun writes the terminal status if this attempt still holds the
// window; the key keeps the retention TTL so delivered windows are
// remembered well past the freshness horizon.
func (r *Redis) FinishRun(ctx context.Context, window model.Window, attemptID string, status model.RunStatus) error {
	err := finishRunScript.Run(ctx, r.client,
		[]string{runKeyPrefix + window.Date},
		attemptID, string(status), r.retention.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: finish run: %v", ErrUnavailable, err)
	}
	return nil
}

