package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/eapp/model"
)

// IdempotencyStore remembers accepted submits by key so a retried call
// replays the original result instead of submitting twice.
type IdempotencyStore interface {
	// Check reports whether key was seen. A hit whose input hash differs
	// from inputHash is returned with found set and a CONFLICT error.
	Check(ctx context.Context, key string, inputHash string) (sub *model.ApplicationSubmission, found bool, err error)

	// Store records sub under key until ttl elapses.
	Store(ctx context.Context, key string, inputHash string, sub model.ApplicationSubmission, ttl time.Duration) error
}

// FormatIdempotencyKey scopes a caller key to its product.
func FormatIdempotencyKey(productID, key string) string {
	return "idem:submit:" + productID + ":" + key
}

// hashInput fingerprints what a replay must repeat: the application id and
// the answers.
func hashInput(applicationID string, answers model.Map) string {
	data, _ := json.Marshal(struct {
		ApplicationID string `json:"application_id"`
		Answers       any    `json:"answers"`
	}{applicationID, model.ToAny(answers)})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type replay struct {
	InputHash  string                      `json:"input_hash"`
	Submission model.ApplicationSubmission `json:"submission"`
}

// resolve turns a stored replay into a Check result.
func (r replay) resolve(key, inputHash string) (*model.ApplicationSubmission, bool, error) {
	if r.InputHash != inputHash {
		return nil, true, model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different answers", key))
	}
	sub := r.Submission
	return &sub, true, nil
}

// MemoryIdempotencyStore keeps replays in process. Expired keys are
// evicted when next looked up.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	replays map[string]timedReplay
	now     func() time.Time
}

type timedReplay struct {
	replay
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{replays: map[string]timedReplay{}, now: time.Now}
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.ApplicationSubmission, bool, error) {
	s.mu.Lock()
	r, ok := s.replays[key]
	if ok && !s.now().Before(r.expiresAt) {
		delete(s.replays, key)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, false, nil
	}
	return r.resolve(key, inputHash)
}

func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, sub model.ApplicationSubmission, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replays[key] = timedReplay{
		replay:    replay{InputHash: inputHash, Submission: sub},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len counts stored keys, expired ones included.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replays)
}

func (s *MemoryIdempotencyStore) HealthCheck(context.Context) error { return nil }

// RedisIdempotencyStore keeps replays as JSON strings with a Redis TTL, so
// every eappd instance sharing the Redis sees the same keys.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.ApplicationSubmission, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("idempotency: get %s: %w", key, err)
	}

	var r replay
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("idempotency: decode %s: %w", key, err)
	}
	return r.resolve(key, inputHash)
}

func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, sub model.ApplicationSubmission, ttl time.Duration) error {
	raw, err := json.Marshal(replay{InputHash: inputHash, Submission: sub})
	if err != nil {
		return fmt.Errorf("idempotency: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: set %s: %w", key, err)
	}
	return nil
}

func (s *RedisIdempotencyStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
