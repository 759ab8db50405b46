package intake

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/eapp/model"
)

func testSubmission() model.ApplicationSubmission {
	return model.ApplicationSubmission{
		Envelope: model.Envelope{
			SchemaVersion: model.SchemaVersion,
			SubmissionID:  "sub-1",
			ApplicationID: "app-1",
			ProductID:     "fia-7",
		},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var env *model.ErrorEnvelope
	require.ErrorAs(t, err, &env)
	assert.Equal(t, code, env.Code)
}

// --- MemoryIdempotencyStore ---

func TestMemoryIdempotencyStore_CheckNotFound(t *testing.T) {
	store := NewMemoryIdempotencyStore()

	sub, found, err := store.Check(context.Background(), "idem:submit:fia-7:key1", "hash-abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, sub)
}

func TestMemoryIdempotencyStore_StoreAndCheck(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), 5*time.Minute))

	sub, found, err := store.Check(ctx, key, "hash-abc")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, sub)
	assert.Equal(t, "sub-1", sub.Envelope.SubmissionID)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), 5*time.Minute))

	_, found, err := store.Check(ctx, key, "hash-different")
	assert.True(t, found, "key exists")
	requireCode(t, err, model.ErrConflict)
}

func TestMemoryIdempotencyStore_TTLExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), time.Minute))

	now = now.Add(2 * time.Minute)
	sub, found, err := store.Check(ctx, key, "hash-abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, sub)
	assert.Equal(t, 0, store.Len(), "expired entry should be evicted")
}

// --- RedisIdempotencyStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisIdempotencyStore_CheckNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)

	sub, found, err := store.Check(context.Background(), "idem:submit:fia-7:missing", "hash")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, sub)
}

func TestRedisIdempotencyStore_StoreAndCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), 5*time.Minute))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 5*time.Minute, mr.TTL(key))

	sub, found, err := store.Check(ctx, key, "hash-abc")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "app-1", sub.Envelope.ApplicationID)
}

func TestRedisIdempotencyStore_ConflictOnHashMismatch(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), 5*time.Minute))

	_, found, err := store.Check(ctx, key, "hash-other")
	assert.True(t, found)
	requireCode(t, err, model.ErrConflict)
}

func TestRedisIdempotencyStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	ctx := context.Background()
	key := FormatIdempotencyKey("fia-7", "key1")

	require.NoError(t, store.Store(ctx, key, "hash-abc", testSubmission(), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, found, err := store.Check(ctx, key, "hash-abc")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisIdempotencyStore_corruptEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)
	key := FormatIdempotencyKey("fia-7", "key1")
	require.NoError(t, mr.Set(key, "{not json"))

	_, _, err := store.Check(context.Background(), key, "hash")
	assert.Error(t, err)
}

func TestRedisIdempotencyStore_HealthCheck(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisIdempotencyStore(client)

	assert.NoError(t, store.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, store.HealthCheck(context.Background()))
}

// --- helpers ---

func TestFormatIdempotencyKey(t *testing.T) {
	assert.Equal(t, "idem:submit:fia-7:abc", FormatIdempotencyKey("fia-7", "abc"))
}

func TestHashInput(t *testing.T) {
	a := model.Map{"owner_type": model.Text("individual"), "premium": model.Int(50000)}
	b := model.Map{"premium": model.Int(50000), "owner_type": model.Text("individual")}

	assert.Equal(t, hashInput("app-1", a), hashInput("app-1", b), "key order must not matter")
	assert.NotEqual(t, hashInput("app-1", a), hashInput("app-2", a))

	b["premium"] = model.Int(60000)
	assert.NotEqual(t, hashInput("app-1", a), hashInput("app-1", b))
}
