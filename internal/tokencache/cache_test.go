package tokencache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// failingStorage simulates quota exhaustion or an unavailable backend.
type failingStorage struct{}

func (failingStorage) Get(string) (string, error)  { return "", errors.New("storage unavailable") }
func (failingStorage) Set(string, string) error    { return errors.New("quota exceeded") }
func (failingStorage) Remove(string) error         { return errors.New("storage unavailable") }

func sampleSession() *provider.Session {
	return &provider.Session{
		AccessToken:    "access-1",
		RefreshToken:   "refresh-1",
		ExpiresAt:      time.Unix(1900000000, 0),
		AssuranceLevel: provider.AAL2,
		User: provider.Identity{
			ID:    "user-1",
			Email: "pat@example.com",
			Name:  "Pat",
		},
	}
}

func TestCacheRoundTrip(t *testing.T) {
	cache := New(NewMemoryStorage(), "proj", zap.NewNop())

	require.Nil(t, cache.Get())

	cache.Put(FromSession(sampleSession()))
	got := cache.Get()
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, string(provider.AAL2), got.AssuranceLevel)

	restored := got.Session()
	if diff := cmp.Diff(sampleSession(), restored); diff != "" {
		t.Errorf("restored session mismatch (-want +got):\n%s", diff)
	}

	cache.Clear()
	assert.Nil(t, cache.Get())
}

func TestCacheSwallowsStorageFailures(t *testing.T) {
	cache := New(failingStorage{}, "proj", zap.NewNop())

	// None of these may panic or propagate errors.
	cache.Put(FromSession(sampleSession()))
	assert.Nil(t, cache.Get())
	cache.Clear()
	cache.PutPendingFactor("factor-1")
	assert.Empty(t, cache.PendingFactor())
	cache.ClearPendingFactor()
}

func TestCacheIgnoresCorruptEntry(t *testing.T) {
	storage := NewMemoryStorage()
	cache := New(storage, "proj", zap.NewNop())

	require.NoError(t, storage.Set("siteorg.auth.token.proj.v1", "{not json"))
	assert.Nil(t, cache.Get())
}

func TestCacheScopesKeysByProject(t *testing.T) {
	storage := NewMemoryStorage()
	a := New(storage, "alpha", zap.NewNop())
	b := New(storage, "beta", zap.NewNop())

	a.Put(FromSession(sampleSession()))
	assert.NotNil(t, a.Get())
	assert.Nil(t, b.Get())
}

func TestCacheLastWriteWins(t *testing.T) {
	storage := NewMemoryStorage()
	cache := New(storage, "proj", zap.NewNop())

	// Two uncoordinated writers racing; whichever write lands last is what
	// a subsequent read observes, with no torn entries in between.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sess := sampleSession()
			if n == 1 {
				sess.AccessToken = "access-2"
			}
			for j := 0; j < 50; j++ {
				cache.Put(FromSession(sess))
			}
		}(i)
	}
	wg.Wait()

	got := cache.Get()
	require.NotNil(t, got)
	assert.Contains(t, []string{"access-1", "access-2"}, got.AccessToken)
}

func TestPendingFactorRoundTrip(t *testing.T) {
	cache := New(NewMemoryStorage(), "proj", zap.NewNop())

	assert.Empty(t, cache.PendingFactor())
	cache.PutPendingFactor("factor-1")
	assert.Equal(t, "factor-1", cache.PendingFactor())
	cache.ClearPendingFactor()
	assert.Empty(t, cache.PendingFactor())
}

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	storage := NewRedisStorage(client)

	_, err := storage.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, storage.Set("k", "v"))
	got, err := storage.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, storage.Remove("k"))
	_, err = storage.Get("k")
	assert.ErrorIs(t, err, ErrNotFound)

	cache := New(storage, "proj", zap.NewNop())
	cache.Put(FromSession(sampleSession()))
	require.NotNil(t, cache.Get())

	// Backend going away mid-session degrades, never fails.
	mr.Close()
	assert.Nil(t, cache.Get())
	cache.Put(FromSession(sampleSession()))
}
