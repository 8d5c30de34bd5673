package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Ilkenza/siteorg-auth/internal/config"
	"github.com/Ilkenza/siteorg-auth/internal/provider"
	"github.com/Ilkenza/siteorg-auth/internal/provider/providertest"
	"github.com/Ilkenza/siteorg-auth/internal/tokencache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			AcquireAttempts:         4,
			AcquireBackoff:          5 * time.Millisecond,
			HydrateTimeout:          200 * time.Millisecond,
			SignInTimeout:           200 * time.Millisecond,
			StartupTimeout:          time.Second,
			SoftVerifyTimeout:       50 * time.Millisecond,
			HardVerifyTimeout:       500 * time.Millisecond,
			MFAMaxAttempts:          5,
			FactorDiscoveryAttempts: 4,
			FactorDiscoveryBackoff:  5 * time.Millisecond,
		},
	}
}

func aal1Session(token string) *provider.Session {
	return &provider.Session{
		AccessToken:    token,
		RefreshToken:   "refresh-" + token,
		ExpiresAt:      time.Now().Add(time.Hour),
		AssuranceLevel: provider.AAL1,
		User:           provider.Identity{ID: "user-1", Email: "pat@example.com"},
	}
}

func newStore(t *testing.T, client provider.Client) (*Store, *tokencache.Cache) {
	t.Helper()
	cache := tokencache.New(tokencache.NewMemoryStorage(), "test", zap.NewNop())
	store := NewStore(client, cache, testConfig(), zap.NewNop())
	t.Cleanup(store.Close)
	return store, cache
}

func TestAcquirePollsUntilProviderSessionAppears(t *testing.T) {
	fake := providertest.NewFakeClient()
	store, _ := newStore(t, fake)

	sess := aal1Session("a")
	go func() {
		time.Sleep(8 * time.Millisecond)
		fake.SetSession(sess)
	}()

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
	assert.Zero(t, fake.RefreshCalls.Load())
}

func TestAcquireRefreshesExpiredProviderSession(t *testing.T) {
	fake := providertest.NewFakeClient()
	expired := aal1Session("old")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	fake.SetSession(expired)
	fake.RefreshFunc = func(ctx context.Context, token string) (*provider.Session, error) {
		assert.Equal(t, "refresh-old", token)
		return aal1Session("renewed"), nil
	}
	store, _ := newStore(t, fake)

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", got.AccessToken)
}

func TestAcquireKeepsExpiredSessionWhenRenewalFails(t *testing.T) {
	fake := providertest.NewFakeClient()
	expired := aal1Session("old")
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	fake.SetSession(expired)
	fake.RefreshFunc = func(ctx context.Context, token string) (*provider.Session, error) {
		return nil, provider.ErrNetworkTimeout
	}
	store, _ := newStore(t, fake)

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", got.AccessToken)
}

func TestAcquireDecisiveSignOutWithEmptyCache(t *testing.T) {
	fake := providertest.NewFakeClient()
	store, _ := newStore(t, fake)

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, fake.RefreshCalls.Load())
}

func TestAcquireHydratesFromCachedRefreshToken(t *testing.T) {
	fake := providertest.NewFakeClient()
	refreshed := aal1Session("fresh")
	fake.RefreshFunc = func(ctx context.Context, token string) (*provider.Session, error) {
		assert.Equal(t, "refresh-stale", token)
		return refreshed, nil
	}

	store, cache := newStore(t, fake)
	cache.Put(tokencache.FromSession(aal1Session("stale")))

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.AccessToken)
	assert.False(t, got.Unconfirmed)

	assert.Eventually(t, func() bool {
		tok := cache.Get()
		return tok != nil && tok.AccessToken == "fresh"
	}, time.Second, 5*time.Millisecond)
}

func TestAcquireClearsCacheOnRejectedRefresh(t *testing.T) {
	fake := providertest.NewFakeClient()
	fake.RefreshFunc = func(ctx context.Context, token string) (*provider.Session, error) {
		return nil, provider.ErrRefreshRejected
	}

	store, cache := newStore(t, fake)
	cache.Put(tokencache.FromSession(aal1Session("stale")))

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, cache.Get())
}

func TestAcquireFallsBackToUnconfirmedCachedSession(t *testing.T) {
	fake := providertest.NewFakeClient()
	fake.RefreshFunc = func(ctx context.Context, token string) (*provider.Session, error) {
		return nil, provider.ErrNetworkTimeout
	}

	store, cache := newStore(t, fake)
	cached := aal1Session("stale")
	cached.AssuranceLevel = provider.AAL2
	cache.Put(tokencache.FromSession(cached))

	got, err := store.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Unconfirmed)
	assert.Equal(t, "stale", got.AccessToken)
	// Assurance is not downgraded by the fallback path.
	assert.Equal(t, provider.AAL2, got.EffectiveAAL())
}

func TestAcquireTwiceYieldsSameSessionWithoutSideEffects(t *testing.T) {
	fake := providertest.NewFakeClient()
	fake.SetSession(aal1Session("a"))
	store, _ := newStore(t, fake)

	notified := make(chan Change, 4)
	defer store.Subscribe(func(c Change) { notified <- c })()

	first, err := store.Acquire(context.Background())
	require.NoError(t, err)
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no session notification")
	}

	second, err := store.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Zero(t, fake.SignInCalls.Load())
	assert.Zero(t, fake.RefreshCalls.Load())
}

func TestSignOutIsSynchronousAndRevokesInBackground(t *testing.T) {
	fake := providertest.NewFakeClient()
	revokeStarted := make(chan struct{})
	fake.SignOutFunc = func(ctx context.Context, scope provider.SignOutScope) error {
		close(revokeStarted)
		return nil
	}

	store, cache := newStore(t, fake)
	fake.Emit(provider.StateChange{Event: provider.EventSignedIn, Session: aal1Session("a")})
	assert.Eventually(t, func() bool { return store.Current() != nil }, time.Second, time.Millisecond)

	start := time.Now()
	store.SignOut()
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Nil(t, store.Current())
	assert.Nil(t, cache.Get())

	select {
	case <-revokeStarted:
	case <-time.After(time.Second):
		t.Fatal("revoke never fired")
	}
}

func TestNotificationsAreSerialized(t *testing.T) {
	fake := providertest.NewFakeClient()
	store, _ := newStore(t, fake)

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	wg.Add(3)
	store.Subscribe(func(c Change) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		wg.Done()
	})

	fake.Emit(provider.StateChange{Event: provider.EventSignedIn, Session: aal1Session("a")})
	fake.Emit(provider.StateChange{Event: provider.EventTokenRefreshed, Session: aal1Session("b")})
	fake.Emit(provider.StateChange{Event: provider.EventTokenRefreshed, Session: aal1Session("c")})

	wg.Wait()
	assert.False(t, overlapped.Load(), "subscriber callbacks interleaved")
}

func TestTransientAbortDoesNotClearSession(t *testing.T) {
	fake := providertest.NewFakeClient()
	store, _ := newStore(t, fake)

	fake.Emit(provider.StateChange{Event: provider.EventSignedIn, Session: aal1Session("a")})
	assert.Eventually(t, func() bool { return store.Current() != nil }, time.Second, time.Millisecond)

	cleared := atomic.Bool{}
	store.Subscribe(func(c Change) {
		if c.Session == nil {
			cleared.Store(true)
		}
	})

	fake.Emit(provider.StateChange{Event: provider.EventSignedOut, Err: provider.ErrAbortedTransient})

	time.Sleep(50 * time.Millisecond)
	assert.NotNil(t, store.Current())
	assert.False(t, cleared.Load())
}

func TestSignInClassifiedErrorsPropagate(t *testing.T) {
	fake := providertest.NewFakeClient()
	fake.SignInFunc = func(ctx context.Context, email, password string) (*provider.Session, error) {
		return nil, provider.ErrInvalidCredentials
	}
	store, _ := newStore(t, fake)

	_, err := store.SignIn(context.Background(), "pat@example.com", "wrong")
	assert.ErrorIs(t, err, provider.ErrInvalidCredentials)
	assert.False(t, errors.Is(err, provider.ErrNetworkTimeout))
}
