package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoValueRetriesUpToAttempts(t *testing.T) {
	p := Policy{Attempts: 4, Backoff: time.Millisecond}

	calls := 0
	_, err := DoValue(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoValueReturnsFirstSuccess(t *testing.T) {
	p := Policy{Attempts: 4, Backoff: time.Millisecond}

	calls := 0
	v, err := DoValue(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestPermanentStopsRetrying(t *testing.T) {
	p := Policy{Attempts: 5, Backoff: time.Millisecond}
	sentinel := errors.New("bad credentials")

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestTimeoutBoundsAllAttempts(t *testing.T) {
	p := Policy{Attempts: 100, Backoff: 10 * time.Millisecond, Timeout: 50 * time.Millisecond}

	start := time.Now()
	err := p.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("slow backend")
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCancelledContextShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Policy{Attempts: 3, Backoff: time.Millisecond}.Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
