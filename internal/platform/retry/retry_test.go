package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	rec := &sleepRecorder{}
	wantErr := errors.New("dial tcp: connection refused")
	calls := 0
	var retried []int

	err := Do(context.Background(), Options{
		MaxRetries:      4,
		Delay:           100 * time.Millisecond,
		Exponential:     true,
		RetryableErrors: []string{"connection refused"},
		OnRetry:         func(_ error, attempt int) { retried = append(retried, attempt) },
		Sleep:           rec.sleep,
	}, func(context.Context) error {
		calls++
		return wantErr
	})

	require.Same(t, wantErr, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestDoConstantDelay(t *testing.T) {
	rec := &sleepRecorder{}
	_ = Do(context.Background(), Options{MaxRetries: 3, Delay: time.Second, Sleep: rec.sleep}, func(context.Context) error {
		return errors.New("x")
	})
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.delays)
}

func TestDoNonRetryableReturnsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), Options{
		MaxRetries:      5,
		Delay:           time.Second,
		RetryableErrors: []string{"i/o timeout"},
		Sleep:           rec.sleep,
	}, func(context.Context) error {
		calls++
		return errors.New("remote: POST /sales returned 422")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestDoPermanentOverridesDefaultRetryAll(t *testing.T) {
	denied := errors.New("unauthorized")
	calls := 0
	err := Do(context.Background(), Options{
		MaxRetries: 3,
		Permanent:  func(err error) bool { return errors.Is(err, denied) },
		Sleep:      (&sleepRecorder{}).sleep,
	}, func(context.Context) error {
		calls++
		return denied
	})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, 1, calls)
}

func TestDoRetryablePredicateReplacesMarkers(t *testing.T) {
	transient := errors.New("flaky")
	calls := 0
	err := Do(context.Background(), Options{
		MaxRetries:      3,
		RetryableErrors: []string{"never matches"},
		Retryable:       func(err error) bool { return errors.Is(err, transient) },
		Sleep:           (&sleepRecorder{}).sleep,
	}, func(context.Context) error {
		calls++
		return transient
	})
	require.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestDoValueSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), Options{MaxRetries: 3, Sleep: (&sleepRecorder{}).sleep}, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("read: connection reset by peer")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDoCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	wantErr := errors.New("i/o timeout")
	calls := 0
	err := Do(ctx, Options{
		MaxRetries: 10,
		Delay:      time.Hour,
		OnRetry:    func(error, int) { cancel() },
	}, func(context.Context) error {
		calls++
		return wantErr
	})
	require.Same(t, wantErr, err)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Options{}, func(context.Context) error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}
