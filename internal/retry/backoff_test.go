package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_SucceedsAfterRetries(t *testing.T) {
	b := New(time.Millisecond, 3, 0)
	calls := 0
	var waits []time.Duration
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	}, func(_ int, wait time.Duration, _ error) { waits = append(waits, wait) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestBackoff_Exhausted(t *testing.T) {
	b := New(time.Millisecond, 2, 0)
	calls := 0
	sentinel := errors.New("down")
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return sentinel
	}, nil)

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestBackoff_PermanentStopsImmediately(t *testing.T) {
	b := New(time.Millisecond, 5, 0)
	calls := 0
	sentinel := errors.New("bad request")
	err := b.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(sentinel)
	}, nil)

	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_AttemptTimeout(t *testing.T) {
	b := New(time.Millisecond, 0, 5*time.Millisecond)
	err := b.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := New(time.Second, 3, 0)
	err := b.Do(ctx, func(context.Context) error { return errors.New("x") }, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValue_RetriesTransientErrors(t *testing.T) {
	calls := 0
	v, err := Value(context.Background(), New(time.Millisecond, 2, 0), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestValue_FinalErrorsStopImmediately(t *testing.T) {
	notFound := errors.New("not found")
	calls := 0
	_, err := Value(context.Background(), New(time.Millisecond, 3, 0), func(context.Context) (string, error) {
		calls++
		return "", notFound
	}, func(err error) bool { return errors.Is(err, notFound) }, nil)

	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}
