package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Do(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	boom := errors.New("boom")

	t.Run("SucceedsAfterFailures", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "blob", func(context.Context) error {
			calls++
			if calls < 3 {
				return boom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Exhausted", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), "bucket/email/0", func(context.Context) error {
			calls++
			return boom
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
		assert.ErrorIs(t, err, ErrPersistenceFailed)
		assert.ErrorIs(t, err, boom)

		var pe *PersistenceError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "bucket/email/0", pe.Name)
		assert.Equal(t, 3, pe.Attempts)
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := RetryPolicy{MaxAttempts: 5, Delay: time.Hour}
		calls := 0
		err := slow.Do(ctx, "blob", func(context.Context) error {
			calls++
			cancel()
			return boom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("ZeroAttemptsMeansOne", func(t *testing.T) {
		calls := 0
		_ = RetryPolicy{}.Do(context.Background(), "blob", func(context.Context) error {
			calls++
			return boom
		})
		assert.Equal(t, 1, calls)
	})
}
