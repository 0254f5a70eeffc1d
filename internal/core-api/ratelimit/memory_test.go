package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_ExpiryResetsBucket(t *testing.T) {
	clock := NewManualClock(0)
	l := NewMemoryLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k", 3, 1, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "k", 3, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	clock.Advance(10 * time.Second)
	res, err = l.Allow(ctx, "k", 3, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 2.0, res.Tokens)
}

func TestMemoryLimiter_InvalidPolicy(t *testing.T) {
	l := NewMemoryLimiter(NewManualClock(0))
	_, err := l.Allow(context.Background(), "k", 0, 1, 1)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
	_, err = l.Allow(context.Background(), "k", 1, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l := NewMemoryLimiter(NewManualClock(0))
	ctx := context.Background()

	res, _ := l.Allow(ctx, "a", 1, 1, 1)
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "a", 1, 1, 1)
	assert.False(t, res.Allowed)
	res, _ = l.Allow(ctx, "b", 1, 1, 1)
	assert.True(t, res.Allowed)
}
