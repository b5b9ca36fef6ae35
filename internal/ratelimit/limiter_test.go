package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryAdmitsOneThenBlocks(t *testing.T) {
	l := Every("test", time.Hour)

	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	assert.Equal(t, "test", l.Name())
}

func TestWaitHonoursContext(t *testing.T) {
	l := Every("slow", time.Hour)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait for slow")
}

func TestSharedReturnsSameLimiter(t *testing.T) {
	ResetShared()
	t.Cleanup(ResetShared)

	first := Shared("googlebooks", time.Second)
	second := Shared("googlebooks", time.Minute)
	other := Shared("openbd", time.Second)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}

func TestNewAllowsBurst(t *testing.T) {
	l := New("burst", 3)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(), "request %d should be allowed", i)
	}
}
