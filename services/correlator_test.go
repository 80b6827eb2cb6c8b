package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCorrelator_ResolveElapsed(t *testing.T) {
	c := NewCorrelator(time.Minute, zap.NewNop())

	sentAt := time.Now()
	c.Register("P1", sentAt)
	require.Equal(t, 1, c.Pending())

	elapsed, ok := c.Resolve("P1", sentAt.Add(250*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, float64(250), elapsed)
	assert.Equal(t, 0, c.Pending(), "resolution must remove the pending entry")
}

func TestCorrelator_UnknownProbeIsSilentMiss(t *testing.T) {
	c := NewCorrelator(time.Minute, zap.NewNop())

	c.Register("P1", time.Now())

	_, ok := c.Resolve("P2", time.Now())
	assert.False(t, ok)
	assert.Equal(t, 1, c.Pending(), "a miss must have no side effect")
}

func TestCorrelator_ResolveTwice(t *testing.T) {
	c := NewCorrelator(time.Minute, zap.NewNop())

	sentAt := time.Now()
	c.Register("P1", sentAt)

	_, ok := c.Resolve("P1", sentAt.Add(100*time.Millisecond))
	require.True(t, ok)

	_, ok = c.Resolve("P1", sentAt.Add(200*time.Millisecond))
	assert.False(t, ok, "an already-resolved probe is a miss")
}

func TestCorrelator_DuplicateRegisterOverwrites(t *testing.T) {
	c := NewCorrelator(time.Minute, zap.NewNop())

	sentAt := time.Now()
	c.Register("P1", sentAt)
	c.Register("P1", sentAt.Add(100*time.Millisecond))
	require.Equal(t, 1, c.Pending())

	elapsed, ok := c.Resolve("P1", sentAt.Add(250*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, float64(150), elapsed)
}

func TestCorrelator_TimeoutEvicts(t *testing.T) {
	c := NewCorrelator(20*time.Millisecond, zap.NewNop())

	c.Register("P1", time.Now())

	require.Eventually(t, func() bool {
		return c.Pending() == 0
	}, time.Second, 5*time.Millisecond, "timeout must evict the pending probe")

	_, ok := c.Resolve("P1", time.Now())
	assert.False(t, ok, "a timed-out probe resolves as a miss")
}

func TestCorrelator_ClearStopsTimers(t *testing.T) {
	c := NewCorrelator(time.Minute, zap.NewNop())

	for _, id := range []string{"P1", "P2", "P3"} {
		c.Register(id, time.Now())
	}
	require.Equal(t, 3, c.Pending())

	c.Clear()
	assert.Equal(t, 0, c.Pending())

	_, ok := c.Resolve("P2", time.Now())
	assert.False(t, ok)
}
