package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/transport"
)

func newTestScheduler(t *testing.T, tr transport.Transport) (*Scheduler, *Correlator) {
	t.Helper()
	correlator := NewCorrelator(time.Minute, zap.NewNop())
	s, err := NewScheduler("target-1", "text", tr, correlator, 5*time.Millisecond, 15*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	return s, correlator
}

func TestScheduler_RejectsInvalidDelayRange(t *testing.T) {
	tr := transport.NewMockTransport()
	correlator := NewCorrelator(time.Minute, zap.NewNop())

	_, err := NewScheduler("t", "text", tr, correlator, 100*time.Millisecond, 100*time.Millisecond, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler("t", "text", tr, correlator, 200*time.Millisecond, 100*time.Millisecond, zap.NewNop())
	assert.Error(t, err)
}

func TestScheduler_SendsAndRegistersProbes(t *testing.T) {
	tr := transport.NewMockTransport()
	s, correlator := newTestScheduler(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return tr.SentCount() >= 3
	}, time.Second, 5*time.Millisecond, "scheduler must keep sending probes")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for scheduler to stop")
	}

	assert.Equal(t, SchedulerStopped, s.State())
	assert.Equal(t, tr.SentCount(), correlator.Pending(), "every sent probe must be registered")

	for _, probe := range tr.SentProbes() {
		assert.Equal(t, "target-1", probe.TargetID)
		assert.Equal(t, "text", probe.Method)
	}
}

func TestScheduler_StopObservedBeforeNextSend(t *testing.T) {
	tr := transport.NewMockTransport()
	s, _ := newTestScheduler(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return tr.SentCount() >= 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	sent := tr.SentCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, tr.SentCount(), "no probe may be sent after stop")
}

func TestScheduler_PauseSuppressesSends(t *testing.T) {
	tr := transport.NewMockTransport()
	s, _ := newTestScheduler(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return tr.SentCount() >= 1 }, time.Second, time.Millisecond)

	s.Pause()
	require.True(t, s.Paused())
	// Let any in-flight cycle finish, then confirm the count is flat.
	time.Sleep(30 * time.Millisecond)
	paused := tr.SentCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, paused, tr.SentCount())

	s.Resume()
	require.Eventually(t, func() bool {
		return tr.SentCount() > paused
	}, time.Second, time.Millisecond, "resume must restart the cadence")
}

func TestScheduler_SendFailureIsNotFatal(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.SetSendError(errors.New("transport rejected"))
	s, correlator := newTestScheduler(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, SchedulerRunning, s.State(), "failures must not stop the loop")
	assert.Equal(t, 0, correlator.Pending())

	// Loop recovers as soon as the transport does.
	tr.SetSendError(nil)
	require.Eventually(t, func() bool {
		return tr.SentCount() >= 1
	}, time.Second, time.Millisecond)
}

func TestScheduler_SetDelayRangeValidation(t *testing.T) {
	tr := transport.NewMockTransport()
	s, _ := newTestScheduler(t, tr)

	require.NoError(t, s.SetDelayRange(10*time.Millisecond, 20*time.Millisecond))
	assert.Error(t, s.SetDelayRange(20*time.Millisecond, 10*time.Millisecond))
	assert.Error(t, s.SetDelayRange(0, 10*time.Millisecond))

	// The last valid range survives a rejected update.
	s.delayMu.Lock()
	minDelay, maxDelay := s.minDelay, s.maxDelay
	s.delayMu.Unlock()
	assert.Equal(t, 10*time.Millisecond, minDelay)
	assert.Equal(t, 20*time.Millisecond, maxDelay)
}
