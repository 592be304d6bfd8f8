package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

type fakeTimer struct {
	at    time.Time
	fn    func()
	stops int
}

func (t *fakeTimer) Stop() { t.stops++ }

type fakeTimers struct {
	mu    sync.Mutex
	armed []*fakeTimer
}

func (f *fakeTimers) At(at time.Time, fn func()) (Timer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: at, fn: fn}
	f.armed = append(f.armed, t)
	return t, nil
}

func (f *fakeTimers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}

func (f *fakeTimers) get(i int) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[i]
}

type harness struct {
	sched  *Scheduler
	timers *fakeTimers
	runs   int
	errs   []error
	now    time.Time
}

func newHarness(t *testing.T, times ...string) *harness {
	t.Helper()
	dt, err := ParseDailyTimes(times)
	require.NoError(t, err)

	h := &harness{
		timers: &fakeTimers{},
		now:    time.Date(2024, 11, 20, 10, 0, 0, 0, time.UTC),
	}
	h.sched, err = New(Options{
		Times:      dt,
		Timers:     h.timers,
		Location:   time.UTC,
		RetryDelay: 5 * time.Minute,
		Now:        func() time.Time { return h.now },
		Run: func(ctx context.Context) error {
			h.runs++
			if len(h.errs) == 0 {
				return nil
			}
			err := h.errs[0]
			h.errs = h.errs[1:]
			return err
		},
	})
	require.NoError(t, err)
	return h
}

func transientErr() error {
	return fmt.Errorf("update: %w", meteocat.ErrUnreachable)
}

func TestArmTwiceLeavesOneRegularTimer(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")

	require.NoError(t, h.sched.Arm())
	require.NoError(t, h.sched.Arm())

	require.Equal(t, 2, h.timers.count())
	assert.Equal(t, 1, h.timers.get(0).stops)
	assert.Equal(t, 0, h.timers.get(1).stops)

	next, ok := h.sched.NextUpdate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 20, 14, 0, 0, 0, time.UTC), next)

	// The replaced timer's callback is inert.
	h.timers.get(0).fn()
	assert.Equal(t, 0, h.runs)
}

func TestRegularFireRunsAndRearms(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")
	require.NoError(t, h.sched.Start())

	h.now = time.Date(2024, 11, 20, 14, 0, 0, 0, time.UTC)
	h.timers.get(0).fn()

	assert.Equal(t, 1, h.runs)
	require.Equal(t, 2, h.timers.count())
	assert.Equal(t, time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC), h.timers.get(1).at)
	// A fired timer is not cancelled again.
	assert.Equal(t, 0, h.timers.get(0).stops)

	_, pending := h.sched.RetryPending()
	assert.False(t, pending)
}

func TestFailedRunStillRearms(t *testing.T) {
	h := newHarness(t, "06:00")
	h.errs = []error{fmt.Errorf("cycle: %w", weather.ErrCriticalDataMissing)}
	require.NoError(t, h.sched.Start())

	h.now = time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC)
	h.timers.get(0).fn()

	next, ok := h.sched.NextUpdate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 22, 6, 0, 0, 0, time.UTC), next)
	_, pending := h.sched.RetryPending()
	assert.False(t, pending)
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, "06:00")
	h.errs = []error{fmt.Errorf("cycle: %w", meteocat.ErrAuth)}
	require.NoError(t, h.sched.Start())

	h.timers.get(0).fn()

	_, pending := h.sched.RetryPending()
	assert.False(t, pending)
}

func TestTransientFailureRetriesExactlyOnce(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")
	h.errs = []error{transientErr(), transientErr()}
	require.NoError(t, h.sched.Start())

	h.now = time.Date(2024, 11, 20, 14, 0, 0, 0, time.UTC)
	h.timers.get(0).fn()

	at, pending := h.sched.RetryPending()
	require.True(t, pending)
	assert.Equal(t, h.now.Add(5*time.Minute), at)
	require.Equal(t, 3, h.timers.count()) // regular, retry, re-armed regular

	var retry *fakeTimer
	for i := 0; i < h.timers.count(); i++ {
		if h.timers.get(i).at.Equal(at) {
			retry = h.timers.get(i)
		}
	}
	require.NotNil(t, retry)

	h.now = at
	retry.fn()

	assert.Equal(t, 2, h.runs)
	_, pending = h.sched.RetryPending()
	assert.False(t, pending)
	assert.Equal(t, 3, h.timers.count(), "a failed retry must not arm another one")

	next, ok := h.sched.NextUpdate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC), next)
}

func TestSuccessfulRegularRunCancelsPendingRetry(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")
	h.errs = []error{transientErr()}
	require.NoError(t, h.sched.Start())

	h.timers.get(0).fn()
	_, pending := h.sched.RetryPending()
	require.True(t, pending)
	retry := h.timers.get(1)

	regular := h.timers.get(2)
	regular.fn()

	assert.Equal(t, 1, retry.stops)
	_, pending = h.sched.RetryPending()
	assert.False(t, pending)

	retry.fn()
	assert.Equal(t, 2, h.runs)
}

func TestReconfigureRearms(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")
	require.NoError(t, h.sched.Start())

	times, err := ParseDailyTimes([]string{"12:30"})
	require.NoError(t, err)
	require.NoError(t, h.sched.Reconfigure(times))

	assert.Equal(t, 1, h.timers.get(0).stops)
	next, ok := h.sched.NextUpdate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 11, 20, 12, 30, 0, 0, time.UTC), next)
	assert.Equal(t, []string{"12:30"}, h.sched.Times().Strings())

	assert.ErrorIs(t, h.sched.Reconfigure(nil), ErrTimeCount)
}

func TestStopCancelsEverything(t *testing.T) {
	h := newHarness(t, "06:00")
	h.errs = []error{transientErr()}
	require.NoError(t, h.sched.Start())
	h.timers.get(0).fn()
	require.Equal(t, 3, h.timers.count())

	h.sched.Stop()
	h.sched.Stop()

	assert.Equal(t, 1, h.timers.get(1).stops)
	assert.Equal(t, 1, h.timers.get(2).stops)
	_, ok := h.sched.NextUpdate()
	assert.False(t, ok)

	h.timers.get(2).fn()
	assert.Equal(t, 1, h.runs)
	assert.True(t, errors.Is(h.sched.Arm(), errStopped))
}

func TestComputeNextUsesConfiguredLocation(t *testing.T) {
	h := newHarness(t, "06:00", "14:00")
	now := time.Date(2024, 11, 20, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 11, 21, 6, 0, 0, 0, time.UTC), h.sched.ComputeNext(now))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrTimeCount)

	times, _ := ParseDailyTimes([]string{"06:00"})
	_, err = New(Options{Times: times})
	assert.Error(t, err)
}
