package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

// RunFunc runs one scheduled update cycle.
type RunFunc func(ctx context.Context) error

// Timer is the cancel handle of an armed one-shot timer.
type Timer interface {
	Stop()
}

// TimerFactory arms one-shot timers.
type TimerFactory interface {
	At(t time.Time, fn func()) (Timer, error)
}

var errStopped = errors.New("scheduler stopped")

// Options configures a Scheduler. Times, Run and Timers are required.
type Options struct {
	Times        DailyTimes
	Run          RunFunc
	Timers       TimerFactory
	Location     *time.Location
	RetryDelay   time.Duration
	CycleTimeout time.Duration
	IsTransient  func(error) bool
	Logger       logger.Logger
	Now          func() time.Time
}

// Scheduler runs update cycles at 1 to 3 configured times per day. It owns
// two distinct timers: the regular timer for the next configured time and a
// one-shot retry timer armed after a transient failure. At most one of each
// is outstanding.
type Scheduler struct {
	run          RunFunc
	timers       TimerFactory
	loc          *time.Location
	retryDelay   time.Duration
	cycleTimeout time.Duration
	isTransient  func(error) bool
	log          logger.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	times    DailyTimes
	regular  Timer
	next     time.Time
	gen      uint64
	retry    Timer
	retryAt  time.Time
	retryGen uint64
	stopped  bool
}

// New creates a Scheduler. Nothing is armed until Start.
func New(opts Options) (*Scheduler, error) {
	if len(opts.Times) == 0 || len(opts.Times) > MaxDailyTimes {
		return nil, ErrTimeCount
	}
	if opts.Run == nil || opts.Timers == nil {
		return nil, errors.New("scheduler: run func and timer factory are required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 90 * time.Second
	}
	if opts.IsTransient == nil {
		opts.IsTransient = weather.IsTransient
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:          opts.Run,
		timers:       opts.Timers,
		loc:          opts.Location,
		retryDelay:   opts.RetryDelay,
		cycleTimeout: opts.CycleTimeout,
		isTransient:  opts.IsTransient,
		log:          opts.Logger,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		times:        append(DailyTimes(nil), opts.Times...),
	}, nil
}

// Start arms the regular timer.
func (s *Scheduler) Start() error {
	return s.Arm()
}

// Arm cancels the outstanding regular timer, if any, and arms a new one for
// the next configured time.
func (s *Scheduler) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armLocked()
}

// Reconfigure replaces the daily times and re-arms the regular timer. A
// pending retry is left alone.
func (s *Scheduler) Reconfigure(times DailyTimes) error {
	if len(times) == 0 || len(times) > MaxDailyTimes {
		return ErrTimeCount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.times = append(DailyTimes(nil), times...)
	return s.armLocked()
}

// Times returns the configured daily times.
func (s *Scheduler) Times() DailyTimes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(DailyTimes(nil), s.times...)
}

// ComputeNext returns the next configured instant strictly after now.
func (s *Scheduler) ComputeNext(now time.Time) time.Time {
	s.mu.Lock()
	times := s.times
	s.mu.Unlock()
	return times.Next(now.In(s.loc))
}

// NextUpdate returns the instant the regular timer is armed for.
func (s *Scheduler) NextUpdate() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.regular != nil
}

// RetryPending returns the instant of the outstanding retry, if any.
func (s *Scheduler) RetryPending() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAt, s.retry != nil
}

// Stop cancels both timers and any running cycle. It is safe to call twice.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.regular != nil {
		s.regular.Stop()
		s.regular = nil
	}
	s.cancelRetryLocked()
	s.mu.Unlock()

	s.cancel()
}

func (s *Scheduler) armLocked() error {
	if s.stopped {
		return errStopped
	}
	if s.regular != nil {
		s.regular.Stop()
		s.regular = nil
	}

	s.gen++
	gen := s.gen
	next := s.times.Next(s.now().In(s.loc))

	t, err := s.timers.At(next, func() { s.fireRegular(gen) })
	if err != nil {
		s.next = time.Time{}
		return err
	}
	s.regular = t
	s.next = next

	s.log.Info("next update armed",
		logger.Time("at", next),
		logger.Strings("times", s.times.Strings()))
	return nil
}

func (s *Scheduler) armRetryLocked() {
	s.cancelRetryLocked()

	s.retryGen++
	gen := s.retryGen
	at := s.now().Add(s.retryDelay)

	t, err := s.timers.At(at, func() { s.fireRetry(gen) })
	if err != nil {
		s.log.Error("could not arm retry", logger.Error(err))
		return
	}
	s.retry = t
	s.retryAt = at
	s.log.Warn("transient failure, retry armed", logger.Time("at", at))
}

func (s *Scheduler) cancelRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
		s.retryAt = time.Time{}
	}
}

func (s *Scheduler) fireRegular(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.regular = nil
	s.mu.Unlock()

	err := s.execute("regular")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	switch {
	case err == nil:
		s.cancelRetryLocked()
	case s.isTransient(err):
		s.armRetryLocked()
	}

	// Reconfigure may have armed a newer timer while the cycle ran.
	if gen != s.gen {
		return
	}
	if err := s.armLocked(); err != nil {
		s.log.Error("could not re-arm regular timer", logger.Error(err))
	}
}

func (s *Scheduler) fireRetry(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.retryGen || s.retry == nil {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	s.retryAt = time.Time{}
	s.mu.Unlock()

	if err := s.execute("retry"); err != nil {
		s.log.Warn("retry failed, waiting for next regular update", logger.Error(err))
	}
}

func (s *Scheduler) execute(kind string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.cycleTimeout)
	defer cancel()

	start := s.now()
	err := s.run(ctx)
	fields := []logger.Field{
		logger.String("trigger", kind),
		logger.Duration("elapsed", s.now().Sub(start)),
	}
	if err != nil {
		s.log.Error("scheduled update failed", append(fields, logger.Error(err))...)
		return err
	}
	s.log.Info("scheduled update finished", fields...)
	return nil
}
