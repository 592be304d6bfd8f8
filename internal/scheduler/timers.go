package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// CronTimers arms one-shot timers as gocron jobs limited to a single run.
type CronTimers struct {
	s *gocron.Scheduler
}

// NewCronTimers starts a gocron scheduler in loc.
func NewCronTimers(loc *time.Location) *CronTimers {
	s := gocron.NewScheduler(loc)
	s.StartAsync()
	return &CronTimers{s: s}
}

// At schedules fn to run once at t.
func (c *CronTimers) At(t time.Time, fn func()) (Timer, error) {
	job, err := c.s.Every(1).Day().StartAt(t).LimitRunsTo(1).Do(fn)
	if err != nil {
		return nil, fmt.Errorf("schedule job at %s: %w", t.Format(time.RFC3339), err)
	}
	return &cronTimer{s: c.s, job: job}, nil
}

// Close stops the underlying gocron scheduler.
func (c *CronTimers) Close() {
	c.s.Stop()
}

type cronTimer struct {
	once sync.Once
	s    *gocron.Scheduler
	job  *gocron.Job
}

func (t *cronTimer) Stop() {
	t.once.Do(func() { t.s.RemoveByReference(t.job) })
}
