package weather

import (
	"context"
	"errors"
	"time"

	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

// QuotaFetcher is the single endpoint QuotaTracker needs.
type QuotaFetcher interface {
	Quota(ctx context.Context) (meteocat.Quota, error)
}

// QuotaTracker turns the consumption endpoint into a QuotaSnapshot that is
// never absent once one has been seen.
type QuotaTracker struct {
	api QuotaFetcher
	log logger.Logger
	now func() time.Time
}

// NewQuotaTracker creates a tracker.
func NewQuotaTracker(api QuotaFetcher, log logger.Logger) *QuotaTracker {
	if log == nil {
		log = logger.Nop()
	}
	return &QuotaTracker{api: api, log: log, now: time.Now}
}

// Refresh fetches the current quota. It never fails: a rate-limited fetch
// yields previous with every plan's remaining count zeroed, any other
// failure yields previous itself. previous may be nil.
func (t *QuotaTracker) Refresh(ctx context.Context, previous *QuotaSnapshot) *QuotaSnapshot {
	q, err := t.api.Quota(ctx)
	if err == nil {
		return quotaFromRemote(q, t.now().UTC())
	}

	if errors.Is(err, meteocat.ErrRateLimited) {
		t.log.Warn("quota exhausted, zeroing remaining calls", logger.Error(err))
		if previous == nil {
			return nil
		}
		return previous.exhausted()
	}

	t.log.Warn("quota fetch failed, keeping previous snapshot", logger.Error(err))
	return previous
}
