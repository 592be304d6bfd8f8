package weather

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

func previousQuota() *QuotaSnapshot {
	return &QuotaSnapshot{
		Plans:     []QuotaPlan{{Name: "P", Period: "Mensual", Max: 1000, Remaining: 100, Used: 900}},
		FetchedAt: time.Date(2024, 11, 29, 6, 0, 0, 0, time.UTC),
	}
}

func TestQuotaRefreshSuccess(t *testing.T) {
	api := newMockAPI()
	tracker := NewQuotaTracker(api, nil)

	got := tracker.Refresh(context.Background(), previousQuota())

	require.NotNil(t, got)
	p, ok := got.Plan("XEMA")
	require.True(t, ok)
	assert.Equal(t, 700, p.Remaining)
	assert.Equal(t, 750, p.Max)
}

func TestQuotaRefreshRateLimitedZeroesRemaining(t *testing.T) {
	api := newMockAPI()
	api.QuotaFn = func(context.Context) (meteocat.Quota, error) {
		return meteocat.Quota{}, fmt.Errorf("GET quota: %w", meteocat.ErrRateLimited)
	}
	tracker := NewQuotaTracker(api, nil)
	prev := previousQuota()

	got := tracker.Refresh(context.Background(), prev)

	require.NotNil(t, got)
	p, ok := got.Plan("P")
	require.True(t, ok)
	assert.Equal(t, 0, p.Remaining)
	assert.Equal(t, 1000, p.Max)
	assert.Equal(t, 900, p.Used)
	// previous is not mutated
	assert.Equal(t, 100, prev.Plans[0].Remaining)
}

func TestQuotaRefreshTransientKeepsPrevious(t *testing.T) {
	api := newMockAPI()
	api.QuotaFn = func(context.Context) (meteocat.Quota, error) {
		return meteocat.Quota{}, meteocat.ErrUnreachable
	}
	tracker := NewQuotaTracker(api, nil)
	prev := previousQuota()

	assert.Same(t, prev, tracker.Refresh(context.Background(), prev))
	assert.Nil(t, tracker.Refresh(context.Background(), nil))
}

func TestQuotaRefreshRateLimitedWithoutPrevious(t *testing.T) {
	api := newMockAPI()
	api.QuotaFn = func(context.Context) (meteocat.Quota, error) {
		return meteocat.Quota{}, meteocat.ErrQuotaExceeded
	}
	assert.Nil(t, NewQuotaTracker(api, nil).Refresh(context.Background(), nil))
}
