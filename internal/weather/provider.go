package weather

import (
	"context"
	"time"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

// API abstracts the remote endpoints a cycle uses. *meteocat.Client
// satisfies it.
type API interface {
	Stations(ctx context.Context) ([]meteocat.Station, error)
	Municipalities(ctx context.Context) ([]meteocat.Municipality, error)
	Measurements(ctx context.Context, station string, day time.Time) (meteocat.Measurements, error)
	DailyForecast(ctx context.Context, municipality string) (meteocat.DailyForecast, error)
	HourlyForecast(ctx context.Context, municipality string) (meteocat.HourlyForecast, error)
	Quota(ctx context.Context) (meteocat.Quota, error)
}

// KeyManager validates and swaps the credential used by the API.
type KeyManager interface {
	ValidateKey(ctx context.Context, key string) error
	SetAPIKey(key string)
}

// EntryStore is the contract every durable entry backend (file, redis,
// sqlite) must satisfy. Save replaces the whole document.
type EntryStore interface {
	Load(ctx context.Context, id string) (Entry, error)
	Save(ctx context.Context, e Entry) error
}

// SnapshotRecorder receives every snapshot a successful cycle produces.
type SnapshotRecorder interface {
	Record(s *Snapshot)
}

// NextUpdater computes the next scheduled cycle instant after now.
type NextUpdater interface {
	ComputeNext(now time.Time) time.Time
}
