package weather

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

// mockAPI implements API with overridable funcs and per-endpoint call counts.
type mockAPI struct {
	StationsFn       func(ctx context.Context) ([]meteocat.Station, error)
	MunicipalitiesFn func(ctx context.Context) ([]meteocat.Municipality, error)
	MeasurementsFn   func(ctx context.Context, station string, day time.Time) (meteocat.Measurements, error)
	DailyFn          func(ctx context.Context, code string) (meteocat.DailyForecast, error)
	HourlyFn         func(ctx context.Context, code string) (meteocat.HourlyForecast, error)
	QuotaFn          func(ctx context.Context) (meteocat.Quota, error)

	stations, municipalities, measurements, daily, hourly, quota atomic.Int32
}

func newMockAPI() *mockAPI {
	v := 12.5
	return &mockAPI{
		StationsFn: func(context.Context) ([]meteocat.Station, error) {
			return []meteocat.Station{
				{Code: "X4", Name: "Barcelona - el Raval", Municipality: &meteocat.Ref{Code: "080193", Name: "Barcelona"}},
				{Code: "YM", Name: "Granollers", Municipality: &meteocat.Ref{Code: "080961", Name: "Granollers"}},
			}, nil
		},
		MunicipalitiesFn: func(context.Context) ([]meteocat.Municipality, error) {
			return []meteocat.Municipality{{Code: "080193", Name: "Barcelona"}}, nil
		},
		MeasurementsFn: func(_ context.Context, station string, _ time.Time) (meteocat.Measurements, error) {
			return meteocat.Measurements{StationCode: station, Variables: []meteocat.Variable{
				{Code: 32, Readings: []meteocat.Reading{{Value: &v}}},
			}}, nil
		},
		DailyFn: func(_ context.Context, code string) (meteocat.DailyForecast, error) {
			return meteocat.DailyForecast{MunicipalityCode: code}, nil
		},
		HourlyFn: func(_ context.Context, code string) (meteocat.HourlyForecast, error) {
			return meteocat.HourlyForecast{MunicipalityCode: code}, nil
		},
		QuotaFn: func(context.Context) (meteocat.Quota, error) {
			return meteocat.Quota{Plans: []meteocat.QuotaPlan{{Name: "XEMA", Period: "Mensual", Max: 750, Remaining: 700, Used: 50}}}, nil
		},
	}
}

func (m *mockAPI) Stations(ctx context.Context) ([]meteocat.Station, error) {
	m.stations.Add(1)
	return m.StationsFn(ctx)
}

func (m *mockAPI) Municipalities(ctx context.Context) ([]meteocat.Municipality, error) {
	m.municipalities.Add(1)
	return m.MunicipalitiesFn(ctx)
}

func (m *mockAPI) Measurements(ctx context.Context, station string, day time.Time) (meteocat.Measurements, error) {
	m.measurements.Add(1)
	return m.MeasurementsFn(ctx, station, day)
}

func (m *mockAPI) DailyForecast(ctx context.Context, code string) (meteocat.DailyForecast, error) {
	m.daily.Add(1)
	return m.DailyFn(ctx, code)
}

func (m *mockAPI) HourlyForecast(ctx context.Context, code string) (meteocat.HourlyForecast, error) {
	m.hourly.Add(1)
	return m.HourlyFn(ctx, code)
}

func (m *mockAPI) Quota(ctx context.Context) (meteocat.Quota, error) {
	m.quota.Add(1)
	return m.QuotaFn(ctx)
}

// memoryEntryStore counts saves and keeps the last saved entry.
type memoryEntryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	saves   int
}

func newMemoryEntryStore() *memoryEntryStore {
	return &memoryEntryStore{entries: make(map[string]Entry)}
}

func (s *memoryEntryStore) Load(_ context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (s *memoryEntryStore) Save(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e.Clone()
	s.saves++
	return nil
}

func (s *memoryEntryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// fixedSchedule returns next from ComputeNext.
type fixedSchedule struct {
	mu   sync.Mutex
	next time.Time
}

func (f *fixedSchedule) ComputeNext(time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

func (f *fixedSchedule) set(t time.Time) {
	f.mu.Lock()
	f.next = t
	f.mu.Unlock()
}

type fakeKeys struct {
	valid  string
	active string
}

func (k *fakeKeys) ValidateKey(_ context.Context, key string) error {
	if key != k.valid {
		return meteocat.ErrAuth
	}
	return nil
}

func (k *fakeKeys) SetAPIKey(key string) { k.active = key }
