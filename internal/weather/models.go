package weather

import (
	"time"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

// Group names one independently tracked category of fetched data.
type Group string

const (
	GroupMeasurements     Group = "current-measurements"
	GroupForecastShort    Group = "forecast-short"    // hourly, 72h
	GroupForecastExtended Group = "forecast-extended" // daily, 8 days
	GroupQuota            Group = "quota"
	GroupStation          Group = "station"
)

// AllGroups lists every group in the order they appear in a snapshot.
var AllGroups = []Group{GroupStation, GroupMeasurements, GroupForecastShort, GroupForecastExtended, GroupQuota}

// GroupStatus tells how a group ended up in a snapshot.
type GroupStatus string

const (
	StatusFresh   GroupStatus = "fresh"   // fetched this cycle
	StatusMissing GroupStatus = "missing" // fetch failed; Err says why
	StatusCarried GroupStatus = "carried" // not requested, previous payload reused
	StatusStale   GroupStatus = "stale"   // quota only: previous snapshot kept after a failure
)

// CycleKind selects the policy applied to one update cycle.
type CycleKind string

const (
	CycleFirst  CycleKind = "first-refresh"
	CycleSteady CycleKind = "steady"
	CycleForced CycleKind = "forced"
)

// GroupResult is one group's outcome. Data holds a pointer to the group's
// payload type and is nil when Status is StatusMissing.
type GroupResult struct {
	Status    GroupStatus `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	FetchedAt time.Time   `json:"fetched_at,omitempty"`

	Err error `json:"-"`
}

// Present reports whether the group carries a payload.
func (r GroupResult) Present() bool {
	return r.Status != StatusMissing && r.Data != nil
}

// Snapshot is the immutable outcome of one successful cycle.
type Snapshot struct {
	ID        string                `json:"id"`
	Kind      CycleKind             `json:"kind"`
	Key       string                `json:"key"`
	CreatedAt time.Time             `json:"created_at"`
	Groups    map[Group]GroupResult `json:"groups"`
}

// Result returns the outcome of g.
func (s *Snapshot) Result(g Group) (GroupResult, bool) {
	if s == nil {
		return GroupResult{}, false
	}
	r, ok := s.Groups[g]
	return r, ok
}

// Measurements returns the measurements payload when present.
func (s *Snapshot) Measurements() *meteocat.Measurements {
	r, _ := s.Result(GroupMeasurements)
	m, _ := r.Data.(*meteocat.Measurements)
	return m
}

// HourlyForecast returns the short forecast payload when present.
func (s *Snapshot) HourlyForecast() *meteocat.HourlyForecast {
	r, _ := s.Result(GroupForecastShort)
	f, _ := r.Data.(*meteocat.HourlyForecast)
	return f
}

// DailyForecast returns the extended forecast payload when present.
func (s *Snapshot) DailyForecast() *meteocat.DailyForecast {
	r, _ := s.Result(GroupForecastExtended)
	f, _ := r.Data.(*meteocat.DailyForecast)
	return f
}

// Quota returns the quota payload when present.
func (s *Snapshot) Quota() *QuotaSnapshot {
	r, _ := s.Result(GroupQuota)
	q, _ := r.Data.(*QuotaSnapshot)
	return q
}

// Station returns the station record when present.
func (s *Snapshot) Station() *StationRecord {
	r, _ := s.Result(GroupStation)
	st, _ := r.Data.(*StationRecord)
	return st
}

// StationRecord is the cached reference data of the configured station.
type StationRecord struct {
	Code             string   `json:"code" yaml:"code"`
	Name             string   `json:"name" yaml:"name"`
	Type             string   `json:"type,omitempty" yaml:"type,omitempty"`
	Latitude         *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty" yaml:"altitude,omitempty"`
	MunicipalityCode string   `json:"municipality_code,omitempty" yaml:"municipality_code,omitempty"`
	MunicipalityName string   `json:"municipality_name,omitempty" yaml:"municipality_name,omitempty"`
	ComarcaCode      string   `json:"comarca_code,omitempty" yaml:"comarca_code,omitempty"`
	ComarcaName      string   `json:"comarca_name,omitempty" yaml:"comarca_name,omitempty"`
}

func stationFromRemote(s meteocat.Station) StationRecord {
	rec := StationRecord{
		Code:      s.Code,
		Name:      s.Name,
		Type:      s.Type,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Altitude:  s.Altitude,
	}
	if s.Municipality != nil {
		rec.MunicipalityCode = s.Municipality.Code
		rec.MunicipalityName = s.Municipality.Name
	}
	if s.Comarca != nil {
		rec.ComarcaCode = s.Comarca.Code
		rec.ComarcaName = s.Comarca.Name
	}
	return rec
}

func (r *StationRecord) clone() *StationRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Latitude = cloneFloat(r.Latitude)
	c.Longitude = cloneFloat(r.Longitude)
	c.Altitude = cloneFloat(r.Altitude)
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// QuotaPlan is the consumption of one API plan.
type QuotaPlan struct {
	Name      string `json:"name" yaml:"name"`
	Period    string `json:"period" yaml:"period"`
	Max       int    `json:"max" yaml:"max"`
	Remaining int    `json:"remaining" yaml:"remaining"`
	Used      int    `json:"used" yaml:"used"`
}

// QuotaSnapshot is the last observed consumption of every plan.
type QuotaSnapshot struct {
	Plans     []QuotaPlan `json:"plans" yaml:"plans"`
	FetchedAt time.Time   `json:"fetched_at" yaml:"fetched_at"`
}

// Plan returns the plan with the given name.
func (q *QuotaSnapshot) Plan(name string) (QuotaPlan, bool) {
	if q == nil {
		return QuotaPlan{}, false
	}
	for _, p := range q.Plans {
		if p.Name == name {
			return p, true
		}
	}
	return QuotaPlan{}, false
}

func (q *QuotaSnapshot) clone() *QuotaSnapshot {
	if q == nil {
		return nil
	}
	c := &QuotaSnapshot{FetchedAt: q.FetchedAt}
	c.Plans = append([]QuotaPlan(nil), q.Plans...)
	return c
}

// exhausted returns a copy with every plan's remaining count forced to zero.
func (q *QuotaSnapshot) exhausted() *QuotaSnapshot {
	c := q.clone()
	for i := range c.Plans {
		c.Plans[i].Remaining = 0
	}
	return c
}

func (q *QuotaSnapshot) equalPlans(o *QuotaSnapshot) bool {
	if q == nil || o == nil {
		return q == o
	}
	if len(q.Plans) != len(o.Plans) {
		return false
	}
	for i := range q.Plans {
		if q.Plans[i] != o.Plans[i] {
			return false
		}
	}
	return true
}

func quotaFromRemote(q meteocat.Quota, at time.Time) *QuotaSnapshot {
	out := &QuotaSnapshot{FetchedAt: at, Plans: make([]QuotaPlan, 0, len(q.Plans))}
	for _, p := range q.Plans {
		out.Plans = append(out.Plans, QuotaPlan{
			Name:      p.Name,
			Period:    p.Period,
			Max:       p.Max,
			Remaining: p.Remaining,
			Used:      p.Used,
		})
	}
	return out
}

// Entry is the durable configuration document of one configured location.
// Stores persist it as a whole; partial updates do not exist.
type Entry struct {
	ID                   string         `json:"id" yaml:"id"`
	APIKey               string         `json:"api_key" yaml:"api_key"`
	StationID            string         `json:"station_id,omitempty" yaml:"station_id,omitempty"`
	MunicipalityID       string         `json:"municipality_id,omitempty" yaml:"municipality_id,omitempty"`
	UpdateTimes          []string       `json:"update_times" yaml:"update_times"`
	EnableDailyForecast  bool           `json:"enable_daily_forecast" yaml:"enable_daily_forecast"`
	EnableHourlyForecast bool           `json:"enable_hourly_forecast" yaml:"enable_hourly_forecast"`
	Station              *StationRecord `json:"station,omitempty" yaml:"station,omitempty"`
	Quota                *QuotaSnapshot `json:"quota,omitempty" yaml:"quota,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at" yaml:"updated_at"`
}

// Key is the identifier reported with notifications: the station when one
// is configured, otherwise the municipality.
func (e Entry) Key() string {
	if e.StationID != "" {
		return e.StationID
	}
	return e.MunicipalityID
}

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	c := e
	c.UpdateTimes = append([]string(nil), e.UpdateTimes...)
	c.Station = e.Station.clone()
	c.Quota = e.Quota.clone()
	return c
}
