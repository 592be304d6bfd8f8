package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/meteocat-sync/internal/logger"
)

var errQuotaUnavailable = errors.New("quota never fetched")

// Options configures a Coordinator. API and Entry are required.
type Options struct {
	API      API
	Keys     KeyManager
	Entry    *EntryHandle
	Notifier Notifier
	History  SnapshotRecorder
	Logger   logger.Logger
	Now      func() time.Time
}

// Status is the host-visible state of the coordinator.
type Status struct {
	FirstRefreshPending bool       `json:"first_refresh_pending"`
	NeedsReauth         bool       `json:"needs_reauth"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	NextUpdate          *time.Time `json:"next_update,omitempty"`
	SnapshotID          string     `json:"snapshot_id,omitempty"`
}

// Coordinator runs update cycles: it plans which groups to fetch, fetches
// them concurrently, applies the cycle-kind policy and publishes the result.
// At most one cycle runs at a time.
type Coordinator struct {
	api      API
	keys     KeyManager
	entry    *EntryHandle
	stations *StationCache
	quota    *QuotaTracker
	notify   Notifier
	history  SnapshotRecorder
	log      logger.Logger
	now      func() time.Time

	cycleMu sync.Mutex

	mu           sync.RWMutex
	schedule     NextUpdater
	current      *Snapshot
	firstPending bool
	needsReauth  bool
	lastSuccess  time.Time
	lastErr      error
	lastNext     time.Time
}

// NewCoordinator creates a coordinator whose first cycle is lenient.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	quota := NewQuotaTracker(opts.API, opts.Logger)
	quota.now = opts.Now

	return &Coordinator{
		api:          opts.API,
		keys:         opts.Keys,
		entry:        opts.Entry,
		stations:     NewStationCache(opts.API, opts.Entry, opts.Logger),
		quota:        quota,
		notify:       opts.Notifier,
		history:      opts.History,
		log:          opts.Logger,
		now:          opts.Now,
		firstPending: true,
	}
}

// UseSchedule attaches the scheduler whose next instant is reported after
// every cycle.
func (c *Coordinator) UseSchedule(s NextUpdater) {
	c.mu.Lock()
	c.schedule = s
	c.mu.Unlock()
}

// Stations exposes the station cache (used to invalidate it).
func (c *Coordinator) Stations() *StationCache { return c.stations }

// Entry returns a copy of the entry the coordinator works on.
func (c *Coordinator) Entry() Entry { return c.entry.Get() }

// FirstRefresh runs the lenient setup cycle. Once it has succeeded further
// calls return the current snapshot without fetching.
func (c *Coordinator) FirstRefresh(ctx context.Context) (*Snapshot, error) {
	return c.run(ctx, CycleFirst, nil)
}

// Refresh runs a scheduled cycle: steady once the first refresh succeeded,
// the lenient first cycle otherwise.
func (c *Coordinator) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.run(ctx, CycleSteady, nil)
}

// RefreshMeasurements runs a forced cycle for current measurements only.
func (c *Coordinator) RefreshMeasurements(ctx context.Context) (*Snapshot, error) {
	return c.ForceRefresh(ctx, GroupMeasurements)
}

// RefreshForecast runs a forced cycle for every enabled forecast group.
func (c *Coordinator) RefreshForecast(ctx context.Context) (*Snapshot, error) {
	e := c.entry.Get()
	var groups []Group
	if e.EnableHourlyForecast {
		groups = append(groups, GroupForecastShort)
	}
	if e.EnableDailyForecast {
		groups = append(groups, GroupForecastExtended)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: every forecast is disabled", ErrNotConfigured)
	}
	return c.ForceRefresh(ctx, groups...)
}

// ForceRefresh fetches only groups plus quota and carries every other group
// forward from the current snapshot.
func (c *Coordinator) ForceRefresh(ctx context.Context, groups ...Group) (*Snapshot, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: no group requested", ErrNotConfigured)
	}
	return c.run(ctx, CycleForced, groups)
}

// Current returns the last successful snapshot, or nil.
func (c *Coordinator) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Status returns a copy of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		FirstRefreshPending: c.firstPending,
		NeedsReauth:         c.needsReauth,
	}
	if !c.lastSuccess.IsZero() {
		t := c.lastSuccess
		st.LastSuccess = &t
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if !c.lastNext.IsZero() {
		t := c.lastNext
		st.NextUpdate = &t
	}
	if c.current != nil {
		st.SnapshotID = c.current.ID
	}
	return st
}

// SetUpdateTimes persists new daily update times into the entry. Re-arming
// the timer is the scheduler's job.
func (c *Coordinator) SetUpdateTimes(ctx context.Context, times []string) error {
	return c.entry.Update(ctx, func(e *Entry) {
		e.UpdateTimes = append([]string(nil), times...)
	})
}

// Reauthenticate validates key against the remote and, only if accepted,
// stores it in the entry and hands it to the live client.
func (c *Coordinator) Reauthenticate(ctx context.Context, key string) error {
	if c.keys == nil {
		return errNoKeyManager
	}
	key = strings.TrimSpace(key)

	if err := c.keys.ValidateKey(ctx, key); err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	if err := c.entry.Update(ctx, func(e *Entry) { e.APIKey = key }); err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}
	c.keys.SetAPIKey(key)

	c.mu.Lock()
	c.needsReauth = false
	if IsAuth(c.lastErr) {
		c.lastErr = nil
	}
	c.mu.Unlock()

	c.log.Info("credential replaced")
	return nil
}

func (c *Coordinator) run(ctx context.Context, kind CycleKind, requested []Group) (*Snapshot, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.mu.RLock()
	prev := c.current
	first := c.firstPending
	c.mu.RUnlock()

	switch {
	case kind == CycleFirst && !first && prev != nil:
		return prev, nil
	case kind == CycleSteady && first:
		kind = CycleFirst
	}

	entry := c.entry.Get()
	plan, err := planGroups(kind, entry, requested)
	if err != nil {
		return nil, err
	}

	log := c.log.With(logger.String("cycle", string(kind)), logger.String("key", entry.Key()))
	log.Info("update cycle started", logger.Strings("groups", groupNames(plan)))

	results := c.fetch(ctx, kind, entry, plan)

	prevQuota := prev.Quota()
	if prevQuota == nil {
		prevQuota = entry.Quota
	}
	quota := c.quota.Refresh(ctx, prevQuota)
	results[GroupQuota] = quotaResult(quota, prevQuota, c.now().UTC())

	if err := applyPolicy(kind, first, entry, plan, results); err != nil {
		c.fail(log, err)
		return nil, err
	}

	now := c.now().UTC()
	snap := &Snapshot{
		ID:        uuid.NewString(),
		Kind:      kind,
		Key:       entry.Key(),
		CreatedAt: now,
		Groups:    results,
	}
	if kind == CycleForced {
		carryForward(prev, snap)
	}

	c.commit(ctx, log, snap, entry, quota)
	return snap, nil
}

// planGroups returns the data groups (quota and station excluded) a cycle
// fetches.
func planGroups(kind CycleKind, e Entry, requested []Group) (map[Group]bool, error) {
	plan := make(map[Group]bool)
	if kind != CycleForced {
		plan[GroupMeasurements] = e.StationID != ""
		plan[GroupForecastShort] = e.EnableHourlyForecast
		plan[GroupForecastExtended] = e.EnableDailyForecast
		return plan, nil
	}

	for _, g := range requested {
		ok := false
		switch g {
		case GroupMeasurements:
			ok = e.StationID != ""
		case GroupForecastShort:
			ok = e.EnableHourlyForecast
		case GroupForecastExtended:
			ok = e.EnableDailyForecast
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotConfigured, g)
		}
		plan[g] = true
	}
	return plan, nil
}

// fetch resolves reference data, then runs every planned fetch concurrently.
// Each failure lands in its own group only.
func (c *Coordinator) fetch(ctx context.Context, kind CycleKind, e Entry, plan map[Group]bool) map[Group]GroupResult {
	now := c.now().UTC()
	results := make(map[Group]GroupResult)
	forecasts := plan[GroupForecastShort] || plan[GroupForecastExtended]

	var (
		station    *StationRecord
		stationErr error
	)
	needStation := e.StationID != "" &&
		(kind != CycleForced || plan[GroupMeasurements] || (forecasts && e.MunicipalityID == ""))
	if needStation {
		station, stationErr = c.stations.GetOrFetch(ctx, e.StationID)
		if stationErr != nil {
			results[GroupStation] = missing(stationErr, now)
		} else {
			results[GroupStation] = fresh(station, now)
		}
	}

	var (
		municipality string
		muniErr      error
	)
	if forecasts {
		if e.MunicipalityID == "" && stationErr != nil {
			muniErr = stationErr
		} else {
			municipality, muniErr = c.stations.ResolveMunicipality(ctx, station)
		}
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	set := func(grp Group, r GroupResult) {
		mu.Lock()
		results[grp] = r
		mu.Unlock()
	}

	if plan[GroupMeasurements] {
		if stationErr != nil {
			set(GroupMeasurements, missing(stationErr, now))
		} else {
			g.Go(func() error {
				m, err := c.api.Measurements(ctx, e.StationID, now)
				if err != nil {
					set(GroupMeasurements, missing(err, now))
					return nil
				}
				set(GroupMeasurements, fresh(&m, now))
				return nil
			})
		}
	}

	if plan[GroupForecastShort] {
		if muniErr != nil {
			set(GroupForecastShort, missing(muniErr, now))
		} else {
			g.Go(func() error {
				f, err := c.api.HourlyForecast(ctx, municipality)
				if err != nil {
					set(GroupForecastShort, missing(err, now))
					return nil
				}
				set(GroupForecastShort, fresh(&f, now))
				return nil
			})
		}
	}

	if plan[GroupForecastExtended] {
		if muniErr != nil {
			set(GroupForecastExtended, missing(muniErr, now))
		} else {
			g.Go(func() error {
				f, err := c.api.DailyForecast(ctx, municipality)
				if err != nil {
					set(GroupForecastExtended, missing(err, now))
					return nil
				}
				set(GroupForecastExtended, fresh(&f, now))
				return nil
			})
		}
	}

	_ = g.Wait()

	for grp, r := range results {
		if r.Status == StatusMissing {
			c.log.Warn("data group missing",
				logger.String("group", string(grp)),
				logger.Error(r.Err))
		}
	}
	return results
}

// applyPolicy decides whether the fetched results make an acceptable
// snapshot for the cycle kind.
func applyPolicy(kind CycleKind, first bool, e Entry, plan map[Group]bool, results map[Group]GroupResult) error {
	for _, g := range AllGroups {
		if r, ok := results[g]; ok && r.Status == StatusMissing && IsAuth(r.Err) {
			return fmt.Errorf("%s cycle: %s: %w", kind, g, r.Err)
		}
	}

	crit, ok := criticalGroup(e)
	if !ok {
		return nil
	}
	switch kind {
	case CycleFirst:
		return nil
	case CycleForced:
		if first || !plan[crit] {
			return nil
		}
	}

	r, found := results[crit]
	if found && r.Status == StatusFresh && r.Data != nil {
		return nil
	}
	cause := r.Err
	if cause == nil {
		cause = fmt.Errorf("%s not fetched", crit)
	}
	return &CriticalDataMissingError{Groups: []Group{crit}, Causes: []error{cause}}
}

// criticalGroup is current measurements when a station is configured,
// otherwise the extended forecast when enabled.
func criticalGroup(e Entry) (Group, bool) {
	switch {
	case e.StationID != "":
		return GroupMeasurements, true
	case e.EnableDailyForecast:
		return GroupForecastExtended, true
	default:
		return "", false
	}
}

// carryForward copies every group the forced cycle did not fetch from the
// previous snapshot. Payloads are shared, not copied.
func carryForward(prev, snap *Snapshot) {
	if prev == nil {
		return
	}
	for g, r := range prev.Groups {
		if _, fetched := snap.Groups[g]; fetched {
			continue
		}
		if r.Present() {
			r.Status = StatusCarried
		}
		snap.Groups[g] = r
	}
}

func (c *Coordinator) fail(log logger.Logger, err error) {
	c.mu.Lock()
	c.lastErr = err
	if IsAuth(err) {
		c.needsReauth = true
	}
	c.mu.Unlock()

	if IsAuth(err) {
		log.Error("update cycle rejected, re-authentication required", logger.Error(err))
		return
	}
	log.Error("update cycle failed", logger.Error(err))
}

func (c *Coordinator) commit(ctx context.Context, log logger.Logger, snap *Snapshot, e Entry, quota *QuotaSnapshot) {
	c.mu.Lock()
	c.current = snap
	c.lastSuccess = snap.CreatedAt
	c.lastErr = nil
	c.needsReauth = false
	if snap.Kind == CycleFirst {
		c.firstPending = false
	}
	sched := c.schedule
	prevNext := c.lastNext
	c.mu.Unlock()

	if quota != nil && !quota.equalPlans(e.Quota) {
		if err := c.entry.Update(ctx, func(en *Entry) { en.Quota = quota.clone() }); err != nil {
			log.Warn("could not persist quota", logger.Error(err))
		}
	}

	if c.history != nil {
		c.history.Record(snap)
	}

	if sched != nil {
		next := sched.ComputeNext(snap.CreatedAt)
		if !next.Equal(prevNext) {
			c.mu.Lock()
			c.lastNext = next
			c.mu.Unlock()

			ev := Event{
				ID:   uuid.NewString(),
				Type: EventNextUpdateChanged,
				Time: snap.CreatedAt,
				Key:  snap.Key,
				Next: &next,
			}
			if !prevNext.IsZero() {
				p := prevNext
				ev.Previous = &p
			}
			c.notify.Notify(ev)
		}
	}

	c.notify.Notify(Event{
		ID:   uuid.NewString(),
		Type: EventDataUpdated,
		Time: snap.CreatedAt,
		Key:  snap.Key,
	})

	log.Info("update cycle finished", logger.String("snapshot", snap.ID))
}

func fresh(data interface{}, at time.Time) GroupResult {
	return GroupResult{Status: StatusFresh, Data: data, FetchedAt: at}
}

func missing(err error, at time.Time) GroupResult {
	return GroupResult{Status: StatusMissing, Err: err, Error: err.Error(), FetchedAt: at}
}

// quotaResult classifies what QuotaTracker returned: nothing, the previous
// snapshot itself, or a new one.
func quotaResult(q, previous *QuotaSnapshot, at time.Time) GroupResult {
	switch {
	case q == nil:
		return missing(errQuotaUnavailable, at)
	case q == previous:
		return GroupResult{Status: StatusStale, Data: q, FetchedAt: q.FetchedAt}
	default:
		return fresh(q, at)
	}
}

func groupNames(plan map[Group]bool) []string {
	var out []string
	for _, g := range AllGroups {
		if plan[g] {
			out = append(out, string(g))
		}
	}
	return out
}
