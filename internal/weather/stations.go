package weather

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/i474232898/meteocat-sync/internal/logger"
	"github.com/i474232898/meteocat-sync/internal/meteocat"
)

// StationCache keeps the configured station's metadata in the durable entry
// so it is fetched from the remote only once.
type StationCache struct {
	mu    sync.Mutex
	api   API
	entry *EntryHandle
	log   logger.Logger
}

// NewStationCache creates a cache backed by entry.
func NewStationCache(api API, entry *EntryHandle, log logger.Logger) *StationCache {
	if log == nil {
		log = logger.Nop()
	}
	return &StationCache{api: api, entry: entry, log: log}
}

// GetOrFetch returns the record of station code. A hit costs no remote call;
// a miss fetches the station list once and persists the match.
func (c *StationCache) GetOrFetch(ctx context.Context, code string) (*StationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.entry.Get().Station; st != nil && st.Code == code {
		return st, nil
	}

	list, err := c.api.Stations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch stations: %w", err)
	}

	for _, s := range list {
		if s.Code != code {
			continue
		}
		rec := stationFromRemote(s)
		if err := c.entry.Update(ctx, func(e *Entry) { e.Station = rec.clone() }); err != nil {
			return nil, fmt.Errorf("persist station %s: %w", code, err)
		}
		c.log.Info("station cached",
			logger.String("station", rec.Code),
			logger.String("name", rec.Name))
		return &rec, nil
	}

	c.log.Warn("station not in remote list", logger.String("station", code))
	return nil, fmt.Errorf("%w: station %q", ErrRecordNotFound, code)
}

// Invalidate drops the cached station so the next lookup fetches it again.
func (c *StationCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry.Update(ctx, func(e *Entry) { e.Station = nil })
}

// ResolveMunicipality returns the municipality used for forecasts. The
// configured code wins; then the station's own municipality; then the
// municipality list is searched by name and finally by comarca. Resolved
// codes are persisted.
func (c *StationCache) ResolveMunicipality(ctx context.Context, st *StationRecord) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id := c.entry.Get().MunicipalityID; id != "" {
		return id, nil
	}
	if st == nil {
		return "", fmt.Errorf("%w: no municipality configured", ErrRecordNotFound)
	}

	code := st.MunicipalityCode
	if code == "" {
		list, err := c.api.Municipalities(ctx)
		if err != nil {
			return "", fmt.Errorf("fetch municipalities: %w", err)
		}
		code = matchMunicipality(list, st)
		if code == "" {
			return "", fmt.Errorf("%w: municipality for station %q", ErrRecordNotFound, st.Code)
		}
	}

	if err := c.entry.Update(ctx, func(e *Entry) { e.MunicipalityID = code }); err != nil {
		return "", fmt.Errorf("persist municipality %s: %w", code, err)
	}
	c.log.Info("municipality resolved",
		logger.String("station", st.Code),
		logger.String("municipality", code))
	return code, nil
}

func matchMunicipality(list []meteocat.Municipality, st *StationRecord) string {
	if st.MunicipalityName != "" {
		want := normalizeName(st.MunicipalityName)
		for _, m := range list {
			if normalizeName(m.Name) == want {
				return m.Code
			}
		}
	}
	if st.ComarcaCode != "" {
		for _, m := range list {
			if m.Comarca != nil && m.Comarca.Code == st.ComarcaCode {
				return m.Code
			}
		}
	}
	return ""
}

// normalizeName folds case and strips accents: "L'Hospitalet de Llobregat"
// and "l'hospitalet de llobregat" compare equal, as do "Lleida" and "Lléida".
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}
