package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// MaxDailyTimes is the largest number of update times per day.
const MaxDailyTimes = 3

var (
	ErrInvalidTime   = errors.New("time must be HH:MM (24h, leading zeros)")
	ErrTimeCount     = fmt.Errorf("between 1 and %d update times are required", MaxDailyTimes)
	ErrDuplicateTime = errors.New("duplicate update time")
)

var hhmm = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ValidTime reports whether s is a strict HH:MM wall-clock time.
func ValidTime(s string) bool {
	return hhmm.MatchString(s)
}

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses a strict HH:MM string.
func ParseClockTime(s string) (ClockTime, error) {
	m := hhmm.FindStringSubmatch(s)
	if m == nil {
		return ClockTime{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return ClockTime{Hour: h, Minute: mm}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// On returns c on the calendar day of day, in day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// DailyTimes is an ascending, duplicate-free set of 1 to 3 times.
type DailyTimes []ClockTime

// ParseDailyTimes validates and sorts raw HH:MM strings.
func ParseDailyTimes(raw []string) (DailyTimes, error) {
	if len(raw) == 0 || len(raw) > MaxDailyTimes {
		return nil, fmt.Errorf("%w: got %d", ErrTimeCount, len(raw))
	}

	out := make(DailyTimes, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, s := range raw {
		ct, err := ParseClockTime(s)
		if err != nil {
			return nil, err
		}
		if seen[ct.minutes()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTime, ct)
		}
		seen[ct.minutes()] = true
		out = append(out, ct)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].minutes() < out[j].minutes() })
	return out, nil
}

// Next returns the earliest configured time strictly after now, wrapping to
// the first time of the following day. The result is in now's location.
func (d DailyTimes) Next(now time.Time) time.Time {
	for _, ct := range d {
		if t := ct.On(now); t.After(now) {
			return t
		}
	}
	y, m, day := now.Date()
	return d[0].On(time.Date(y, m, day+1, 0, 0, 0, 0, now.Location()))
}

// Strings returns the times formatted as HH:MM.
func (d DailyTimes) Strings() []string {
	out := make([]string, len(d))
	for i, ct := range d {
		out[i] = ct.String()
	}
	return out
}
