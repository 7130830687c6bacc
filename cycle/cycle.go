// Package cycle converts between cycle numbers and the calendar strings used to
// name cycle directories. A cycle is a fixed-length bucket of time counted from
// the Unix epoch; cycles before 1970 are negative.
package cycle

import (
	"expvar"
	"fmt"
	"strings"
	"time"

	"github.com/INLOpen/chronicle/cache"
)

// Invalid is returned by CycleFromDate for strings that do not parse. It is also
// a legitimate cycle number (the one just before the epoch), so callers that
// scan directories check the name with Valid first.
const Invalid int64 = -1

// dateCacheSize bounds the per-formatter DateFromCycle memo.
const dateCacheSize = 32

// Formatter maps cycle numbers to directory names and back.
type Formatter interface {
	CycleFromDate(date string) int64
	DateFromCycle(cycle int64) string
	// Valid reports whether date is a well-formed name for this formatter.
	Valid(date string) bool
	Length() time.Duration
	// Resolution is the span of time one name covers. The cycle length must be
	// a multiple of it, or two cycles would share a directory.
	Resolution() time.Duration
	Name() string
}

type layout int

const (
	daily layout = iota
	hourly
	minutely
)

var layouts = [...]struct {
	name       string
	digits     int
	resolution time.Duration
}{
	daily:    {"daily", 8, 24 * time.Hour},
	hourly:   {"hourly", 10, time.Hour},
	minutely: {"minutely", 12, time.Minute},
}

type calendarFormatter struct {
	layout   layout
	length   time.Duration
	lengthMs int64
	dates    *cache.LRUCache[int64, string]
}

// HitRater is implemented by formatters that memoise DateFromCycle.
type HitRater interface {
	DateCacheHitRate() float64
}

// NewDaily formats cycles as YYYYMMDD.
func NewDaily(length time.Duration) Formatter { return newCalendar(daily, length) }

// NewHourly formats cycles as YYYYMMDDHH.
func NewHourly(length time.Duration) Formatter { return newCalendar(hourly, length) }

// NewMinutely formats cycles as YYYYMMDDHHMM.
func NewMinutely(length time.Duration) Formatter { return newCalendar(minutely, length) }

// New returns the formatter registered under name ("daily", "hourly" or
// "minutely").
func New(name string, length time.Duration) (Formatter, error) {
	for l, info := range layouts {
		if strings.EqualFold(name, info.name) {
			return newCalendar(layout(l), length), nil
		}
	}
	return nil, fmt.Errorf("unknown cycle formatter %q", name)
}

func newCalendar(l layout, length time.Duration) *calendarFormatter {
	ms := length.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	f := &calendarFormatter{
		layout:   l,
		length:   length,
		lengthMs: ms,
		dates:    cache.NewLRUCache[int64, string](dateCacheSize, nil),
	}
	f.dates.SetMetrics(new(expvar.Int), new(expvar.Int))
	return f
}

func (f *calendarFormatter) Length() time.Duration { return f.length }
func (f *calendarFormatter) Name() string          { return layouts[f.layout].name }

func (f *calendarFormatter) Resolution() time.Duration { return layouts[f.layout].resolution }

// DateCacheHitRate is the share of DateFromCycle calls served from the memo.
func (f *calendarFormatter) DateCacheHitRate() float64 { return f.dates.GetHitRate() }

func (f *calendarFormatter) Valid(date string) bool {
	_, ok := f.parse(date)
	return ok
}

func (f *calendarFormatter) CycleFromDate(date string) int64 {
	ts, ok := f.parse(date)
	if !ok {
		return Invalid
	}
	return floorDiv(ts.UnixMilli(), f.lengthMs)
}

func (f *calendarFormatter) DateFromCycle(cycle int64) string {
	if s, ok := f.dates.Get(cycle); ok {
		return s
	}
	ts := time.UnixMilli(cycle * f.lengthMs).UTC()
	var s string
	switch f.layout {
	case daily:
		s = fmt.Sprintf("%04d%02d%02d", ts.Year(), int(ts.Month()), ts.Day())
	case hourly:
		s = fmt.Sprintf("%04d%02d%02d%02d", ts.Year(), int(ts.Month()), ts.Day(), ts.Hour())
	default:
		s = fmt.Sprintf("%04d%02d%02d%02d%02d", ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute())
	}
	f.dates.Put(cycle, s)
	return s
}

// parse accepts hour 24 and minute 60, which roll into the next day or hour.
func (f *calendarFormatter) parse(date string) (time.Time, bool) {
	if len(date) != layouts[f.layout].digits {
		return time.Time{}, false
	}
	y, ok1 := digits(date[0:4])
	m, ok2 := digits(date[4:6])
	d, ok3 := digits(date[6:8])
	if !ok1 || !ok2 || !ok3 {
		return time.Time{}, false
	}
	day := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if day.Year() != y || int(day.Month()) != m || day.Day() != d {
		return time.Time{}, false
	}
	var h, min int
	if f.layout >= hourly {
		var ok bool
		if h, ok = digits(date[8:10]); !ok || h > 24 {
			return time.Time{}, false
		}
	}
	if f.layout == minutely {
		var ok bool
		if min, ok = digits(date[10:12]); !ok || min > 60 {
			return time.Time{}, false
		}
	}
	return day.Add(time.Duration(h)*time.Hour + time.Duration(min)*time.Minute), true
}

func digits(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// ForNow returns the cycle containing now.
func ForNow(length time.Duration, now time.Time) int64 {
	ms := length.Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return floorDiv(now.UnixMilli(), ms)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
