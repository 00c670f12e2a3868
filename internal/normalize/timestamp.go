package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"smartdeals/internal/model"
)

// ISOLayout matches the millisecond UTC form browsers emit for toISOString.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Jan 2, 2006",
	"January 2, 2006",
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

// maxEpochMillis is the largest instant a browser Date can represent.
const maxEpochMillis = 8.64e15

// ResolveTime converts any Timestamp shape to a time. Unusable input resolves
// to now.
func ResolveTime(ts model.Timestamp, now time.Time) time.Time {
	var t time.Time
	var ok bool
	switch ts.Kind {
	case model.TimestampEpoch:
		t, ok = fromEpoch(ts.Epoch)
	case model.TimestampISO:
		t, ok = fromString(ts.ISO)
	case model.TimestampWrapped:
		t, ok = fromConverter(ts.Wrapped)
	case model.TimestampMissing:
	}
	if !ok || t.Year() < 1 || t.Year() > 9999 {
		return now.UTC()
	}
	return t.UTC()
}

// FormatTime renders t in ISOLayout.
func FormatTime(t time.Time) string { return t.UTC().Format(ISOLayout) }

func fromEpoch(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxEpochMillis {
		return time.Time{}, false
	}
	if math.Abs(v) < epochMillisThreshold {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)), true
	}
	return time.UnixMilli(int64(v)), true
}

func fromString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromConverter(c model.DateConverter) (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	t, err := c.ToDate()
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}
