package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// TimestampKind tags the shape a createdAt value arrived in.
type TimestampKind int

const (
	TimestampMissing TimestampKind = iota
	TimestampEpoch
	TimestampISO
	TimestampWrapped
)

func (k TimestampKind) String() string {
	switch k {
	case TimestampEpoch:
		return "epoch"
	case TimestampISO:
		return "iso"
	case TimestampWrapped:
		return "wrapped"
	default:
		return "missing"
	}
}

// DateConverter is implemented by backend-specific timestamp objects.
type DateConverter interface {
	ToDate() (time.Time, error)
}

// Timestamp is a tagged union over the createdAt shapes seen in the wild.
// Only the field matching Kind is meaningful.
type Timestamp struct {
	Kind    TimestampKind
	Epoch   float64
	ISO     string
	Wrapped DateConverter
}

func EpochTimestamp(v float64) Timestamp { return Timestamp{Kind: TimestampEpoch, Epoch: v} }
func ISOTimestamp(s string) Timestamp    { return Timestamp{Kind: TimestampISO, ISO: s} }

func WrappedTimestamp(c DateConverter) Timestamp {
	if c == nil {
		return Timestamp{}
	}
	return Timestamp{Kind: TimestampWrapped, Wrapped: c}
}

// BackendTimestamp is the {seconds, nanoseconds} object hosted document
// stores serialize their timestamps as.
type BackendTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

func (b BackendTimestamp) ToDate() (time.Time, error) {
	return time.Unix(b.Seconds, b.Nanoseconds).UTC(), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*t = Timestamp{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*t = EpochTimestamp(x)
	case string:
		*t = ISOTimestamp(x)
	case map[string]any:
		sec, okS := number(x, "seconds", "_seconds")
		nsec, _ := number(x, "nanoseconds", "_nanoseconds")
		if okS {
			*t = WrappedTimestamp(BackendTimestamp{Seconds: int64(sec), Nanoseconds: int64(nsec)})
		}
	}
	// Other shapes stay Missing; normalization substitutes the current time.
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TimestampEpoch:
		return json.Marshal(t.Epoch)
	case TimestampISO:
		return json.Marshal(t.ISO)
	case TimestampWrapped:
		if bt, ok := t.Wrapped.(BackendTimestamp); ok {
			return json.Marshal(bt)
		}
		d, err := t.Wrapped.ToDate()
		if err != nil {
			return []byte("null"), nil
		}
		return json.Marshal(d.UTC().Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := m[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}
