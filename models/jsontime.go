package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONTime wraps time.Time so survey and transaction timestamps accept the
// loose formats produced by GPS devices and the mobile clients, while still
// mapping to a TIMESTAMPTZ column.
type JSONTime time.Time

// accepted layouts, most specific first
var jsonTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseJSONTime parses s using the first layout that matches.
func ParseJSONTime(s string) (JSONTime, error) {
	for _, layout := range jsonTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return JSONTime(t), nil
		}
	}
	return JSONTime{}, fmt.Errorf("JSONTime: cannot parse %q", s)
}

func (jt *JSONTime) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*jt = JSONTime{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := ParseJSONTime(s)
	if err != nil {
		return fmt.Errorf("JSONTime.UnmarshalJSON: %w", err)
	}
	*jt = t
	return nil
}

// MarshalJSON emits RFC3339, or null for the zero time.
func (jt JSONTime) MarshalJSON() ([]byte, error) {
	t := time.Time(jt)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Value implements driver.Valuer.
func (jt JSONTime) Value() (driver.Value, error) {
	t := time.Time(jt)
	if t.IsZero() {
		return nil, nil
	}
	return t, nil
}

// Scan implements sql.Scanner.
func (jt *JSONTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*jt = JSONTime{}
		return nil
	case time.Time:
		*jt = JSONTime(v)
		return nil
	case []byte:
		t, err := time.Parse(time.RFC3339Nano, string(v))
		if err != nil {
			return fmt.Errorf("JSONTime.Scan: parse %q: %w", string(v), err)
		}
		*jt = JSONTime(t)
		return nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("JSONTime.Scan: parse %q: %w", v, err)
		}
		*jt = JSONTime(t)
		return nil
	default:
		return fmt.Errorf("JSONTime.Scan: unsupported type %T", src)
	}
}

func (jt JSONTime) Time() time.Time { return time.Time(jt) }

func (jt JSONTime) IsZero() bool { return time.Time(jt).IsZero() }

// Season is the UTC calendar year of the timestamp, or 0 when unset.
func (jt JSONTime) Season() int {
	if jt.IsZero() {
		return 0
	}
	return time.Time(jt).UTC().Year()
}
