package provider

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Float decodes JSON numbers that exchanges send either bare or quoted.
// Empty strings and null decode to zero.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse float %q: %w", s, err)
	}
	*f = Float(v)
	return nil
}

// Millis decodes a unix timestamp in milliseconds, bare or quoted.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	var f Float
	if err := f.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = Millis(int64(f))
	return nil
}

// Time returns the UTC time, or the zero time when the value is not set.
func (m Millis) Time() time.Time {
	if m <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(m)).UTC()
}

// ParseEpoch accepts seconds or milliseconds and returns UTC.
func ParseEpoch(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1_000_000_000_000 { // ms
		return time.UnixMilli(v).UTC()
	}
	return time.Unix(v, 0).UTC()
}

// NextEightHourFunding approximates the next settlement for exchanges that
// omit it: funding at 00:00, 08:00 and 16:00 UTC.
func NextEightHourFunding(now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return day.Add(time.Duration(now.Hour()/8+1) * 8 * time.Hour)
}
