package util

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds or milliseconds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		if ts > 1e11 { // ms
			return time.UnixMilli(ts), true
		}
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns def if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// Number decodes a JSON number that upstream may send as a number, a numeric
// string, or null. Anything unparseable decodes to zero instead of failing.
type Number decimal.Decimal

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number(ParseDecimal(b))
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	return json.Marshal(decimal.Decimal(n).InexactFloat64())
}

// Float64 returns the value as float64.
func (n Number) Float64() float64 { return decimal.Decimal(n).InexactFloat64() }

// Int returns the value rounded half away from zero.
func (n Number) Int() int { return int(decimal.Decimal(n).Round(0).IntPart()) }

// ParseDecimal parses a raw JSON token into a decimal, defaulting to zero.
func ParseDecimal(raw []byte) decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Zero
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
