// Package ingest coerces loosely typed spreadsheet and callback values into
// domain values and imports rider/call tables.
//
// The normalizer functions never default: anything they cannot read is Absent.
package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"onboarding-calls/internal/riders"
	"onboarding-calls/pkg/opt"
)

// LooseBool reads yes/no style strings. Unknown text, "" and "-" are Absent.
func LooseBool(s string) opt.Value[bool] {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "t":
		return opt.Some(true)
	case "false", "no", "n", "0", "f":
		return opt.Some(false)
	default:
		return opt.None[bool]()
	}
}

// LooseBoolValue is LooseBool over a decoded JSON value. JSON null is Null.
func LooseBoolValue(v any) opt.Value[bool] {
	switch t := v.(type) {
	case nil:
		return opt.NullOf[bool]()
	case bool:
		return opt.Some(t)
	case string:
		return LooseBool(t)
	case json.Number:
		return LooseBool(t.String())
	case float64:
		switch t {
		case 1:
			return opt.Some(true)
		case 0:
			return opt.Some(false)
		}
	}
	return opt.None[bool]()
}

// Riders sign up in the EU, so slash and dot dates are read day-first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
}

// LooseDate parses the supported layouts as UTC. Empty or unparseable input is Absent.
func LooseDate(s string) opt.Value[time.Time] {
	s = strings.TrimSpace(s)
	if s == "" {
		return opt.None[time.Time]()
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return opt.Some(t.UTC())
		}
	}
	return opt.None[time.Time]()
}

// LooseInt accepts a digits-only string (surrounding space allowed) or a
// whole JSON number. Anything else is Absent.
func LooseInt(v any) opt.Value[int64] {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.TrimLeft(s, "0123456789") != "" {
			return opt.None[int64]()
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return opt.None[int64]()
		}
		return opt.Some(n)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return opt.Some(n)
		}
		if f, err := t.Float64(); err == nil {
			return wholeFloat(f)
		}
	case float64:
		return wholeFloat(t)
	case int:
		return opt.Some(int64(t))
	case int64:
		return opt.Some(t)
	}
	return opt.None[int64]()
}

// wholeFloat rejects fractions and anything outside [-2^63, 2^63).
// math.MaxInt64 rounds up to 2^63 as a float64, so the bounds are explicit.
func wholeFloat(f float64) opt.Value[int64] {
	if math.IsNaN(f) || f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return opt.None[int64]()
	}
	return opt.Some(int64(f))
}

// AggregateDocuments summarises per-document flags: ALL when every known flag
// is true, NONE when every known flag is false, PARTIAL when mixed. With no
// known flags the result is Absent.
func AggregateDocuments(flags []opt.Value[bool]) opt.Value[riders.DocumentsStatus] {
	var yes, no int
	for _, f := range flags {
		v, ok := f.Get()
		if !ok {
			continue
		}
		if v {
			yes++
		} else {
			no++
		}
	}
	switch {
	case yes == 0 && no == 0:
		return opt.None[riders.DocumentsStatus]()
	case no == 0:
		return opt.Some(riders.DocumentsAll)
	case yes == 0:
		return opt.Some(riders.DocumentsNone)
	default:
		return opt.Some(riders.DocumentsPartial)
	}
}

// NormalizeHeader case-folds and collapses whitespace.
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), " ")
}

// NonEmpty returns the trimmed string as Present, or Absent when blank.
func NonEmpty(s string) opt.Value[string] {
	s = strings.TrimSpace(s)
	if s == "" {
		return opt.None[string]()
	}
	return opt.Some(s)
}
