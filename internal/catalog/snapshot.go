package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// Record is a loosely typed source row as produced by ingestion or read back
// from the canonical store. Every field may hold nil, a string, a number or a
// decimal; BuildSnapshot decides what survives.
type Record struct {
	Supplier       string
	SupplierSiteID any
	ProductCode    any
	Category       any
	Family         any
	Brand          any
	Series         any
	Material       any
	Color          any
	MSRP           any
	Availability   any
	DesignReady    any
	Attributes     any
}

// BuildSnapshot normalizes rec into a Snapshot. It never fails: values that
// cannot be coerced are dropped.
func BuildSnapshot(rec Record) Snapshot {
	snap := Snapshot{
		Supplier:       strings.TrimSpace(rec.Supplier),
		SupplierSiteID: textPtr(rec.SupplierSiteID),
		Category:       UnknownCategory,
		Family:         textPtr(rec.Family),
		Brand:          textPtr(rec.Brand),
		Series:         textPtr(rec.Series),
		Material:       textPtr(rec.Material),
		Color:          textPtr(rec.Color),
		MSRP:           numberPtr(rec.MSRP),
		Availability:   textPtr(rec.Availability),
		DesignReady:    boolPtr(rec.DesignReady),
		Attributes:     copyAttributes(rec.Attributes),
	}
	if code, ok := Text(rec.ProductCode); ok {
		snap.ProductCode = code
	}
	if category, ok := Text(rec.Category); ok {
		snap.Category = category
	}
	return snap
}

type float64Valuer interface {
	Float64Value() (pgtype.Float8, error)
}

// Number coerces v into a finite float64. Numbers, numeric strings,
// json.Number and decimal types exposing Float64Value are accepted.
func Number(v any) (float64, bool) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int8:
		f = float64(val)
	case int16:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint8:
		f = float64(val)
	case uint16:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case *float64:
		if val == nil {
			return 0, false
		}
		f = *val
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	case *string:
		if val == nil {
			return 0, false
		}
		return Number(*val)
	case float64Valuer:
		f8, err := val.Float64Value()
		if err != nil || !f8.Valid {
			return 0, false
		}
		f = f8.Float64
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Text coerces v into a trimmed, non-empty string.
func Text(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		s = val
	case *string:
		if val == nil {
			return "", false
		}
		s = *val
	case json.Number:
		s = val.String()
	case fmt.Stringer:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	default:
		if f, ok := Number(v); ok {
			s = strconv.FormatFloat(f, 'f', -1, 64)
		} else {
			return "", false
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func textPtr(v any) *string {
	s, ok := Text(v)
	if !ok {
		return nil
	}
	return &s
}

func numberPtr(v any) *float64 {
	f, ok := Number(v)
	if !ok {
		return nil
	}
	return &f
}

func boolPtr(v any) *bool {
	var b bool
	switch val := v.(type) {
	case bool:
		b = val
	case *bool:
		if val == nil {
			return nil
		}
		b = *val
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			return nil
		}
		b = parsed
	default:
		return nil
	}
	return &b
}

// copyAttributes shallow-copies an attribute map. Arrays and scalars are not
// attribute maps and produce an empty bag.
func copyAttributes(v any) map[string]any {
	out := map[string]any{}
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			out[k] = item
		}
	case map[string]string:
		for k, item := range val {
			out[k] = item
		}
	}
	return out
}
