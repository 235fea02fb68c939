package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"lidora/internal/apperr"
	"lidora/internal/docstore"
	"lidora/internal/fees"
)

// fieldReader pulls typed fields out of a document and remembers the first
// problem, so decoders can read every field and check once.
type fieldReader struct {
	path string
	data docstore.Data
	err  error
}

func newFieldReader(snap docstore.Snapshot) *fieldReader {
	return &fieldReader{path: string(snap.Path), data: snap.Data}
}

func (r *fieldReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &apperr.DecodeError{Path: r.path, Field: field, Reason: reason}
	}
}

func (r *fieldReader) lookup(field string, required bool) (any, bool) {
	v, ok := r.data[field]
	if !ok || v == nil {
		if required {
			r.fail(field, "is missing")
		}
		return nil, false
	}
	return v, true
}

func (r *fieldReader) str(field string, required bool) string {
	v, ok := r.lookup(field, required)
	if !ok {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		r.fail(field, fmt.Sprintf("is %T, want string", v))
		return ""
	}
	if required && s == "" {
		r.fail(field, "is empty")
	}
	return s
}

func (r *fieldReader) integer(field string, required bool) int {
	v, ok := r.lookup(field, required)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			r.fail(field, fmt.Sprintf("is %q, want integer", n.String()))
			return 0
		}
		return int(i)
	case float64:
		if n != math.Trunc(n) {
			r.fail(field, fmt.Sprintf("is %v, want integer", n))
			return 0
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		r.fail(field, fmt.Sprintf("is %T, want integer", v))
		return 0
	}
}

func (r *fieldReader) money(field string, required bool) decimal.Decimal {
	v, ok := r.lookup(field, required)
	if !ok {
		return decimal.Zero
	}
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			r.fail(field, fmt.Sprintf("is %q, want amount", n.String()))
			return decimal.Zero
		}
		return d
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			r.fail(field, "is not finite")
			return decimal.Zero
		}
		return decimal.NewFromFloat(n)
	default:
		r.fail(field, fmt.Sprintf("is %T, want amount", v))
		return decimal.Zero
	}
}

func (r *fieldReader) boolean(field string) bool {
	v, ok := r.lookup(field, false)
	if !ok {
		return false
	}
	b, isBool := v.(bool)
	if !isBool {
		r.fail(field, fmt.Sprintf("is %T, want bool", v))
	}
	return b
}

func (r *fieldReader) timestamp(field string, required bool) time.Time {
	s := r.str(field, required)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		r.fail(field, fmt.Sprintf("is %q, want RFC 3339 time", s))
	}
	return t
}

func (r *fieldReader) object(field string) (docstore.Data, bool) {
	v, ok := r.lookup(field, false)
	if !ok {
		return nil, false
	}
	m, isMap := v.(map[string]any)
	if !isMap {
		r.fail(field, fmt.Sprintf("is %T, want object", v))
		return nil, false
	}
	return docstore.Data(m), true
}

// Money encodes an amount for storage, rounded to cents.
func Money(d decimal.Decimal) json.Number {
	return json.Number(fees.Round(d).StringFixed(fees.Places))
}

func timeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
