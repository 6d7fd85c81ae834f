// Package util provides identity normalization and small helpers shared across the tracker.
package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrMissingID is returned when an event carries no usable vehicle id.
	ErrMissingID = errors.New("missing vehicle id")
	// ErrInvalidID is returned for id values of an unsupported type or non-finite numbers.
	ErrInvalidID = errors.New("invalid vehicle id")
)

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// CanonicalID normalizes a raw vehicle identifier to the single string key
// used for every registry lookup. Numeric encodings of the same integer
// ("5", 5, 5.0, json.Number("5")) all map to "5".
func CanonicalID(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", ErrMissingID
	case string:
		return canonicalString(v)
	case json.Number:
		return canonicalString(v.String())
	case float64:
		return formatNumber(v)
	case float32:
		return formatNumber(float64(v))
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case fmt.Stringer:
		return canonicalString(v.String())
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrInvalidID, raw)
	}
}

func canonicalString(s string) (string, error) {
	s = strings.TrimSpace(TrimQuotes(strings.TrimSpace(s)))
	if s == "" {
		return "", ErrMissingID
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(n, 10), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if id, err := formatNumber(f); err == nil {
			return id, nil
		}
	}
	return s, nil
}

func formatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite number", ErrInvalidID)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// CompareIDs orders canonical ids numerically when both are numbers and
// lexically otherwise; numeric ids sort before textual ones.
func CompareIDs(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
