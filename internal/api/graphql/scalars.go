package graphql

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/feral-file/ff-agent-market/internal/domain"
)

const (
	// DefaultFirst is the page size when a list field has no first argument
	DefaultFirst = 100
	// MaxFirst caps the page size of every list field
	MaxFirst = 1000
)

// BigInt renders a decimal string column as a BigInt scalar
func BigInt(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// Timestamp renders a time as a BigInt of unix seconds
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Uint64 renders an unsigned column as a BigInt scalar
func Uint64(u uint64) string {
	return strconv.FormatUint(u, 10)
}

// parseBigIntArg coerces a BigInt argument to its canonical decimal form.
// Literals arrive as strings or ints, variables as strings or JSON numbers.
func parseBigIntArg(name string, v interface{}) (string, error) {
	var s string
	switch v := v.(type) {
	case string:
		s = v
	case json.Number:
		s = v.String()
	case int:
		s = strconv.Itoa(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return "", fmt.Errorf("%s: %v is not an integer", name, v)
		}
		s = strconv.FormatInt(int64(v), 10)
	default:
		return "", fmt.Errorf("%s: cannot use %T as BigInt", name, v)
	}

	n, err := domain.ParseBigInt(s)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return n.String(), nil
}

// parseIntArg coerces an Int argument
func parseIntArg(name string, v interface{}) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s: %v is not an integer", name, v)
		}
		return int(v), nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s: cannot use %T as Int", name, v)
	}
}

// clampFirst bounds a page size to [0, MaxFirst]
func clampFirst(first int) int {
	if first < 0 {
		return 0
	}
	if first > MaxFirst {
		return MaxFirst
	}
	return first
}
