package stocks

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"tote-relay/internal/archive"
)

// ErrInvalidTimestamp is returned when a timestamp parameter cannot be parsed.
var ErrInvalidTimestamp = errors.New("timestamp must be unix seconds, unix milliseconds, RFC 3339, or YYYY-MM-DD")

// Integers at or above this magnitude are read as milliseconds.
const millisThreshold = 100_000_000_000

// ParseTimestamp reads unix seconds, unix milliseconds, an RFC 3339 instant,
// or a YYYY-MM-DD date in exchange time.
func ParseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrInvalidTimestamp
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= millisThreshold || n <= -millisThreshold {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, archive.ExchangeZone); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: got %q", ErrInvalidTimestamp, raw)
}
