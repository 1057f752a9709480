package core

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a UTC instant, serialized as RFC 3339 with nanoseconds
type Timestamp time.Time

// Now returns the current instant
func Now() Timestamp {
	return Timestamp(time.Now().UTC())
}

// Time returns the underlying time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// String formats the instant for reports, to the second
func (t Timestamp) String() string {
	return t.Time().UTC().Format("2006-01-02 15:04:05 UTC")
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.Time().UTC().Format(time.RFC3339Nano))), nil
}

// UnmarshalJSON accepts any RFC 3339 instant and null
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp must be a JSON string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}
