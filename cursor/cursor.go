// Package cursor defines the pull watermark: the timestamp up to which
// the local device has incorporated remote changes.
package cursor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a watermark in Unix milliseconds, the unit the wire
// protocol uses. The zero value means "never pulled" and requests the
// full dataset.
type Timestamp struct {
	Millis int64
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Millis: t.UnixMilli()}
}

// Now returns the current wall-clock watermark.
func Now() Timestamp {
	return FromTime(time.Now())
}

// IsZero reports whether this is the "never pulled" watermark.
func (t Timestamp) IsZero() bool { return t.Millis == 0 }

// Time converts the watermark back to a time.Time.
func (t Timestamp) Time() time.Time { return time.UnixMilli(t.Millis) }

// Compare returns -1 if t is before other, 0 if equal, 1 if after.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.Millis < other.Millis:
		return -1
	case t.Millis > other.Millis:
		return 1
	default:
		return 0
	}
}

func (t Timestamp) String() string {
	return strconv.FormatInt(t.Millis, 10)
}

// Parse converts the string form back into a Timestamp. The empty
// string and "0" parse to the zero watermark.
func Parse(s string) (Timestamp, error) {
	if s == "" || s == "0" {
		return Timestamp{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid watermark %q: %w", s, err)
	}
	if ms < 0 {
		return Timestamp{}, fmt.Errorf("invalid watermark %q: negative", s)
	}
	return Timestamp{Millis: ms}, nil
}

// MarshalJSON encodes the watermark as a bare integer.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Millis)
}

// UnmarshalJSON accepts an integer or null; null decodes to zero.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Millis = 0
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid watermark payload: %w", err)
	}
	if ms < 0 {
		return fmt.Errorf("invalid watermark: negative")
	}
	t.Millis = ms
	return nil
}

// Latest returns the later of two watermarks. Watermarks are
// monotonically non-decreasing; stores use this to refuse regressions.
func Latest(a, b Timestamp) Timestamp {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}
