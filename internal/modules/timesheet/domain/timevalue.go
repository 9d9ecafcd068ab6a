package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day        = 24 * time.Hour
	DateLayout = "2006-01-02"
)

// TimeValue is a time of day or a span, written HH:MM or HH:MM:SS.
type TimeValue time.Duration

func ParseTimeValue(raw string) (TimeValue, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	limits := []int{23, 59, 59}
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	var total time.Duration
	for i, part := range parts {
		if part == "" || len(part) > 2 || strings.Trim(part, "0123456789") != "" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
		}
		total += time.Duration(n) * units[i]
	}
	return TimeValue(total), nil
}

func MustTimeValue(raw string) TimeValue {
	v, err := ParseTimeValue(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v TimeValue) Duration() time.Duration {
	return time.Duration(v)
}

func (v TimeValue) String() string {
	d := time.Duration(v)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if s != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", h, m)
}

// Clock renders the value with seconds, the form the remote form expects.
func (v TimeValue) Clock() string {
	d := time.Duration(v)
	return fmt.Sprintf("%02d:%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second))
}

func (v TimeValue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *TimeValue) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeValue(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// TimeOfDay reads the wall clock of t, ignoring DST gaps since midnight.
func TimeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}
