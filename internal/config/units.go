package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// timeUnits lists the names accepted for validator.timeout_unit.
var timeUnits = []struct {
	name string
	dur  time.Duration
}{
	{"days", 24 * time.Hour},
	{"hours", time.Hour},
	{"minutes", time.Minute},
	{"seconds", time.Second},
	{"milliseconds", time.Millisecond},
	{"microseconds", time.Microsecond},
	{"nanoseconds", time.Nanosecond},
}

// ParseTimeUnit maps a unit name (case-insensitive) to its duration.
func ParseTimeUnit(name string) (time.Duration, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, u := range timeUnits {
		if u.name == n {
			return u.dur, nil
		}
	}
	return 0, fmt.Errorf("unknown time unit %q", name)
}

// scaleDuration multiplies amount by unit, rejecting non-positive amounts
// and overflow.
func scaleDuration(amount int64, unit time.Duration) (time.Duration, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %d", amount)
	}
	if amount > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("timeout %d overflows", amount)
	}
	return time.Duration(amount) * unit, nil
}

func splitDuration(d time.Duration) (int64, string) {
	if d <= 0 {
		return 0, "nanoseconds"
	}
	for _, u := range timeUnits {
		if d%u.dur == 0 {
			return int64(d / u.dur), u.name
		}
	}
	return int64(d), "nanoseconds"
}
