package capture

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultIntervalSeconds = 3
	MinIntervalSeconds     = 1
	// MaxIntervalSeconds is the longest period a time.Duration can hold.
	MaxIntervalSeconds int64 = math.MaxInt64 / int64(time.Second)
)

// ParseInterval turns the interval input into a capture period. The input
// is read like an integer field: leading whitespace and sign are allowed,
// digits are consumed up to the first non-digit ("2.5s" is 2). Empty or
// unparsable input means the default; values outside the range are
// clamped to the nearest bound.
func ParseInterval(input string) time.Duration {
	secs := DefaultIntervalSeconds
	if n, ok := leadingInt(strings.TrimSpace(input)); ok {
		secs = n
	}
	return ClampInterval(secs)
}

// ClampInterval converts seconds to a duration within
// [MinIntervalSeconds, MaxIntervalSeconds].
func ClampInterval(secs int) time.Duration {
	if secs < MinIntervalSeconds {
		secs = MinIntervalSeconds
	}
	if int64(secs) > MaxIntervalSeconds {
		return time.Duration(MaxIntervalSeconds) * time.Second
	}
	return time.Duration(secs) * time.Second
}

func leadingInt(s string) (int, bool) {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 0, false
	}

	n, err := strconv.Atoi(s[:end])
	if err != nil {
		// overflow: the sign decides which side of the clamp we land on
		if s[0] == '-' {
			return MinIntervalSeconds, true
		}
		return math.MaxInt, true
	}
	return n, true
}
