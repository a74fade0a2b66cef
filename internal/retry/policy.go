// Package retry decides when a failed pipeline stage may be attempted again.
// Every function here is pure: the current time is always passed in.
package retry

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Progression selects how the wait between attempts grows.
type Progression string

// Supported progressions.
const (
	Arithmetic Progression = "arithmetic"
	Geometric  Progression = "geometric"
)

// maxShift bounds the geometric exponent so the multiplier fits in an int64.
const maxShift = 62

// ParseProgression parses a progression name, case-insensitively.
func ParseProgression(s string) (Progression, error) {
	switch Progression(strings.ToLower(strings.TrimSpace(s))) {
	case Arithmetic:
		return Arithmetic, nil
	case Geometric:
		return Geometric, nil
	default:
		return "", fmt.Errorf("unknown retry progression %q", s)
	}
}

// Policy is the retry configuration of one stage.
type Policy struct {
	MaxRetryCount int
	InitialDelay  time.Duration
	Interval      time.Duration
	Progression   Progression
}

// DefaultPolicy is the per-stage policy used when nothing is configured.
var DefaultPolicy = Policy{
	MaxRetryCount: 4,
	InitialDelay:  5 * time.Minute,
	Interval:      15 * time.Minute,
	Progression:   Arithmetic,
}

// Wait returns how long after the last attempt the next attempt becomes due.
// It is zero for retryCount <= 0 and non-decreasing in retryCount.
//
//	arithmetic: initialDelay + interval*n
//	geometric:  initialDelay + interval*2^(n-1)
func (p Policy) Wait(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}

	var mult int64
	switch p.Progression {
	case Geometric:
		shift := retryCount - 1
		if shift > maxShift {
			shift = maxShift
		}
		mult = int64(1) << shift
	default:
		mult = int64(retryCount)
	}

	return saturatingAdd(p.InitialDelay, saturatingMul(p.Interval, mult))
}

// Due reports whether another attempt is due at now. The first attempt
// (retryCount 0) is never delayed.
func (p Policy) Due(now, lastAttempt time.Time, retryCount int) bool {
	if retryCount <= 0 {
		return true
	}
	return now.Sub(lastAttempt) >= p.Wait(retryCount)
}

// Exhausted reports whether retryCount has gone past the configured maximum.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount > p.MaxRetryCount
}

func saturatingMul(d time.Duration, n int64) time.Duration {
	if d <= 0 || n <= 0 {
		return 0
	}
	if int64(d) > math.MaxInt64/n {
		return time.Duration(math.MaxInt64)
	}
	return d * time.Duration(n)
}

func saturatingAdd(a, b time.Duration) time.Duration {
	if a < 0 {
		a = 0
	}
	if b > time.Duration(math.MaxInt64)-a {
		return time.Duration(math.MaxInt64)
	}
	return a + b
}
