package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitFormulas(t *testing.T) {
	arith := Policy{InitialDelay: 2 * time.Minute, Interval: 5 * time.Minute, Progression: Arithmetic}
	geo := Policy{InitialDelay: 2 * time.Minute, Interval: 5 * time.Minute, Progression: Geometric}

	assert.Equal(t, time.Duration(0), arith.Wait(0))
	assert.Equal(t, 7*time.Minute, arith.Wait(1))
	assert.Equal(t, 12*time.Minute, arith.Wait(2))
	assert.Equal(t, 17*time.Minute, arith.Wait(3))

	assert.Equal(t, time.Duration(0), geo.Wait(0))
	assert.Equal(t, 7*time.Minute, geo.Wait(1))
	assert.Equal(t, 12*time.Minute, geo.Wait(2))
	assert.Equal(t, 22*time.Minute, geo.Wait(3))
	assert.Equal(t, 42*time.Minute, geo.Wait(4))
}

func TestWaitIsNonDecreasing(t *testing.T) {
	for _, prog := range []Progression{Arithmetic, Geometric} {
		p := Policy{InitialDelay: time.Second, Interval: 30 * time.Second, Progression: prog}
		prev := p.Wait(1)
		for n := 2; n <= 200; n++ {
			w := p.Wait(n)
			require.GreaterOrEqualf(t, w, prev, "%s wait decreased at retry %d", prog, n)
			prev = w
		}
	}
}

func TestWaitSaturatesInsteadOfOverflowing(t *testing.T) {
	p := Policy{InitialDelay: time.Hour, Interval: 24 * time.Hour, Progression: Geometric}
	assert.Positive(t, p.Wait(63))
	assert.Equal(t, p.Wait(63), p.Wait(1000))
}

func TestDueFirstAttemptIsImmediate(t *testing.T) {
	p := Policy{InitialDelay: time.Hour, Interval: time.Hour, Progression: Geometric}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, p.Due(now, now, 0))
	assert.True(t, p.Due(now, now.Add(time.Hour), 0), "future last attempt must not delay the first attempt")
	assert.True(t, p.Due(now, time.Time{}, 0))
}

func TestDueAfterWaitElapses(t *testing.T) {
	p := Policy{InitialDelay: 2 * time.Minute, Interval: 5 * time.Minute, Progression: Arithmetic}
	last := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.False(t, p.Due(last.Add(6*time.Minute), last, 1))
	assert.True(t, p.Due(last.Add(7*time.Minute), last, 1))
	assert.False(t, p.Due(last.Add(11*time.Minute), last, 2))
	assert.True(t, p.Due(last.Add(12*time.Minute), last, 2))
}

func TestExhausted(t *testing.T) {
	p := Policy{MaxRetryCount: 4}
	assert.False(t, p.Exhausted(4))
	assert.True(t, p.Exhausted(5))
}

func TestParseProgression(t *testing.T) {
	got, err := ParseProgression("Geometric")
	require.NoError(t, err)
	assert.Equal(t, Geometric, got)

	got, err = ParseProgression(" arithmetic ")
	require.NoError(t, err)
	assert.Equal(t, Arithmetic, got)

	_, err = ParseProgression("fibonacci")
	assert.Error(t, err)
}
