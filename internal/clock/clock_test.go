package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRealAdvances(t *testing.T) {
	a := Real.Now()
	time.Sleep(time.Millisecond)
	b := Real.Now()
	require.True(t, b.After(a) || b.Equal(a))
}

func TestMutablePinned(t *testing.T) {
	pinned := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	c := NewMutable(pinned)
	require.Equal(t, pinned, c.Now())
	require.Equal(t, pinned, c.UTCNow())

	later := pinned.Add(time.Hour)
	c.Set(later)
	require.Equal(t, later, c.Now())
}

func TestMutableZeroFallsBackToSystemClock(t *testing.T) {
	c := NewMutable(time.Time{})
	require.False(t, c.Now().IsZero())
}
