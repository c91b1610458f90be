package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRollingWindowStatsAndPrune(t *testing.T) {
	now := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	w := NewRollingWindow(time.Minute)

	w.Add(false, now, 1)
	w.Add(true, now.Add(10*time.Second), 2)
	w.Add(true, now.Add(20*time.Second), 3)

	failed, total, ratio := w.Stats()
	require.Equal(t, 1, failed)
	require.Equal(t, 3, total)
	require.InDelta(t, 1.0/3.0, ratio, 1e-9)
	require.Equal(t, []bool{false, true, true}, w.Bitmap())

	// The first entry falls out of the window.
	w.Add(true, now.Add(65*time.Second), 4)
	failed, total, _ = w.Stats()
	require.Equal(t, 0, failed)
	require.Equal(t, 3, total)
}

func TestRollingWindowIntervals(t *testing.T) {
	now := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	w := NewRollingWindow(time.Hour)

	require.Equal(t, time.Duration(0), w.LastInterval())
	require.Equal(t, time.Duration(0), w.AvgIntervalLastN(10))

	w.Add(true, now, 1)
	w.Add(true, now.Add(2*time.Second), 2)
	w.Add(false, now.Add(6*time.Second), 3)

	require.Equal(t, 4*time.Second, w.LastInterval())
	require.Equal(t, 3*time.Second, w.AvgIntervalLastN(100))
	require.Equal(t, 4*time.Second, w.AvgIntervalLastN(2))

	require.Equal(t, []bool{true, true, false}, w.Bitmap())

	last, found := w.LastSuccess()
	require.True(t, found)
	require.Equal(t, now.Add(2*time.Second), last)
}

func TestRollingWindowEmpty(t *testing.T) {
	w := NewRollingWindow(0)

	failed, total, ratio := w.Stats()
	require.Zero(t, failed)
	require.Zero(t, total)
	require.Zero(t, ratio)

	_, ok := w.LastSuccess()
	require.False(t, ok)
}
