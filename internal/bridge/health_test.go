package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthRegistry_AddRemove(t *testing.T) {
	r := NewHealthRegistry()
	require.Equal(t, 0, r.Count())

	r.Add("c1")
	r.Add("c2")
	require.Equal(t, 2, r.Count())
	require.True(t, r.Has("c1"))

	r.Remove("c1")
	require.Equal(t, 1, r.Count())
	require.False(t, r.Has("c1"))
	require.True(t, r.Has("c2"))
}

func TestHealthRegistry_RecordAndSnapshot(t *testing.T) {
	r := NewHealthRegistry()
	r.Add("c1")

	now := time.Now()
	r.RecordDuration("c1", now, 120*time.Millisecond)
	r.RecordDuration("c1", now.Add(time.Second), 80*time.Millisecond)
	r.SetInterval("c1", 5*time.Second)

	h, ok := r.Snapshot("c1")
	require.True(t, ok)
	require.Len(t, h.RequestDurations, 2)
	require.Equal(t, 5*time.Second, h.RequestInterval)

	// samples for unknown clients are silently dropped
	r.RecordDuration("ghost", now, time.Second)
	_, ok = r.Snapshot("ghost")
	require.False(t, ok)
}

func TestHealthRegistry_Prune(t *testing.T) {
	r := NewHealthRegistry()
	r.Add("c1")

	now := time.Now()
	r.RecordDuration("c1", now.Add(-10*time.Minute), 100*time.Millisecond)
	r.RecordDuration("c1", now.Add(-time.Minute), 100*time.Millisecond)
	r.Prune(now.Add(-5 * time.Minute))

	h, _ := r.Snapshot("c1")
	require.Len(t, h.RequestDurations, 1)
}

func TestHealthRegistry_Averages(t *testing.T) {
	r := NewHealthRegistry()
	r.Add("fast")
	r.Add("slow")
	r.Add("idle")

	now := time.Now()
	r.RecordDuration("fast", now.Add(-time.Minute), 100*time.Millisecond)
	r.RecordDuration("fast", now.Add(-30*time.Second), 300*time.Millisecond)
	r.RecordDuration("slow", now.Add(-6*time.Minute), 900*time.Millisecond)

	avg, values := r.Averages(now.Add(-5 * time.Minute))
	require.Len(t, values, 2) // idle has no samples

	fast, _ := r.Snapshot("fast")
	require.Equal(t, 0.2, fast.AvgDuration)
	require.False(t, fast.Grown, "window not saturated yet")

	slow, _ := r.Snapshot("slow")
	require.Equal(t, 0.9, slow.AvgDuration)
	require.True(t, slow.Grown, "oldest sample is outside the window")

	require.Equal(t, 0.55, avg)
}

func TestHealthRegistry_AveragesEmpty(t *testing.T) {
	r := NewHealthRegistry()
	r.Add("c1")
	avg, values := r.Averages(time.Now())
	require.Zero(t, avg)
	require.Empty(t, values)
}

func TestHealthRegistry_MarkBad(t *testing.T) {
	r := NewHealthRegistry()
	now := time.Now()

	// slower than dev with a saturated window: flagged
	r.Add("slow")
	r.RecordDuration("slow", now.Add(-6*time.Minute), 900*time.Millisecond)
	// fast and not throttled: healthy
	r.Add("fast")
	r.RecordDuration("fast", now.Add(-time.Minute), 100*time.Millisecond)
	// fast but throttled: the throttle is hiding in plain sight, flagged
	r.Add("throttled")
	r.RecordDuration("throttled", now.Add(-time.Minute), 100*time.Millisecond)
	r.SetInterval("throttled", 5*time.Second)

	r.Averages(now.Add(-5 * time.Minute))
	flagged := r.MarkBad(0.5)
	require.ElementsMatch(t, []string{"slow", "throttled"}, flagged)

	require.True(t, r.ConsumeDropCookies("slow"))
	require.False(t, r.ConsumeDropCookies("slow"), "flag is consumed once")
	require.False(t, r.ConsumeDropCookies("fast"))
	require.True(t, r.ConsumeDropCookies("throttled"))
}

func TestHealthRegistry_MarkBadNotGrown(t *testing.T) {
	r := NewHealthRegistry()
	now := time.Now()

	// slow but the window has not saturated yet: not flagged
	r.Add("warming")
	r.RecordDuration("warming", now.Add(-time.Minute), 900*time.Millisecond)

	r.Averages(now.Add(-5 * time.Minute))
	require.Empty(t, r.MarkBad(0.5))
}
