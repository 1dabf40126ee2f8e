package chronology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock, grounded on the original
// source's ntcs_chronology.t.cpp clock-advance test idiom.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time    { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestSingleOneShotTimer(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var events []EventKind
	timer := c.CreateTimer(Options{OneShot: true, Events: AllEvents}, func(k EventKind) {
		events = append(events, k)
	})
	require.NoError(t, timer.Schedule(clock.Now(), 0))

	c.Announce(false)

	require.Equal(t, []EventKind{EventDeadline, EventClosed}, events)
	require.Equal(t, 0, c.NumRegistered())
	require.Equal(t, 0, c.NumScheduled())
}

func TestThreeOrderedTimers(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var order []string
	mk := func(name string) *Timer {
		return c.CreateTimer(Options{OneShot: true, Events: MaskDeadline}, func(EventKind) {
			order = append(order, name)
		})
	}
	t0, t1, t2 := mk("t0"), mk("t1"), mk("t2")
	base := clock.Now()
	require.NoError(t, t0.Schedule(base.Add(time.Hour), 0))
	require.NoError(t, t1.Schedule(base.Add(2*time.Hour), 0))
	require.NoError(t, t2.Schedule(base.Add(3*time.Hour), 0))

	clock.Advance(time.Hour)
	c.Announce(false)
	require.Equal(t, []string{"t0"}, order)

	clock.Advance(time.Hour)
	c.Announce(false)
	require.Equal(t, []string{"t0", "t1"}, order)

	clock.Advance(time.Hour)
	c.Announce(false)
	require.Equal(t, []string{"t0", "t1", "t2"}, order)
}

// TestRecurringBacklogCollapse exercises spec.md §4.3 step 4: any
// number of missed periods collapses into exactly one DEADLINE
// announcement per Announce call, and the timer's deadline always ends
// up strictly after "now".
func TestRecurringBacklogCollapse(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	fireCount := 0
	timer := c.CreateTimer(Options{Events: MaskDeadline}, func(EventKind) {
		fireCount++
	})
	base := clock.Now()
	require.NoError(t, timer.Schedule(base.Add(time.Hour), time.Minute))

	clock.Advance(time.Hour)
	c.Announce(false)
	require.Equal(t, 1, fireCount)
	require.True(t, timer.Deadline().After(clock.Now()))

	// Four periods elapse at once; only one catch-up DEADLINE fires.
	clock.Advance(4 * time.Minute)
	c.Announce(false)
	require.Equal(t, 2, fireCount)
	require.True(t, timer.Deadline().After(clock.Now()))

	// Advancing to just before the (now rounded-up) deadline fires nothing.
	untilNext := timer.Deadline().Sub(clock.Now()) - time.Millisecond
	if untilNext > 0 {
		clock.Advance(untilNext)
		c.Announce(false)
		require.Equal(t, 2, fireCount)
	}
}

func TestCancelBeforeDue(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var events []EventKind
	timer := c.CreateTimer(Options{Events: MaskCanceled}, func(k EventKind) {
		events = append(events, k)
	})
	require.NoError(t, timer.Schedule(clock.Now().Add(time.Hour), 0))

	clock.Advance(time.Minute)
	c.Announce(false)
	require.Empty(t, events)

	outcome, err := timer.Cancel()
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, outcome)

	c.Announce(false)
	require.Equal(t, []EventKind{EventCanceled}, events)
}

func TestScheduleOnClosedTimerFails(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})
	timer := c.CreateTimer(Options{}, func(EventKind) {})
	require.NoError(t, timer.Close())
	require.ErrorIs(t, timer.Schedule(clock.Now(), 0), ErrClosed)
}

func TestDeferredFunctionsPreserveFIFOOrder(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		c.Execute(func() { order = append(order, i) })
	}
	c.Announce(false)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEarliestDeadlineEqualToNowYieldsZeroTimeout(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})
	timer := c.CreateTimer(Options{Events: MaskDeadline}, func(EventKind) {})
	require.NoError(t, timer.Schedule(clock.Now(), 0))

	d, ok := c.TimeoutInterval()
	require.True(t, ok)
	require.Equal(t, time.Duration(0), d)
}

func TestNoWorkYieldsIndefiniteTimeout(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})
	_, ok := c.TimeoutInterval()
	require.False(t, ok)
}

func TestHierarchicalChronologyEarliestConsidersParent(t *testing.T) {
	clock := newFakeClock()
	parent := New(Config{Clock: clock.Now})
	child := New(Config{Clock: clock.Now, Parent: parent})

	parentTimer := parent.CreateTimer(Options{Events: MaskDeadline}, func(EventKind) {})
	require.NoError(t, parentTimer.Schedule(clock.Now().Add(time.Minute), 0))

	childTimer := child.CreateTimer(Options{Events: MaskDeadline}, func(EventKind) {})
	require.NoError(t, childTimer.Schedule(clock.Now().Add(time.Hour), 0))

	earliest, ok := child.Earliest()
	require.True(t, ok)
	require.True(t, earliest.Equal(clock.Now().Add(time.Minute)))
}

// TestOneShotClosedEventWaitsForOutstandingReferences exercises spec.md
// §4.3 step 3's "no outstanding external references" gate: CLOSED is
// withheld while a Retain is outstanding and fires as soon as the
// matching Release drops the count to zero.
func TestOneShotClosedEventWaitsForOutstandingReferences(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var events []EventKind
	timer := c.CreateTimer(Options{OneShot: true, Events: AllEvents}, func(k EventKind) {
		events = append(events, k)
	})
	timer.Retain()
	require.NoError(t, timer.Schedule(clock.Now(), 0))

	c.Announce(false)
	require.Equal(t, []EventKind{EventDeadline}, events, "CLOSED must wait for the outstanding reference")
	require.Equal(t, StateClosed, timer.State(), "the timer itself still transitions to CLOSED immediately")

	timer.Release()
	require.Equal(t, []EventKind{EventDeadline, EventClosed}, events, "Release must dispatch the deferred CLOSED event")
}

// TestCloseWaitsForOutstandingReferences is the same gate exercised via
// the non-recurring Close path rather than fireTimer's one-shot path.
func TestCloseWaitsForOutstandingReferences(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	var events []EventKind
	timer := c.CreateTimer(Options{Events: MaskClosed}, func(k EventKind) {
		events = append(events, k)
	})
	timer.Retain()

	require.NoError(t, timer.Close())
	require.Empty(t, events)

	timer.Release()
	require.Equal(t, []EventKind{EventClosed}, events)
}

// TestAnnounceReturnsFiredAndRunCounts exercises the counts Announce
// feeds back to an embedding driver's own metrics.
func TestAnnounceReturnsFiredAndRunCounts(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})

	timer := c.CreateTimer(Options{OneShot: true, Events: MaskDeadline}, func(EventKind) {})
	require.NoError(t, timer.Schedule(clock.Now(), 0))
	c.Execute(func() {})
	c.Execute(func() {})

	fired, run := c.Announce(false)
	require.Equal(t, 1, fired)
	require.Equal(t, 2, run)
}

func TestLoadReturnsTimersInDeadlineOrder(t *testing.T) {
	clock := newFakeClock()
	c := New(Config{Clock: clock.Now})
	base := clock.Now()

	t2 := c.CreateTimer(Options{}, func(EventKind) {})
	t1 := c.CreateTimer(Options{}, func(EventKind) {})
	t0 := c.CreateTimer(Options{}, func(EventKind) {})
	require.NoError(t, t2.Schedule(base.Add(3*time.Hour), 0))
	require.NoError(t, t1.Schedule(base.Add(2*time.Hour), 0))
	require.NoError(t, t0.Schedule(base.Add(time.Hour), 0))

	loaded := c.Load()
	require.Len(t, loaded, 3)
	require.Equal(t, t0.ID(), loaded[0].ID())
	require.Equal(t, t1.ID(), loaded[1].ID())
	require.Equal(t, t2.ID(), loaded[2].ID())
}
