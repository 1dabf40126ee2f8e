package reactor

import "go.uber.org/zap"

// Default tuning values, per spec.md §6.
const (
	maxEventsPerWaitDefault = 128
	maxTimersPerWaitDefault = 64
	maxCyclesPerWaitDefault = 4
	minThreadsDefault       = 1
	maxThreadsDefault       = 1
)

// Config enumerates the Reactor's construction-time options from
// spec.md §4.5/§6.
type Config struct {
	// MinThreads/MaxThreads bound the waiter pool. MaxThreads > 1 forces
	// one-shot interest on every Show* call (normalized sets OneShot);
	// there is no per-event opt-out.
	MinThreads int
	MaxThreads int

	// MaxEventsPerWait bounds events returned from a single OS wait call.
	MaxEventsPerWait int
	// MaxTimersPerWait/MaxCyclesPerWait bound chronology throughput per
	// driver iteration.
	MaxTimersPerWait int
	MaxCyclesPerWait int

	// AutoAttach implicitly attaches an unattached handle on its first
	// Show* call.
	AutoAttach bool
	// AutoDetach implicitly detaches an entry once Hide* empties its
	// interest.
	AutoDetach bool

	// OneShot, when true, makes every Show* call one-shot; a call's
	// Options.OneShot of false cannot turn it off.
	OneShot bool
	// Trigger, when TriggerEdge, replaces a Show* call's TriggerLevel
	// (the zero value), so with an edge default a call cannot select
	// level triggering.
	Trigger Trigger

	// MetricCollection enables Debug-level zap traces of each dispatch
	// and announce cycle. MetricCollectionPerWaiter and
	// MetricCollectionPerSocket enable the per-waiter and per-socket
	// counter breakdowns in DriverMetrics (see SPEC_FULL.md's
	// "Per-socket and per-waiter metrics breakdown" section). The
	// reactor-wide counters are maintained regardless of these flags.
	MetricCollection          bool
	MetricCollectionPerWaiter bool
	MetricCollectionPerSocket bool

	// Logger is the ambient structured logger. Defaults to a no-op
	// logger when nil.
	Logger *zap.Logger

	// DrainNotifications, if set, is called on a handle that just
	// reported error/hangup before the ERROR event is dispatched, per
	// spec.md §4.5 step 3c ("attempt to drain notifications; if fatal,
	// dispatch the ERROR event"). It returns whether the condition is
	// fatal (ERROR should fire) or was fully drained (no dispatch). Nil
	// means every error/hangup is treated as fatal, which is correct
	// whenever there is no protocol socket layer attempting a
	// zero-length recvmsg drain underneath this handle.
	DrainNotifications func(Handle) bool
}

// DefaultConfig returns a Config with spec.md §6's documented defaults,
// following gaio's NewWatcher/NewWatcherSize sized-vs-bare constructor
// pair (DefaultConfig is the "bare" entry point; callers needing custom
// tuning build a Config literal directly, mirroring NewWatcherSize).
func DefaultConfig() Config {
	return Config{
		MinThreads:       minThreadsDefault,
		MaxThreads:       maxThreadsDefault,
		MaxEventsPerWait: maxEventsPerWaitDefault,
		MaxTimersPerWait: maxTimersPerWaitDefault,
		MaxCyclesPerWait: maxCyclesPerWaitDefault,
		AutoAttach:       true,
		AutoDetach:       true,
		Trigger:          TriggerLevel,
	}
}

func (c Config) normalized() Config {
	if c.MinThreads <= 0 {
		c.MinThreads = minThreadsDefault
	}
	if c.MaxThreads <= 0 {
		c.MaxThreads = c.MinThreads
	}
	if c.MaxThreads < c.MinThreads {
		c.MaxThreads = c.MinThreads
	}
	if c.MaxEventsPerWait <= 0 {
		c.MaxEventsPerWait = maxEventsPerWaitDefault
	}
	if c.MaxTimersPerWait <= 0 {
		c.MaxTimersPerWait = maxTimersPerWaitDefault
	}
	if c.MaxCyclesPerWait <= 0 {
		c.MaxCyclesPerWait = maxCyclesPerWaitDefault
	}
	if c.MaxThreads > 1 {
		// spec.md §4.5: one-shot is mandatory with more than one waiter
		// thread, to avoid two waiters dispatching the same event.
		c.OneShot = true
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
