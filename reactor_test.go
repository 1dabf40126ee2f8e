package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bloomberg/ntc-reactor/chronology"
)

// fakeBackend is a minimal in-memory backend double, letting reactor.go
// be exercised without a real epoll/kqueue descriptor.
type fakeBackend struct {
	addCalls, modifyCalls, removeCalls int
	lastInterest                       Interest
}

func (b *fakeBackend) add(h Handle, in Interest) error      { b.addCalls++; b.lastInterest = in; return nil }
func (b *fakeBackend) modify(h Handle, in Interest) error   { b.modifyCalls++; b.lastInterest = in; return nil }
func (b *fakeBackend) remove(h Handle) error                { b.removeCalls++; return nil }
func (b *fakeBackend) wait(dst []rawEvent, _ time.Duration) ([]rawEvent, error) {
	return dst, nil
}
func (b *fakeBackend) close() error { return nil }

type fakeController struct{}

func (fakeController) handle() (Handle, bool)    { return InvalidHandle, false }
func (fakeController) interrupt() error          { return nil }
func (fakeController) interruptAll(int) error    { return nil }
func (fakeController) acknowledge() error        { return nil }
func (fakeController) close() error              { return nil }

func newTestReactor(t *testing.T, cfg Config) (*Reactor, *fakeBackend) {
	t.Helper()
	cfg = cfg.normalized()
	back := &fakeBackend{}
	r := &Reactor{
		cfg:        cfg,
		reg:        newRegistry(),
		back:       back,
		ctrl:       fakeController{},
		ctrlHandle: InvalidHandle,
		logger:     zap.NewNop(),
		waiters:    make(map[*Waiter]struct{}),
	}
	r.chron = chronology.New(chronology.Config{OnChange: r.onChronologyChange})
	return r, back
}

func TestReactorShowAddsThenModifies(t *testing.T) {
	r, back := newTestReactor(t, DefaultConfig())

	require.NoError(t, r.Attach(1, nil))
	require.NoError(t, r.ShowReadable(1, Options{}, func(Event) {}))
	require.Equal(t, 1, back.addCalls)

	require.NoError(t, r.ShowWritable(1, Options{}, func(Event) {}))
	require.Equal(t, 1, back.addCalls)
	require.Equal(t, 1, back.modifyCalls)
}

func TestReactorShowAutoAttaches(t *testing.T) {
	r, back := newTestReactor(t, DefaultConfig())

	require.NoError(t, r.ShowReadable(42, Options{}, func(Event) {}))
	require.Equal(t, 1, back.addCalls)
	require.NotNil(t, r.reg.lookup(42))
}

func TestReactorShowWithoutAutoAttachFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoAttach = false
	r, _ := newTestReactor(t, cfg)

	err := r.ShowReadable(42, Options{}, func(Event) {})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestReactorHideEmptyingInterestAutoDetaches(t *testing.T) {
	r, back := newTestReactor(t, DefaultConfig())
	require.NoError(t, r.Attach(3, nil))
	require.NoError(t, r.ShowReadable(3, Options{}, func(Event) {}))

	require.NoError(t, r.HideReadable(3))
	require.Equal(t, 1, back.removeCalls)
	require.Nil(t, r.reg.lookup(3))
}

func TestReactorDispatchOrder(t *testing.T) {
	r, _ := newTestReactor(t, DefaultConfig())
	require.NoError(t, r.Attach(5, nil))

	var order []string
	require.NoError(t, r.ShowError(5, Options{}, func(Event) { order = append(order, "error") }))
	require.NoError(t, r.ShowWritable(5, Options{}, func(Event) { order = append(order, "writable") }))
	require.NoError(t, r.ShowReadable(5, Options{}, func(Event) { order = append(order, "readable") }))
	require.NoError(t, r.ShowNotifications(5, Options{}, func(Event) { order = append(order, "notifications") }))

	w := r.RegisterWaiter()
	r.dispatchEvent(w, rawEvent{
		handle:        5,
		readable:      true,
		writable:      true,
		errored:       true,
		notifications: true,
	})

	require.Equal(t, []string{"error", "writable", "readable", "notifications"}, order)
}

func TestReactorDispatchOneShotClearsInterest(t *testing.T) {
	r, back := newTestReactor(t, DefaultConfig())
	require.NoError(t, r.Attach(6, nil))
	require.NoError(t, r.ShowReadable(6, Options{OneShot: true}, func(Event) {}))

	w := r.RegisterWaiter()
	r.dispatchEvent(w, rawEvent{handle: 6, readable: true})

	require.Equal(t, 1, back.removeCalls, "auto-detach removes the entry from the OS set")
	require.Nil(t, r.reg.lookup(6))
}

func TestReactorPerWaiterAndPerSocketMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricCollectionPerWaiter = true
	cfg.MetricCollectionPerSocket = true
	r, _ := newTestReactor(t, cfg)
	require.NoError(t, r.Attach(8, nil))
	require.NoError(t, r.ShowReadable(8, Options{}, func(Event) {}))

	w := r.RegisterWaiter()
	r.dispatchEvent(w, rawEvent{handle: 8, readable: true})

	waiterSnap := r.metrics.PerWaiterSnapshot()
	require.Equal(t, uint64(1), waiterSnap[w.id]["events_dispatched"])

	socketSnap := r.metrics.PerSocketSnapshot()
	require.Equal(t, uint64(1), socketSnap[8]["readable"])
}

func TestReactorDrainNotificationsSuppressesError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DrainNotifications = func(Handle) bool { return false }
	r, _ := newTestReactor(t, cfg)
	require.NoError(t, r.Attach(9, nil))

	var errorFired bool
	require.NoError(t, r.ShowError(9, Options{}, func(Event) { errorFired = true }))

	w := r.RegisterWaiter()
	r.dispatchEvent(w, rawEvent{handle: 9, errored: true})

	require.False(t, errorFired, "a non-fatal drain must suppress the ERROR dispatch")
}

func TestConfigNormalizedForcesOneShotWithMultipleThreads(t *testing.T) {
	cfg := Config{MaxThreads: 4}.normalized()
	require.True(t, cfg.OneShot)
	require.Equal(t, 4, cfg.MaxThreads)
	require.Equal(t, 1, cfg.MinThreads)
}
