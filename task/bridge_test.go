package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bloomberg/ntc-reactor/chronology"
)

// TestSynchronizeAcrossChronologyThread exercises spec.md §8 scenario 6:
// a task awaits a timer that fires on a goroutine distinct from the
// one calling Synchronize. The chronology's own Announce loop runs on a
// background goroutine (standing in for a separate reactor waiter
// thread); Synchronize must still unblock exactly once the timer fires.
func TestSynchronizeAcrossChronologyThread(t *testing.T) {
	var now time.Time
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	c := chronology.New(chronology.Config{Clock: clock})

	tk := Spawn(context.Background(), func(ctx context.Context) (string, error) {
		fired := make(chan struct{})
		timer := c.CreateTimer(chronology.Options{OneShot: true, Events: chronology.MaskDeadline}, func(chronology.EventKind) {
			close(fired)
		})
		if err := timer.Schedule(clock(), 0); err != nil {
			return "", err
		}
		select {
		case <-fired:
			return "fired", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				advance(time.Millisecond)
				c.Announce(false)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	res := Synchronize(context.Background(), tk)
	require.True(t, res.Success())
	require.Equal(t, "fired", res.Value())
}
