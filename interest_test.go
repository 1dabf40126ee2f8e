package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterestShowIdempotent(t *testing.T) {
	var in Interest
	opts := Options{Trigger: TriggerEdge, OneShot: true}

	first := in.ShowReadable(opts)
	second := first.ShowReadable(opts)

	require.True(t, first.Equal(second))
	require.True(t, second.WantReadable())
	require.Equal(t, TriggerEdge, second.Trigger())
	require.True(t, second.OneShot())
}

func TestInterestShowChangesOnDifferentOptions(t *testing.T) {
	var in Interest
	a := in.ShowReadable(Options{Trigger: TriggerLevel})
	b := a.ShowReadable(Options{Trigger: TriggerEdge})

	require.False(t, a.Equal(b))
}

func TestInterestHideLeavesTriggerUnchanged(t *testing.T) {
	var in Interest
	shown := in.ShowReadable(Options{Trigger: TriggerEdge, OneShot: true})
	hidden := shown.HideReadable()

	require.False(t, hidden.WantReadable())
	require.Equal(t, TriggerEdge, hidden.Trigger())
	require.True(t, hidden.OneShot())
	require.True(t, hidden.IsEmpty())
}

func TestInterestIndependentBits(t *testing.T) {
	var in Interest
	in = in.ShowReadable(Options{})
	in = in.ShowWritable(Options{})
	require.True(t, in.WantReadableOrWritable())

	in = in.HideReadable()
	require.False(t, in.WantReadable())
	require.True(t, in.WantWritable())
	require.True(t, in.WantReadableOrWritable())
}

func TestInterestZeroValueIsEmptyLevel(t *testing.T) {
	var in Interest
	require.True(t, in.IsEmpty())
	require.Equal(t, TriggerLevel, in.Trigger())
	require.False(t, in.OneShot())
}
