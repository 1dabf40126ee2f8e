//go:build linux

package reactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenBackendThreadsMaxEventsPerWait(t *testing.T) {
	back, err := openBackend(7)
	require.NoError(t, err)
	defer back.close()

	eb, ok := back.(*epollBackend)
	require.True(t, ok)
	require.Equal(t, 7, eb.maxEvents)
}

func TestOpenBackendDefaultsMaxEventsPerWait(t *testing.T) {
	back, err := openBackend(0)
	require.NoError(t, err)
	defer back.close()

	eb, ok := back.(*epollBackend)
	require.True(t, ok)
	require.Equal(t, maxEventsPerWaitDefault, eb.maxEvents)
}
