package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStopKeepsStopChannelClosed(t *testing.T) {
	m := &Manager{
		queue:   &Queue{},
		stopCh:  make(chan struct{}),
		running: true,
	}

	m.Stop()

	// Workers select on m.stopCh in a loop; the field must stay a closed
	// channel after Stop so a late re-read never blocks on nil.
	require.NotNil(t, m.stopCh)
	select {
	case <-m.stopCh:
	default:
		t.Fatal("stop channel is not closed after Stop")
	}
	assert.False(t, m.IsRunning())

	// Stop is idempotent once stopped.
	m.Stop()
}
