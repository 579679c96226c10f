package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, ws := range []string{"a", "b", "c"} {
		require.True(t, q.Enqueue(loopEvent{Type: loopCloseWorksheet, WorksheetID: ws}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.WorksheetID)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_SignalsAvailability(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(loopEvent{Type: loopBarrier})
	q.Enqueue(loopEvent{Type: loopBarrier})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(loopEvent{Type: loopBarrier})
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(loopEvent{Type: loopBarrier}))

	_, ok := q.TryDequeue()
	assert.True(t, ok, "events queued before close remain")

	<-q.Wait() // signal buffered by the enqueue
	_, open := <-q.Wait()
	assert.False(t, open)
}
