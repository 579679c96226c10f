package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AltairaLabs/notebook-exec/internal/channel"
)

func TestAggregator_Observe(t *testing.T) {
	a := NewAggregator(channel.StatusDisconnected)

	a.Observe(LifecycleEvent{Kind: RequestCreated})
	a.Observe(LifecycleEvent{Kind: RequestCreated})
	a.Observe(LifecycleEvent{Kind: RequestResolved})
	a.Observe(LifecycleEvent{Kind: ConnectivityChanged, Status: channel.StatusConnected})
	assert.Equal(t, SessionState{ConnectionStatus: channel.StatusConnected, PendingCount: 1}, a.Snapshot())

	a.Observe(LifecycleEvent{Kind: RequestResolved})
	a.Observe(LifecycleEvent{Kind: RequestResolved})
	assert.Equal(t, 0, a.Snapshot().PendingCount, "pending count never goes negative")

	a.Observe(LifecycleEvent{Kind: RequestCreated})
	a.Observe(LifecycleEvent{Kind: SessionReset})
	assert.Equal(t, 0, a.Snapshot().PendingCount)
}

func TestAggregator_SlowSubscriberSeesLatest(t *testing.T) {
	a := NewAggregator(channel.StatusDisconnected)
	states, cancel := a.Subscribe(1)
	defer cancel()

	for i := 0; i < 10; i++ {
		a.Observe(LifecycleEvent{Kind: RequestCreated})
	}

	latest := <-states
	assert.Equal(t, 10, latest.PendingCount)
	assert.Len(t, states, 0)
}

func TestAggregator_NoPublishWithoutChange(t *testing.T) {
	a := NewAggregator(channel.StatusConnected)
	states, cancel := a.Subscribe(4)
	defer cancel()
	<-states

	a.Observe(LifecycleEvent{Kind: ConnectivityChanged, Status: channel.StatusConnected})
	a.Observe(LifecycleEvent{Kind: RequestResolved})

	assert.Len(t, states, 0)
}

func TestAggregator_CancelAndClose(t *testing.T) {
	a := NewAggregator(channel.StatusDisconnected)
	first, cancelFirst := a.Subscribe(2)
	second, _ := a.Subscribe(2)

	cancelFirst()
	cancelFirst()
	<-first
	_, open := <-first
	assert.False(t, open)

	a.Close()
	<-second
	_, open = <-second
	assert.False(t, open)

	late, _ := a.Subscribe(1)
	assert.Equal(t, channel.StatusDisconnected, (<-late).ConnectionStatus)
	_, open = <-late
	assert.False(t, open)
}
