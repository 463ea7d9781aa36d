package setting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
)

func TestParseChannel(t *testing.T) {
	ch, ok := ParseChannel("")
	assert.True(t, ok)
	assert.Equal(t, ChannelGeneration, ch)

	ch, ok = ParseChannel("modification")
	assert.True(t, ok)
	assert.Equal(t, ChannelModification, ch)

	_, ok = ParseChannel("audit")
	assert.False(t, ok)
}

func TestSubscribeReplaysHistoryThenFollows(t *testing.T) {
	hub := NewEventHub(time.Hour)
	hub.Publish(ChannelGeneration, "s1", entity.SessionStarted{Mode: entity.GenerationModeHybrid, TotalRounds: 3})
	hub.Publish(ChannelGeneration, "s1", entity.GenerationProgress{Progress: 10, CurrentStep: "text_round_1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, ChannelGeneration, "s1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(ChannelGeneration, "s1", entity.GenerationCompleted{NodeCount: 0, Outcome: entity.OutcomeEmpty})
		hub.Publish(ChannelGeneration, "s1", entity.GenerationProgress{Progress: 100})
	}()

	evs := drain(t, ch, 2*time.Second)
	require.Len(t, evs, 4)
	assert.Equal(t, entity.EventStreamReady, evs[0].Type)
	assert.Equal(t, entity.EventSessionStarted, evs[1].Type)
	assert.Equal(t, entity.EventGenerationProgress, evs[2].Type)
	assert.Equal(t, entity.EventGenerationCompleted, evs[3].Type, "stream ends at the terminal event")
	for _, ev := range evs {
		assert.Equal(t, "s1", ev.SessionID)
	}
}

func TestSubscribeAfterCloseDeliversHistoryOnly(t *testing.T) {
	hub := NewEventHub(time.Hour)
	hub.Publish(ChannelModification, "s1", entity.GenerationProgress{CurrentStep: "modifying"})
	hub.Close(ChannelModification, "s1")
	hub.Publish(ChannelModification, "s1", entity.GenerationProgress{CurrentStep: "dropped"})

	evs := drain(t, hub.Subscribe(context.Background(), ChannelModification, "s1"), time.Second)
	require.Len(t, evs, 2)
	assert.Equal(t, entity.EventStreamReady, evs[0].Type)
	assert.Len(t, hub.History(ChannelModification, "s1"), 1)
}

func TestReopenReplacesClosedStream(t *testing.T) {
	hub := NewEventHub(time.Hour)
	hub.Publish(ChannelModification, "s1", entity.GenerationCompleted{Outcome: entity.OutcomeModified})
	hub.Close(ChannelModification, "s1")

	hub.Reopen(ChannelModification, "s1")
	assert.Empty(t, hub.History(ChannelModification, "s1"))

	open := hub.Reopen(ChannelModification, "s1")
	hub.Publish(ChannelModification, "s1", entity.GenerationProgress{})
	assert.Same(t, open, hub.Reopen(ChannelModification, "s1"), "an open stream is kept")
	assert.Len(t, hub.History(ChannelModification, "s1"), 1)
}

func TestSubscribeSendsHeartbeatWhenIdle(t *testing.T) {
	hub := NewEventHub(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, ChannelGeneration, "s1")

	first := <-ch
	assert.Equal(t, entity.EventStreamReady, first.Type)

	select {
	case ev := <-ch:
		assert.Equal(t, entity.EventHeartbeat, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
	assert.Empty(t, hub.History(ChannelGeneration, "s1"), "heartbeats are not recorded")
}

func TestRemoveClosesSubscribers(t *testing.T) {
	hub := NewEventHub(time.Hour)
	ch := hub.Subscribe(context.Background(), ChannelGeneration, "s1")
	<-ch

	hub.Remove("s1")
	evs := drain(t, ch, time.Second)
	assert.Empty(t, evs)
	assert.Nil(t, hub.History(ChannelGeneration, "s1"))
}
