package setting

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
)

type gateFixture struct {
	store    *SessionStore
	hub      *EventHub
	registry *TaskRegistry
	gate     *CompletionGate
}

func newGateFixture(staleAfter, bufferDelay time.Duration) *gateFixture {
	store := NewSessionStore(time.Hour, time.Minute)
	hub := NewEventHub(time.Hour)
	registry := NewTaskRegistry()
	return &gateFixture{
		store:    store,
		hub:      hub,
		registry: registry,
		gate:     NewCompletionGate(store, registry, hub, staleAfter, bufferDelay),
	}
}

// endedSession GENERATING 且文本阶段已在 endedAgo 前结束
func (f *gateFixture) endedSession(t *testing.T, endedAgo time.Duration) *entity.GenerationSession {
	t.Helper()
	sess := newSession(t, f.store, entity.SessionStatusGenerating)
	at := time.Now().Add(-endedAgo)
	out, err := f.store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Metadata.TextStreamEnded = true
		s.Metadata.TextStreamEndedAt = &at
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestTryFinalizeRequiresTextStreamEnded(t *testing.T) {
	f := newGateFixture(time.Minute, 0)
	sess := newSession(t, f.store, entity.SessionStatusGenerating)

	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID))
	got, _ := f.store.Get(sess.ID)
	assert.Equal(t, entity.SessionStatusGenerating, got.Status)
}

func TestTryFinalizeWaitsForBufferDelay(t *testing.T) {
	f := newGateFixture(time.Minute, time.Hour)
	sess := f.endedSession(t, time.Second)

	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID))
}

func TestTryFinalizeDefersWhileTasksInFlight(t *testing.T) {
	f := newGateFixture(time.Minute, 0)
	sess := f.endedSession(t, time.Second)

	taskID := f.registry.Register(sess.ID)
	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID))

	f.registry.Done(sess.ID, taskID)
	assert.True(t, f.gate.TryFinalize(context.Background(), sess.ID))
	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID), "completion happens once")

	got, _ := f.store.Get(sess.ID)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	assert.True(t, got.Metadata.StreamFinalized)
	require.NotNil(t, got.CompletedAt)

	done := completedEvents(f.hub.History(ChannelGeneration, sess.ID))
	require.Len(t, done, 1)
	assert.Equal(t, entity.OutcomeEmpty, done[0].Outcome)
}

func TestTryFinalizeClearsStaleTasks(t *testing.T) {
	f := newGateFixture(3*time.Minute, 0)
	sess := f.endedSession(t, time.Second)

	start := time.Now()
	f.registry.now = func() time.Time { return start }
	f.registry.Register(sess.ID)
	f.registry.Register(sess.ID)

	f.registry.now = func() time.Time { return start.Add(time.Minute) }
	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID))

	f.registry.now = func() time.Time { return start.Add(4 * time.Minute) }
	assert.True(t, f.gate.TryFinalize(context.Background(), sess.ID))
	assert.Equal(t, 0, f.registry.Pending(sess.ID))
}

func TestTryFinalizeConcurrentCallersFinalizeOnce(t *testing.T) {
	f := newGateFixture(time.Minute, 0)
	sess := f.endedSession(t, time.Second)
	addNode(t, f.store, sess.ID, "", "北境", entity.SettingTypeLocation)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.gate.TryFinalize(context.Background(), sess.ID) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	done := completedEvents(f.hub.History(ChannelGeneration, sess.ID))
	require.Len(t, done, 1)
	assert.Equal(t, 1, done[0].NodeCount)
	assert.Equal(t, entity.OutcomeCompleted, done[0].Outcome)
}

func TestTryFinalizeSkipsCancelledSession(t *testing.T) {
	f := newGateFixture(time.Minute, 0)
	sess := f.endedSession(t, time.Second)
	_, err := f.store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Status = entity.SessionStatusCancelled
		return nil
	})
	require.NoError(t, err)

	assert.False(t, f.gate.TryFinalize(context.Background(), sess.ID))
	assert.Empty(t, completedEvents(f.hub.History(ChannelGeneration, sess.ID)))
}

func TestTryFinalizeHandsOffToPersister(t *testing.T) {
	f := newGateFixture(time.Minute, 0)
	repo := newMemHistoryRepo()
	events := &recordingPublisher{}
	f.gate.SetPersister(NewTreePersister(f.store, repo, events))
	f.gate.SetEventPublisher(events)

	sess := f.endedSession(t, time.Second)
	addNode(t, f.store, sess.ID, "", "北境", entity.SettingTypeLocation)

	require.True(t, f.gate.TryFinalize(context.Background(), sess.ID))
	creates, _ := repo.counts()
	assert.Equal(t, 1, creates)

	got, _ := f.store.Get(sess.ID)
	assert.Equal(t, entity.SessionStatusSaved, got.Status)
	assert.NotEmpty(t, got.Metadata.SavedHistoryID)
	assert.Equal(t, []DomainEventType{DomainEventCompleted, DomainEventSaved}, events.types())
}

type countingFinalizer struct {
	calls int32
}

func (c *countingFinalizer) TryFinalize(context.Context, string) bool {
	atomic.AddInt32(&c.calls, 1)
	return false
}

func TestSupervisorRegistersSynchronously(t *testing.T) {
	registry := NewTaskRegistry()
	fin := &countingFinalizer{}
	release := make(chan struct{})
	var ran int32
	sup := NewExtractionSupervisor(registry, func(ctx context.Context, job ExtractionJob) error {
		<-release
		atomic.AddInt32(&ran, 1)
		return nil
	}, fin, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	sup.Dispatch(ctx, ExtractionJob{SessionID: "s1", Seq: 1})
	sup.Dispatch(ctx, ExtractionJob{SessionID: "s1", Seq: 2})
	assert.Equal(t, 2, registry.Pending("s1"), "tasks are registered before dispatch returns")

	cancel()
	close(release)
	sup.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&ran), "tasks outlive the dispatching context")
	assert.Equal(t, 0, registry.Pending("s1"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&fin.calls))
}

func TestSupervisorRecoversPanics(t *testing.T) {
	registry := NewTaskRegistry()
	fin := &countingFinalizer{}
	sup := NewExtractionSupervisor(registry, func(context.Context, ExtractionJob) error {
		panic("boom")
	}, fin, time.Minute)

	sup.Dispatch(context.Background(), ExtractionJob{SessionID: "s1"})
	sup.Wait()
	assert.Equal(t, 0, registry.Pending("s1"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fin.calls))
}
