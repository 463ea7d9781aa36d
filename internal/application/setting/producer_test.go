package setting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
)

const testEndMarker = "<<END>>"

func hybridConfig(rounds int) ProducerConfig {
	return ProducerConfig{
		Rounds:        rounds,
		MinDeltaRunes: 10000,
		MaxFlushWait:  time.Hour,
		RoundTimeout:  5 * time.Second,
		StaleAfter:    time.Minute,
		EndMarker:     testEndMarker,
	}
}

// extractHeadings 抽取模型：不调用工具，交由兜底解析处理增量文本
func extractHeadings(int, []*schema.Message) (*schema.Message, error) {
	return schema.AssistantMessage("", nil), nil
}

func startHybrid(t *testing.T, e *testEngine) string {
	t.Helper()
	sess := e.store.Create("user-1", "", "冰原上的王国", "", "")
	_, err := e.store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Metadata.Mode = entity.GenerationModeHybrid
		return nil
	})
	require.NoError(t, err)
	return sess.ID
}

func TestRunHybridStopsAtEndMarker(t *testing.T) {
	cm := &fakeChatModel{generateFn: extractHeadings}
	cm.streamFn = func(_ context.Context, _ int, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return streamOf("## [LOCATION] 北境\n冰原上的", "王国。\n### [CHARACTER] 艾琳娜\n北境的公主。\n", testEndMarker, "\n## [FACTION] 被忽略"), nil
	}
	e := newTestEngine(t, cm, hybridConfig(3))
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	got, err := e.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	assert.True(t, got.Metadata.TextStreamEnded)
	assert.Equal(t, 1, got.Metadata.CurrentRound)
	assert.NotContains(t, got.Metadata.AccumulatedText, testEndMarker)

	north := findNode(got, "北境")
	require.NotNil(t, north)
	assert.Equal(t, "冰原上的王国。", north.Description)
	assert.Equal(t, north.ID, findNode(got, "艾琳娜").ParentKey())
	assert.Nil(t, findNode(got, "被忽略"))

	_, streams := cm.calls()
	assert.Equal(t, 1, streams, "end marker stops further rounds")

	evs := e.hub.History(ChannelGeneration, id)
	require.NotEmpty(t, evs)
	assert.Equal(t, entity.EventSessionStarted, evs[0].Type)
	done := completedEvents(evs)
	require.Len(t, done, 1)
	assert.Equal(t, 2, done[0].NodeCount)
}

func TestRunHybridDispatchesDeltasDuringStream(t *testing.T) {
	cm := &fakeChatModel{generateFn: extractHeadings}
	cm.streamFn = func(_ context.Context, call int, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		if call > 1 {
			return streamOf(testEndMarker), nil
		}
		return streamOf(
			"## [LOCATION] 北境\n冰原上的王国。\n",
			"## [FACTION] 雪狼团\n佣兵组织。\n",
			"## [RACE] 霜民\n耐寒的种族。\n",
		), nil
	}
	cfg := hybridConfig(2)
	cfg.MinDeltaRunes = 10
	e := newTestEngine(t, cm, cfg)
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	got, _ := e.store.Get(id)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	for _, name := range []string{"北境", "雪狼团", "霜民"} {
		assert.NotNil(t, findNode(got, name), name)
	}
	gen, _ := cm.calls()
	assert.GreaterOrEqual(t, gen, 3, "each flushed delta becomes its own extraction task")
}

func TestRunHybridContinuesAfterInterruption(t *testing.T) {
	cm := &fakeChatModel{generateFn: extractHeadings}
	cm.streamFn = func(_ context.Context, call int, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		if call == 1 {
			return brokenStream(errors.New("stream interrupted: connection reset by peer"), "## [LOCATION] 北境\n冰原"), nil
		}
		return streamOf("上的王国。\n", testEndMarker), nil
	}
	cfg := hybridConfig(3)
	cfg.Retry = RetryPolicy{MaxRetries: 2, Initial: time.Millisecond, Max: 2 * time.Millisecond}
	e := newTestEngine(t, cm, cfg)
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	_, streams := cm.calls()
	require.Equal(t, 2, streams)
	resumed := cm.streamInput(1)
	require.GreaterOrEqual(t, len(resumed), 2)
	partial := resumed[len(resumed)-2]
	assert.Equal(t, schema.Assistant, partial.Role)
	assert.Equal(t, "## [LOCATION] 北境\n冰原", partial.Content)
	assert.Equal(t, continuePrompt, resumed[len(resumed)-1].Content)

	got, _ := e.store.Get(id)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	require.NotNil(t, findNode(got, "北境"))
	assert.Equal(t, "冰原上的王国。", findNode(got, "北境").Description)
	assert.Equal(t, 1, got.Metadata.CurrentRound)
}

func TestRunHybridSalvagesRoundAfterRetriesExhausted(t *testing.T) {
	cm := &fakeChatModel{}
	cm.generateFn = func(int, []*schema.Message) (*schema.Message, error) {
		return nil, errors.New("status code: 400, invalid request")
	}
	cm.streamFn = func(_ context.Context, call int, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		if call == 1 {
			return brokenStream(errors.New("unexpected EOF"), "## [LOCATION] 北境\n冰原上的王国。\n### [CHARACTER] 艾琳娜\n公主。\n"), nil
		}
		return streamOf(testEndMarker), nil
	}
	e := newTestEngine(t, cm, hybridConfig(2))
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	got, _ := e.store.Get(id)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	assert.Len(t, got.Nodes, 2, "salvage and delta extraction agree on the same nodes")
	assert.Equal(t, 2, got.Metadata.CurrentRound, "an interrupted round does not end the text phase")

	var providerErrs int
	for _, ev := range errorEvents(e.hub.History(ChannelGeneration, id)) {
		if ev.Code == entity.EventErrProvider && strings.Contains(ev.Message, "round 1 ended early") {
			assert.True(t, ev.Recoverable)
			providerErrs++
		}
	}
	assert.Equal(t, 1, providerErrs)
}

func TestRunHybridFailsWithoutAnyOutput(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, hybridConfig(2))
	e.router.err = &ModelConfigError{ConfigID: "cfg-1", Reason: "model config not found"}
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	got, _ := e.store.Get(id)
	assert.Equal(t, entity.SessionStatusError, got.Status)
	assert.Equal(t, "model_config", got.Metadata.EarlyStopReason)
	assert.Contains(t, got.Metadata.ErrorMessage, "no output produced")

	errs := errorEvents(e.hub.History(ChannelGeneration, id))
	require.Len(t, errs, 2)
	assert.Equal(t, entity.EventErrModelConfig, errs[0].Code)
	assert.True(t, errs[0].Recoverable)
	assert.Equal(t, entity.EventErrGenerationFailed, errs[1].Code)
	assert.False(t, errs[1].Recoverable)
	assert.True(t, e.gate.IsFinalized(id))
}

func TestRunHybridKeepsPartialTreeWhenLaterRoundFails(t *testing.T) {
	cm := &fakeChatModel{generateFn: extractHeadings}
	cm.streamFn = func(_ context.Context, call int, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		if call == 1 {
			return streamOf("## [LOCATION] 北境\n冰原上的王国。"), nil
		}
		return nil, errors.New("status code: 401, invalid api key")
	}
	e := newTestEngine(t, cm, hybridConfig(3))
	id := startHybrid(t, e)

	e.producer.RunHybrid(context.Background(), id)
	e.producer.Wait()

	got, _ := e.store.Get(id)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	assert.Len(t, got.Nodes, 1)
	assert.Equal(t, "provider_error", got.Metadata.EarlyStopReason)
	_, streams := cm.calls()
	assert.Equal(t, 2, streams, "a non-retryable provider error ends the text phase")
}

func TestRunDirectAccumulatesAcrossRounds(t *testing.T) {
	cm := &fakeChatModel{}
	cm.generateFn = func(call int, _ []*schema.Message) (*schema.Message, error) {
		nodes := []map[string]any{
			{"tempId": "R1", "name": "北境", "type": "LOCATION", "description": "冰原"},
		}
		if call == 2 {
			nodes = append(nodes, map[string]any{"tempId": "R1-1", "parentId": "R1", "name": "王庭", "type": "LOCATION", "description": "宫殿"})
		}
		return toolCallMessage(t, nodes, call == 2), nil
	}
	e := newTestEngine(t, cm, hybridConfig(2))
	sess := e.store.Create("user-1", "", "冰原上的王国", "", "")

	e.producer.RunDirect(context.Background(), sess.ID)
	e.producer.Wait()

	got, _ := e.store.Get(sess.ID)
	assert.Equal(t, entity.SessionStatusCompleted, got.Status)
	assert.Len(t, got.Nodes, 2, "redelivered tempIds are not duplicated")
	assert.Equal(t, entity.GenerationModeDirect, got.Metadata.Mode)

	done := completedEvents(e.hub.History(ChannelGeneration, sess.ID))
	require.Len(t, done, 1)
	assert.True(t, done[0].ToolDeclaredComplete)
	gen, streams := cm.calls()
	assert.Equal(t, 2, gen)
	assert.Equal(t, 0, streams)
}

func TestRoundProgress(t *testing.T) {
	assert.Equal(t, 0, roundProgress(0, 3))
	assert.Equal(t, 50, roundProgress(2, 3))
	assert.Equal(t, 75, roundProgress(3, 3))
	assert.Equal(t, 0, roundProgress(1, 0))
}
