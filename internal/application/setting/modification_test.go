package setting

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
)

// completedTree 北境 → 艾琳娜，会话已完成
func completedTree(t *testing.T, e *testEngine) (*entity.GenerationSession, string, string) {
	t.Helper()
	sess := newSession(t, e.store, entity.SessionStatusCompleted)
	north := addNode(t, e.store, sess.ID, "", "北境", entity.SettingTypeLocation)
	elena := addNode(t, e.store, sess.ID, north, "艾琳娜", entity.SettingTypeCharacter)
	return sess, north, elena
}

func TestModifyNodeScopeSelf(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, ProducerConfig{})
	sess, north, _ := completedTree(t, e)

	var seen []*schema.Message
	cm.generateFn = func(_ int, in []*schema.Message) (*schema.Message, error) {
		seen = in
		return toolCallMessage(t, []map[string]any{
			{"nodeId": north, "name": "北境", "type": "LOCATION", "description": "永冬笼罩的王国"},
			{"tempId": "N1", "parentId": north, "name": "霜城", "type": "LOCATION", "description": "新的城市"},
		}, false), nil
	}

	err := e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{
		SessionID:   sess.ID,
		NodeID:      north,
		Instruction: "让北境更寒冷",
	})
	require.NoError(t, err)
	e.modifier.Wait()

	require.Len(t, seen, 2)
	assert.Contains(t, seen[0].Content, "只能修改节点 "+north)
	assert.Contains(t, seen[1].Content, "目标节点 nodeId="+north)
	assert.Contains(t, seen[1].Content, "艾琳娜")

	got, _ := e.store.Get(sess.ID)
	assert.Len(t, got.Nodes, 2, "new nodes are rejected under scope self")
	assert.Equal(t, "永冬笼罩的王国", got.Nodes[north].Description)
	assert.Equal(t, entity.NodeStatusModified, got.Nodes[north].GenerationStatus)
	assert.Equal(t, entity.ScopeSelf, got.Metadata.Scope)
	assert.False(t, got.Metadata.TreeDirty, "an unsaved tree is not marked dirty")

	evs := e.hub.History(ChannelModification, sess.ID)
	var updated int
	for _, ev := range evs {
		if ev.Type == entity.EventNodeUpdated {
			updated++
		}
	}
	assert.Equal(t, 1, updated)

	errs := errorEvents(evs)
	require.Len(t, errs, 1)
	assert.Equal(t, entity.EventErrScopeViolation, errs[0].Code)
	assert.True(t, errs[0].Recoverable)

	done := completedEvents(evs)
	require.Len(t, done, 1)
	assert.Equal(t, entity.OutcomeModified, done[0].Outcome)
	assert.Equal(t, 2, done[0].NodeCount)

	assert.Empty(t, errorEvents(e.hub.History(ChannelGeneration, sess.ID)), "modification events stay off the generation stream")
}

func TestModifyNodeChildrenOnlyAddsChild(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, ProducerConfig{})
	sess, north, _ := completedTree(t, e)
	cm.generateFn = func(int, []*schema.Message) (*schema.Message, error) {
		return toolCallMessage(t, []map[string]any{
			{"tempId": "N1", "parentId": north, "name": "霜城", "type": "LOCATION", "description": "新的城市"},
			{"nodeId": north, "description": "不应生效"},
		}, false), nil
	}

	require.NoError(t, e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{
		SessionID:   sess.ID,
		NodeID:      north,
		Instruction: "补充一座城市",
		Scope:       entity.ScopeChildrenOnly,
	}))
	e.modifier.Wait()

	got, _ := e.store.Get(sess.ID)
	city := findNode(got, "霜城")
	require.NotNil(t, city)
	assert.Equal(t, north, city.ParentKey())
	assert.Equal(t, "北境的描述", got.Nodes[north].Description)

	errs := errorEvents(e.hub.History(ChannelModification, sess.ID))
	require.Len(t, errs, 1)
	assert.Equal(t, entity.EventErrScopeViolation, errs[0].Code)
	assert.Equal(t, north, errs[0].NodeID)
}

func TestModifyNodePreconditions(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, ProducerConfig{})

	generating := newSession(t, e.store, entity.SessionStatusGenerating)
	err := e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: generating.ID, NodeID: "x", Instruction: "改"})
	assert.ErrorIs(t, err, ErrSessionNotReady)

	sess, north, _ := completedTree(t, e)
	err = e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: "missing", Instruction: "改"})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	err = e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "改", Scope: "everything"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	e.router.err = &ModelConfigError{Reason: "model config disabled"}
	err = e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "改"})
	assert.True(t, isModelConfigError(err))

	e.router.err = nil
	cm.generateFn = func(int, []*schema.Message) (*schema.Message, error) {
		return toolCallMessage(t, []map[string]any{{"nodeId": north, "description": "新描述"}}, false), nil
	}
	require.NoError(t, e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "改"}),
		"a failed route resolution releases the session lock")
	e.modifier.Wait()
}

func TestModifierRejectsConcurrentOperations(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, ProducerConfig{})
	sess, north, _ := completedTree(t, e)

	started := make(chan struct{})
	release := make(chan struct{})
	cm.generateFn = func(int, []*schema.Message) (*schema.Message, error) {
		close(started)
		<-release
		return schema.AssistantMessage("", nil), nil
	}

	require.NoError(t, e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "改"}))
	<-started

	err := e.modifier.ModifyNode(context.Background(), ModifyNodeRequest{SessionID: sess.ID, NodeID: north, Instruction: "再改"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	err = e.modifier.AdjustSession(context.Background(), AdjustSessionRequest{SessionID: sess.ID, Instruction: "整体调整"})
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(release)
	e.modifier.Wait()

	done := completedEvents(e.hub.History(ChannelModification, sess.ID))
	require.Len(t, done, 1)
	assert.Equal(t, entity.OutcomeEmpty, done[0].Outcome)
}

func TestAdjustSessionResolvesAliases(t *testing.T) {
	cm := &fakeChatModel{}
	e := newTestEngine(t, cm, ProducerConfig{})
	sess, north, elena := completedTree(t, e)
	_, err := e.store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Status = entity.SessionStatusSaved
		s.Metadata.SavedHistoryID = "history-1"
		return nil
	})
	require.NoError(t, err)

	var seen []*schema.Message
	cm.generateFn = func(_ int, in []*schema.Message) (*schema.Message, error) {
		seen = in
		return toolCallMessage(t, []map[string]any{
			{"nodeId": "A2", "description": "北境的女王"},
			{"tempId": "X1", "parentId": "A1", "name": "王庭", "type": "LOCATION", "description": "冰晶宫殿"},
		}, false), nil
	}

	require.NoError(t, e.modifier.AdjustSession(context.Background(), AdjustSessionRequest{
		SessionID:   sess.ID,
		Instruction: "让艾琳娜成为女王",
	}))
	e.modifier.Wait()

	require.Len(t, seen, 2)
	assert.Contains(t, seen[1].Content, "A1 | 北境 | LOCATION")
	assert.Contains(t, seen[1].Content, "A2 | 北境/艾琳娜 | CHARACTER")
	assert.NotContains(t, seen[1].Content, north, "internal ids are not exposed")

	got, _ := e.store.Get(sess.ID)
	assert.Equal(t, "北境的女王", got.Nodes[elena].Description)
	assert.Equal(t, "艾琳娜", got.Nodes[elena].Name)
	palace := findNode(got, "王庭")
	require.NotNil(t, palace)
	assert.Equal(t, north, palace.ParentKey())
	assert.True(t, got.Metadata.TreeDirty, "changes after saving mark the tree dirty")
	assert.NotContains(t, got.Metadata.TempIDMap, "A1", "adjust aliases are batch-local")

	done := completedEvents(e.hub.History(ChannelModification, sess.ID))
	require.Len(t, done, 1)
	assert.Equal(t, entity.OutcomeModified, done[0].Outcome)
}

func TestTreeBlockEmpty(t *testing.T) {
	e := newTestEngine(t, &fakeChatModel{}, ProducerConfig{})
	sess := newSession(t, e.store, entity.SessionStatusCompleted)
	block, aliases := treeBlock(sess)
	assert.Equal(t, "（空）", block)
	assert.Empty(t, aliases)
}
