package setting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-setting-api/internal/domain/entity"
)

func newTestAdmitter() (*SessionStore, *EventHub, *Admitter) {
	store := NewSessionStore(time.Hour, time.Minute)
	hub := NewEventHub(time.Hour)
	return store, hub, NewAdmitter(store, NewValidator(0, 0), hub)
}

func TestAdmitResolvesForwardTempIDReference(t *testing.T) {
	store, hub, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusGenerating)

	batch := []CandidateNodeInstruction{
		{TempID: "R1-1", ParentID: "R1", Name: "艾琳娜", Type: "character", Description: "北境的公主"},
		{TempID: "R1", Name: "北境", Type: "LOCATION", Description: "冰原上的王国"},
	}
	res, err := a.Admit(context.Background(), sess.ID, batch, AdmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Admitted, 2)
	assert.Empty(t, res.Rejected)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	north := findNode(got, "北境")
	elena := findNode(got, "艾琳娜")
	require.NotNil(t, north)
	require.NotNil(t, elena)
	assert.Equal(t, north.ID, elena.ParentKey())
	assert.Equal(t, entity.SettingTypeCharacter, elena.Type)
	assert.Equal(t, []string{north.ID}, got.RootNodeIDs)
	assert.Equal(t, north.ID, got.Metadata.TempIDMap["R1"])
	assert.Equal(t, elena.ID, got.Metadata.TempIDMap["R1-1"])

	var created []entity.NodeCreated
	for _, ev := range hub.History(ChannelGeneration, sess.ID) {
		if p, ok := ev.Payload.(entity.NodeCreated); ok {
			created = append(created, p)
		}
	}
	require.Len(t, created, 2)
	assert.Equal(t, "R1", created[0].TempID, "parent is emitted before the child that referenced it")
}

func TestAdmitRedeliveryIsIdempotent(t *testing.T) {
	store, _, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusGenerating)
	batch := []CandidateNodeInstruction{
		{TempID: "R1", Name: "北境", Type: "LOCATION", Description: "冰原"},
		{TempID: "R1-1", ParentID: "R1", Name: "艾琳娜", Type: "CHARACTER", Description: "公主"},
	}

	_, err := a.Admit(context.Background(), sess.ID, batch, AdmitOptions{})
	require.NoError(t, err)
	res, err := a.Admit(context.Background(), sess.ID, batch, AdmitOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Admitted)
	assert.Equal(t, 2, res.Redelivered)

	got, _ := store.Get(sess.ID)
	assert.Len(t, got.Nodes, 2)
}

func TestAdmitTempIDIsNeverRebound(t *testing.T) {
	store, _, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusGenerating)

	_, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "R1", Name: "北境", Type: "LOCATION", Description: "冰原"},
	}, AdmitOptions{})
	require.NoError(t, err)
	first, _ := store.Get(sess.ID)
	bound := first.Metadata.TempIDMap["R1"]

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "R1", Name: "南境", Type: "LOCATION", Description: "沙海"},
		{TempID: "R1-2", ParentID: "R1", Name: "王庭", Type: "LOCATION", Description: "宫殿"},
	}, AdmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redelivered)

	got, _ := store.Get(sess.ID)
	assert.Equal(t, bound, got.Metadata.TempIDMap["R1"])
	assert.Nil(t, findNode(got, "南境"))
	assert.Equal(t, bound, findNode(got, "王庭").ParentKey())
}

func TestAdmitDuplicateBindsTempIDToExistingNode(t *testing.T) {
	store, hub, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusGenerating)
	elenaID := addNode(t, store, sess.ID, "", "Elena", entity.SettingTypeCharacter)

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "R2", Name: "elena", Type: "CHARACTER", Description: "重复描述"},
		{TempID: "R2-1", ParentID: "R2", Name: "佩剑", Type: "ITEM", Description: "寒铁"},
	}, AdmitOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, ValidationDuplicateNode, validationCode(t, res.Rejected[0].Err))
	require.Len(t, res.Admitted, 1)
	assert.Equal(t, elenaID, res.Admitted[0].Node.ParentKey())

	errs := errorEvents(hub.History(ChannelGeneration, sess.ID))
	require.Len(t, errs, 1)
	assert.Equal(t, entity.EventErrValidation, errs[0].Code)
	assert.True(t, errs[0].Recoverable)
}

func TestAdmitRejectsUnresolvableParent(t *testing.T) {
	store, _, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusGenerating)

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "A", ParentID: "B", Name: "甲", Type: "OTHER", Description: "d"},
		{TempID: "B", ParentID: "A", Name: "乙", Type: "OTHER", Description: "d"},
		{ParentID: "R9", Name: "丙", Type: "OTHER", Description: "d"},
	}, AdmitOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Admitted)
	require.Len(t, res.Rejected, 3)
	for _, rj := range res.Rejected {
		assert.Equal(t, ValidationUnresolvedParent, validationCode(t, rj.Err))
	}
}

func TestAdmitDiscardsOutsideAcceptingStatus(t *testing.T) {
	store, hub, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusCancelled)

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "R1", Name: "北境", Type: "LOCATION", Description: "冰原"},
	}, AdmitOptions{})
	require.NoError(t, err)
	assert.True(t, res.Discarded)

	got, _ := store.Get(sess.ID)
	assert.Empty(t, got.Nodes)
	assert.Empty(t, hub.History(ChannelGeneration, sess.ID))
}

func TestAdmitModificationUpdatesInPlaceAndMarksDirty(t *testing.T) {
	store, hub, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusSaved)
	northID := addNode(t, store, sess.ID, "", "北境", entity.SettingTypeLocation)
	_, err := store.Update(sess.ID, func(s *entity.GenerationSession) error {
		s.Metadata.SavedHistoryID = "h1"
		return nil
	})
	require.NoError(t, err)

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{NodeID: northID, Description: "冰原与雪山"},
	}, AdmitOptions{Mode: AdmitModification, Channel: ChannelModification, AllowUpdates: true})
	require.NoError(t, err)
	require.Len(t, res.Admitted, 1)
	assert.True(t, res.Admitted[0].Updated)

	got, _ := store.Get(sess.ID)
	n := got.Nodes[northID]
	assert.Equal(t, "北境", n.Name, "omitted fields keep their value")
	assert.Equal(t, "冰原与雪山", n.Description)
	assert.Equal(t, entity.NodeStatusModified, n.GenerationStatus)
	assert.True(t, got.Metadata.TreeDirty)

	evs := hub.History(ChannelModification, sess.ID)
	require.Len(t, evs, 1)
	assert.Equal(t, entity.EventNodeUpdated, evs[0].Type)
	assert.Empty(t, hub.History(ChannelGeneration, sess.ID))
}

func TestAdmitRejectsTempIDTakenByAlias(t *testing.T) {
	store, hub, a := newTestAdmitter()
	sess := newSession(t, store, entity.SessionStatusSaved)
	northID := addNode(t, store, sess.ID, "", "北境", entity.SettingTypeLocation)

	res, err := a.Admit(context.Background(), sess.ID, []CandidateNodeInstruction{
		{TempID: "A1", Name: "南境", Type: "LOCATION", Description: "温暖的海岸"},
		{TempID: "X1", ParentID: "A1", Name: "王庭", Type: "LOCATION", Description: "冰晶宫殿"},
	}, AdmitOptions{
		Mode:         AdmitModification,
		Channel:      ChannelModification,
		Aliases:      map[string]string{"A1": northID},
		AllowUpdates: true,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Redelivered)
	require.Len(t, res.Rejected, 1)
	var ve *ValidationError
	require.ErrorAs(t, res.Rejected[0].Err, &ve)
	assert.Equal(t, ValidationReservedTempID, ve.Code)
	assert.Equal(t, "南境", ve.Name)

	require.Len(t, res.Admitted, 1)
	assert.Equal(t, northID, res.Admitted[0].Node.ParentKey(), "the alias still resolves to the existing node")

	got, _ := store.Get(sess.ID)
	assert.Nil(t, findNode(got, "南境"))
	assert.Len(t, got.Nodes, 2)

	errs := errorEvents(hub.History(ChannelModification, sess.ID))
	require.Len(t, errs, 1)
	assert.Equal(t, entity.EventErrValidation, errs[0].Code)
	assert.True(t, errs[0].Recoverable)
	assert.Contains(t, errs[0].Message, string(ValidationReservedTempID))
}
