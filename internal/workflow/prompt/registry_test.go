package prompt

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFormatsExtractTemplate(t *testing.T) {
	r := NewRegistry()
	tpl, err := r.ChatTemplate(PromptSettingExtractV1)
	require.NoError(t, err)

	msgs, err := tpl.Format(context.Background(), map[string]any{
		"type_list":    "CHARACTER, LOCATION",
		"tempid_index": "R1 | 北境 | LOCATION",
		"round_hint":   "",
		"text":         "北境王庭坐落于冰原之上。",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "CHARACTER, LOCATION")
	assert.Contains(t, msgs[1].Content, "R1 | 北境 | LOCATION")
	assert.Contains(t, msgs[1].Content, "北境王庭坐落于冰原之上。")
}

func TestRegistryCachesAndRejectsUnknown(t *testing.T) {
	r := NewRegistry()
	a, err := r.ChatTemplate(PromptSettingTextV1)
	require.NoError(t, err)
	b, err := r.ChatTemplate(PromptSettingTextV1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.ChatTemplate(PromptID("nope"))
	assert.Error(t, err)
	assert.True(t, r.Has(PromptSettingAdjustV1))
	assert.False(t, r.Has(PromptID("nope")))
}

func TestRegistryResolveKeepsPhase(t *testing.T) {
	r := NewRegistry()

	id, ok := r.Resolve(" setting_text_brief_v1 ", PromptSettingTextV1)
	assert.True(t, ok)
	assert.Equal(t, PromptSettingTextBriefV1, id)

	// 不同阶段的模板占位变量不同，不能替换
	id, ok = r.Resolve(string(PromptSettingExtractV1), PromptSettingTextV1)
	assert.False(t, ok)
	assert.Equal(t, PromptSettingTextV1, id)

	id, ok = r.Resolve("", PromptSettingAdjustV1)
	assert.False(t, ok)
	assert.Equal(t, PromptSettingAdjustV1, id)

	_, err := r.ChatTemplate(PromptSettingTextBriefV1)
	assert.NoError(t, err)
}
