// Package prompt 管理内嵌的提示词模板
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// PromptID 内置模板标识，对应 templates/<id>.system.txt 与 templates/<id>.user.txt
type PromptID string

const (
	PromptSettingTextV1      PromptID = "setting_text_v1"
	PromptSettingTextBriefV1 PromptID = "setting_text_brief_v1"
	PromptSettingExtractV1   PromptID = "setting_extract_v1"
	PromptSettingDirectV1    PromptID = "setting_direct_v1"
	PromptSettingModifyV1    PromptID = "setting_modify_v1"
	PromptSettingAdjustV1    PromptID = "setting_adjust_v1"
)

// Phase 模板所属阶段；同阶段模板的占位变量一致，可以互相替换
type Phase string

const (
	PhaseText    Phase = "text"
	PhaseExtract Phase = "extract"
	PhaseDirect  Phase = "direct"
	PhaseModify  Phase = "modify"
	PhaseAdjust  Phase = "adjust"
)

var phases = map[PromptID]Phase{
	PromptSettingTextV1:      PhaseText,
	PromptSettingTextBriefV1: PhaseText,
	PromptSettingExtractV1:   PhaseExtract,
	PromptSettingDirectV1:    PhaseDirect,
	PromptSettingModifyV1:    PhaseModify,
	PromptSettingAdjustV1:    PhaseAdjust,
}

// Registry 按需加载并缓存 eino ChatTemplate
type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}
	if _, ok := phases[id]; !ok {
		return nil, fmt.Errorf("unknown prompt id: %s", id)
	}

	r.mu.RLock()
	tpl, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	system, err := readEmbeddedText(fmt.Sprintf("templates/%s.system.txt", id))
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(fmt.Sprintf("templates/%s.user.txt", id))
	if err != nil {
		return nil, err
	}

	tpl = einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Has 判断 id 是否为已注册模板
func (r *Registry) Has(id PromptID) bool {
	_, ok := phases[id]
	return ok
}

// Resolve 调用方指定的模板与 fallback 同阶段时采用，否则退回 fallback。
// 第二个返回值表示是否采用了调用方的模板。
func (r *Registry) Resolve(requested string, fallback PromptID) (PromptID, bool) {
	id := PromptID(strings.TrimSpace(requested))
	if id == "" {
		return fallback, false
	}
	phase, ok := phases[id]
	if !ok || phase != phases[fallback] {
		return fallback, false
	}
	return id, true
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
