package setting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"z-novel-setting-api/internal/domain/entity"
)

const (
	toolNameCreateNodes  = "create_setting_nodes"
	toolNameMarkComplete = "mark_generation_complete"
)

// CandidateNodeInstruction 抽取模型给出的一条候选节点
type CandidateNodeInstruction struct {
	TempID      string         `json:"tempId,omitempty"`
	NodeID      string         `json:"nodeId,omitempty"`
	ParentID    string         `json:"parentId,omitempty"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// CompletionSignal 模型声明设定已完整
type CompletionSignal struct {
	Reason string `json:"reason,omitempty"`
}

// ExtractionResult 一次抽取调用收集到的结果
type ExtractionResult struct {
	Nodes    []CandidateNodeInstruction
	Complete *CompletionSignal
	Invalid  []error
}

// extractionSink 工具执行时的结果收集器，每次抽取独立一份
type extractionSink struct {
	mu     sync.Mutex
	result ExtractionResult
}

func (s *extractionSink) addNodes(nodes []CandidateNodeInstruction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Nodes = append(s.result.Nodes, nodes...)
}

func (s *extractionSink) markComplete(sig CompletionSignal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Complete = &sig
}

func (s *extractionSink) invalid(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Invalid = append(s.result.Invalid, err)
}

func (s *extractionSink) snapshot() ExtractionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ExtractionResult{
		Nodes:   append([]CandidateNodeInstruction(nil), s.result.Nodes...),
		Invalid: append([]error(nil), s.result.Invalid...),
	}
	if s.result.Complete != nil {
		sig := *s.result.Complete
		out.Complete = &sig
	}
	return out
}

type createNodesTool struct {
	sink        *extractionSink
	allowUpdate bool
}

func newCreateNodesTool(sink *extractionSink, allowUpdate bool) *createNodesTool {
	return &createNodesTool{sink: sink, allowUpdate: allowUpdate}
}

func (t *createNodesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	nodeParams := map[string]*schema.ParameterInfo{
		"name":        {Type: schema.String, Desc: "节点名称", Required: true},
		"type":        {Type: schema.String, Desc: "节点类型", Required: true, Enum: entity.SettingTypeNames()},
		"description": {Type: schema.String, Desc: "节点描述", Required: true},
		"tempId":      {Type: schema.String, Desc: "可选：供其它节点引用的临时编号，如 R1、R1-3"},
		"parentId":    {Type: schema.String, Desc: "可选：上级节点的临时编号或引用编号，顶层节点留空"},
		"attributes":  {Type: schema.Object, Desc: "可选：附加属性键值对"},
	}
	if t.allowUpdate {
		nodeParams["nodeId"] = &schema.ParameterInfo{Type: schema.String, Desc: "可选：要修改的已有节点编号，新建时留空"}
	}
	return &schema.ToolInfo{
		Name: toolNameCreateNodes,
		Desc: "批量提交设定节点。可在同一次调用中先引用后定义上级节点的 tempId。",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"nodes": {
				Type:     schema.Array,
				Desc:     "设定节点列表",
				Required: true,
				ElemInfo: &schema.ParameterInfo{Type: schema.Object, SubParams: nodeParams},
			},
			"complete": {Type: schema.Boolean, Desc: "可选：整体设定已完整时置为 true"},
		}),
	}, nil
}

type rawCandidate struct {
	TempID      json.RawMessage `json:"tempId"`
	NodeID      json.RawMessage `json:"nodeId"`
	ParentID    json.RawMessage `json:"parentId"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Attributes  json.RawMessage `json:"attributes"`
}

func (t *createNodesTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	var args struct {
		Nodes    []rawCandidate `json:"nodes"`
		Complete bool           `json:"complete"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		t.sink.invalid(&ParseError{Reason: "invalid create_setting_nodes arguments", Err: err})
		b, _ := json.Marshal(map[string]any{"error": fmt.Sprintf("invalid arguments: %v", err)})
		return string(b), nil
	}

	nodes := make([]CandidateNodeInstruction, 0, len(args.Nodes))
	for _, rc := range args.Nodes {
		nodes = append(nodes, rc.toInstruction(t.allowUpdate))
	}
	t.sink.addNodes(nodes)
	if args.Complete {
		t.sink.markComplete(CompletionSignal{Reason: "create_setting_nodes.complete"})
	}

	b, _ := json.Marshal(map[string]any{"received": len(nodes)})
	return string(b), nil
}

func (rc rawCandidate) toInstruction(allowUpdate bool) CandidateNodeInstruction {
	out := CandidateNodeInstruction{
		TempID:      looseString(rc.TempID),
		ParentID:    looseString(rc.ParentID),
		Name:        strings.TrimSpace(rc.Name),
		Type:        strings.TrimSpace(rc.Type),
		Description: strings.TrimSpace(rc.Description),
	}
	if allowUpdate {
		out.NodeID = looseString(rc.NodeID)
	}
	if len(rc.Attributes) > 0 {
		var attrs map[string]any
		if json.Unmarshal(rc.Attributes, &attrs) == nil && len(attrs) > 0 {
			out.Attributes = attrs
		}
	}
	return out
}

// looseString 模型偶尔把编号输出为数字或 null
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

type markCompleteTool struct {
	sink *extractionSink
}

func newMarkCompleteTool(sink *extractionSink) *markCompleteTool {
	return &markCompleteTool{sink: sink}
}

func (t *markCompleteTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: toolNameMarkComplete,
		Desc: "声明整体设定已经完整，无需继续补充。",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"reason": {Type: schema.String, Desc: "可选：判断依据"},
		}),
	}, nil
}

func (t *markCompleteTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	var args CompletionSignal
	_ = json.Unmarshal([]byte(argumentsInJSON), &args)
	t.sink.markComplete(args)
	return `{"ok":true}`, nil
}
