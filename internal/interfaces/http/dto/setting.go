package dto

import (
	"sort"
	"time"

	"z-novel-setting-api/internal/application/setting"
	"z-novel-setting-api/internal/domain/entity"
)

// StartSessionRequest 启动生成请求
type StartSessionRequest struct {
	NovelID          string `json:"novelId"`
	Prompt           string `json:"prompt" binding:"required,max=8000"`
	PromptTemplateID string `json:"promptTemplateId"`
	ModelConfigID    string `json:"modelConfigId"`
	StrategyID       string `json:"strategyId"`
	UseSharedPool    bool   `json:"useSharedPool"`
}

// ToStartRequest 转为引擎参数
func (r *StartSessionRequest) ToStartRequest(userID string) setting.StartRequest {
	return setting.StartRequest{
		UserID:           userID,
		NovelID:          r.NovelID,
		Prompt:           r.Prompt,
		PromptTemplateID: r.PromptTemplateID,
		ModelConfigID:    r.ModelConfigID,
		StrategyID:       r.StrategyID,
		UseSharedPool:    r.UseSharedPool,
	}
}

// StartSessionResponse 启动生成响应
type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// ModifyNodeRequest 单节点修改请求
type ModifyNodeRequest struct {
	Instruction   string `json:"instruction" binding:"required,max=4000"`
	ModelConfigID string `json:"modelConfigId"`
	Scope         string `json:"scope" binding:"omitempty,oneof=self children_only self_and_children"`
}

// ToModifyNodeRequest 转为引擎参数；范围缺省为 self
func (r *ModifyNodeRequest) ToModifyNodeRequest(sessionID, nodeID string) setting.ModifyNodeRequest {
	scope := entity.ModificationScope(r.Scope)
	if scope == "" {
		scope = entity.ScopeSelf
	}
	return setting.ModifyNodeRequest{
		SessionID:     sessionID,
		NodeID:        nodeID,
		Instruction:   r.Instruction,
		ModelConfigID: r.ModelConfigID,
		Scope:         scope,
	}
}

// AdjustSessionRequest 整体调整请求
type AdjustSessionRequest struct {
	Instruction      string `json:"instruction" binding:"required,max=4000"`
	ModelConfigID    string `json:"modelConfigId"`
	PromptTemplateID string `json:"promptTemplateId"`
}

// ToAdjustSessionRequest 转为引擎参数
func (r *AdjustSessionRequest) ToAdjustSessionRequest(sessionID string) setting.AdjustSessionRequest {
	return setting.AdjustSessionRequest{
		SessionID:        sessionID,
		Instruction:      r.Instruction,
		ModelConfigID:    r.ModelConfigID,
		PromptTemplateID: r.PromptTemplateID,
	}
}

// SaveSessionRequest 保存请求
type SaveSessionRequest struct {
	NovelID         string `json:"novelId"`
	UpdateExisting  bool   `json:"updateExisting"`
	TargetHistoryID string `json:"targetHistoryId"`
}

// ToSaveRequest 转为引擎参数
func (r *SaveSessionRequest) ToSaveRequest() setting.SaveRequest {
	return setting.SaveRequest{
		NovelID:         r.NovelID,
		UpdateExisting:  r.UpdateExisting,
		TargetHistoryID: r.TargetHistoryID,
	}
}

// SaveSessionResponse 保存响应
type SaveSessionResponse struct {
	HistoryID   string   `json:"historyId"`
	RootNodeIDs []string `json:"rootNodeIds"`
}

// SettingNodeResponse 设定节点
type SettingNodeResponse struct {
	ID          string         `json:"id"`
	ParentID    *string        `json:"parentId"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Status      string         `json:"generationStatus"`
}

// SessionResponse 会话快照
type SessionResponse struct {
	ID            string                 `json:"id"`
	NovelID       string                 `json:"novelId,omitempty"`
	Status        string                 `json:"status"`
	Mode          string                 `json:"mode"`
	InitialPrompt string                 `json:"initialPrompt"`
	Nodes         []*SettingNodeResponse `json:"nodes"`
	RootNodeIDs   []string               `json:"rootNodeIds"`
	CurrentRound  int                    `json:"currentRound"`
	TotalRounds   int                    `json:"totalRounds"`
	SavedHistory  string                 `json:"savedHistoryId,omitempty"`
	TreeDirty     bool                   `json:"treeDirty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	CreatedAt     string                 `json:"createdAt"`
	UpdatedAt     string                 `json:"updatedAt"`
	ExpiresAt     string                 `json:"expiresAt"`
}

// ToSessionResponse 节点按树的先序输出，同层按名称排序
func ToSessionResponse(s *entity.GenerationSession) *SessionResponse {
	if s == nil {
		return nil
	}
	resp := &SessionResponse{
		ID:            s.ID,
		NovelID:       s.NovelID,
		Status:        string(s.Status),
		Mode:          string(s.Metadata.Mode),
		InitialPrompt: s.InitialPrompt,
		Nodes:         make([]*SettingNodeResponse, 0, len(s.Nodes)),
		RootNodeIDs:   append([]string{}, s.RootNodeIDs...),
		CurrentRound:  s.Metadata.CurrentRound,
		TotalRounds:   s.Metadata.TotalRounds,
		SavedHistory:  s.Metadata.SavedHistoryID,
		TreeDirty:     s.Metadata.TreeDirty,
		ErrorMessage:  s.Metadata.ErrorMessage,
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.Format(time.RFC3339),
		ExpiresAt:     s.ExpiresAt.Format(time.RFC3339),
	}

	seen := make(map[string]bool, len(s.Nodes))
	var walk func(n *entity.SettingNode)
	walk = func(n *entity.SettingNode) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		resp.Nodes = append(resp.Nodes, toNodeResponse(n))
		for _, child := range s.Children(n.ID) {
			walk(child)
		}
	}
	for _, id := range s.RootNodeIDs {
		if n, ok := s.Nodes[id]; ok {
			walk(n)
		}
	}

	// 父节点缺失的孤儿节点排在最后
	if len(seen) < len(s.Nodes) {
		rest := make([]*entity.SettingNode, 0, len(s.Nodes)-len(seen))
		for id, n := range s.Nodes {
			if !seen[id] {
				rest = append(rest, n)
			}
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
		for _, n := range rest {
			resp.Nodes = append(resp.Nodes, toNodeResponse(n))
		}
	}
	return resp
}

func toNodeResponse(n *entity.SettingNode) *SettingNodeResponse {
	return &SettingNodeResponse{
		ID:          n.ID,
		ParentID:    n.ParentID,
		Name:        n.Name,
		Type:        string(n.Type),
		Description: n.Description,
		Attributes:  n.Attributes,
		Status:      string(n.GenerationStatus),
	}
}
