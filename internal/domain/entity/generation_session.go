package entity

import (
	"sort"
	"time"
)

// SessionStatus 设定生成会话状态
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "INITIALIZING"
	SessionStatusGenerating   SessionStatus = "GENERATING"
	SessionStatusCompleted    SessionStatus = "COMPLETED"
	SessionStatusError        SessionStatus = "ERROR"
	SessionStatusCancelled    SessionStatus = "CANCELLED"
	SessionStatusSaved        SessionStatus = "SAVED"
)

// IsTerminal ERROR/CANCELLED/SAVED 为终态
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusError, SessionStatusCancelled, SessionStatusSaved:
		return true
	default:
		return false
	}
}

// CanTransitionTo 状态机：INITIALIZING → GENERATING → {COMPLETED, ERROR, CANCELLED}; COMPLETED → SAVED
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionStatusInitializing:
		return next == SessionStatusGenerating || next == SessionStatusError || next == SessionStatusCancelled
	case SessionStatusGenerating:
		return next == SessionStatusCompleted || next == SessionStatusError || next == SessionStatusCancelled
	case SessionStatusCompleted:
		return next == SessionStatusSaved
	default:
		return false
	}
}

// GenerationMode 会话启动方式
type GenerationMode string

const (
	GenerationModeDirect GenerationMode = "direct"
	GenerationModeHybrid GenerationMode = "hybrid"
)

// ModificationScope 节点修改范围
type ModificationScope string

const (
	ScopeSelf            ModificationScope = "self"
	ScopeChildrenOnly    ModificationScope = "children_only"
	ScopeSelfAndChildren ModificationScope = "self_and_children"
)

// IsValid 范围是否合法
func (s ModificationScope) IsValid() bool {
	switch s {
	case ScopeSelf, ScopeChildrenOnly, ScopeSelfAndChildren:
		return true
	default:
		return false
	}
}

// SessionMetadata 会话级标记位
type SessionMetadata struct {
	Mode                GenerationMode    `json:"mode"`
	ModelConfigID       string            `json:"modelConfigId,omitempty"`
	UseSharedPool       bool              `json:"useSharedPool"`
	ResolvedProvider    string            `json:"resolvedProvider,omitempty"`
	ResolvedModel       string            `json:"resolvedModel,omitempty"`
	TextStreamEnded     bool              `json:"textStreamEnded"`
	TextStreamEndedAt   *time.Time        `json:"textStreamEndedAt,omitempty"`
	StreamFinalized     bool              `json:"streamFinalized"`
	ToolPendingComplete bool              `json:"toolPendingComplete"`
	TempIDMap           map[string]string `json:"tempIdMap"`
	AccumulatedText     string            `json:"accumulatedText,omitempty"`
	CurrentRound        int               `json:"currentRound"`
	TotalRounds         int               `json:"totalRounds"`
	CurrentStep         string            `json:"currentStep,omitempty"`
	EarlyStopReason     string            `json:"earlyStopReason,omitempty"`
	Scope               ModificationScope `json:"scope,omitempty"`
	SavedHistoryID      string            `json:"savedHistoryId,omitempty"`
	SavedRootNodeIDs    []string          `json:"savedRootNodeIds,omitempty"`
	TreeDirty           bool              `json:"treeDirty"`
	TreeRevision        int64             `json:"treeRevision"` // 每次写入节点递增
	ErrorMessage        string            `json:"errorMessage,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// GenerationSession 一次 prompt → 设定树 的生成会话
type GenerationSession struct {
	ID               string                  `json:"id"`
	UserID           string                  `json:"userId"`
	NovelID          string                  `json:"novelId,omitempty"`
	InitialPrompt    string                  `json:"initialPrompt"`
	StrategyID       string                  `json:"strategyId,omitempty"`
	PromptTemplateID string                  `json:"promptTemplateId,omitempty"`
	Status           SessionStatus           `json:"status"`
	Nodes            map[string]*SettingNode `json:"nodes"`
	RootNodeIDs      []string                `json:"rootNodeIds"`
	Metadata         SessionMetadata         `json:"metadata"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
	ExpiresAt        time.Time               `json:"expiresAt"`
	CompletedAt      *time.Time              `json:"completedAt,omitempty"`
}

// NewGenerationSession 创建会话，过期时间为 createdAt + ttl
func NewGenerationSession(id, userID, novelID, prompt, strategyID, templateID string, now time.Time, ttl time.Duration) *GenerationSession {
	return &GenerationSession{
		ID:               id,
		UserID:           userID,
		NovelID:          novelID,
		InitialPrompt:    prompt,
		StrategyID:       strategyID,
		PromptTemplateID: templateID,
		Status:           SessionStatusInitializing,
		Nodes:            make(map[string]*SettingNode),
		RootNodeIDs:      []string{},
		Metadata: SessionMetadata{
			TempIDMap: make(map[string]string),
		},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired 是否已过期
func (s *GenerationSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// AddNode 写入节点，并维护根节点序列
func (s *GenerationSession) AddNode(n *SettingNode) {
	if s.Nodes == nil {
		s.Nodes = make(map[string]*SettingNode)
	}
	_, existed := s.Nodes[n.ID]
	s.Nodes[n.ID] = n
	s.Metadata.TreeRevision++
	if !existed && n.IsRoot() {
		s.RootNodeIDs = append(s.RootNodeIDs, n.ID)
	}
}

// Children 返回直接子节点（按名称排序，便于稳定输出）
func (s *GenerationSession) Children(parentID string) []*SettingNode {
	out := make([]*SettingNode, 0)
	for _, n := range s.Nodes {
		if n.ParentKey() == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsDescendant 判断 nodeID 是否位于 ancestorID 的子树中（不含自身）
func (s *GenerationSession) IsDescendant(nodeID, ancestorID string) bool {
	seen := make(map[string]bool)
	cur, ok := s.Nodes[nodeID]
	for ok && cur.ParentID != nil {
		pid := *cur.ParentID
		if pid == ancestorID {
			return true
		}
		if seen[pid] {
			return false
		}
		seen[pid] = true
		cur, ok = s.Nodes[pid]
	}
	return false
}

// Path 返回从根到节点的名称路径
func (s *GenerationSession) Path(nodeID string) []string {
	var rev []string
	seen := make(map[string]bool)
	cur, ok := s.Nodes[nodeID]
	for ok && !seen[cur.ID] {
		seen[cur.ID] = true
		rev = append(rev, cur.Name)
		if cur.ParentID == nil {
			break
		}
		cur, ok = s.Nodes[*cur.ParentID]
	}
	out := make([]string, len(rev))
	for i := range rev {
		out[len(rev)-1-i] = rev[i]
	}
	return out
}

// Clone 深拷贝会话，供读方持有
func (s *GenerationSession) Clone() *GenerationSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Nodes = make(map[string]*SettingNode, len(s.Nodes))
	for id, n := range s.Nodes {
		cp.Nodes[id] = n.Clone()
	}
	cp.RootNodeIDs = append([]string(nil), s.RootNodeIDs...)
	cp.Metadata.TempIDMap = make(map[string]string, len(s.Metadata.TempIDMap))
	for k, v := range s.Metadata.TempIDMap {
		cp.Metadata.TempIDMap[k] = v
	}
	cp.Metadata.SavedRootNodeIDs = append([]string(nil), s.Metadata.SavedRootNodeIDs...)
	if s.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]string, len(s.Metadata.Extra))
		for k, v := range s.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	if s.Metadata.TextStreamEndedAt != nil {
		t := *s.Metadata.TextStreamEndedAt
		cp.Metadata.TextStreamEndedAt = &t
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
