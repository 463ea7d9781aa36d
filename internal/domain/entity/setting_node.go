// Package entity 定义领域实体
package entity

import "strings"

// SettingType 设定节点类型（封闭枚举）
type SettingType string

const (
	SettingTypeWorldview    SettingType = "WORLDVIEW"
	SettingTypeCharacter    SettingType = "CHARACTER"
	SettingTypeLocation     SettingType = "LOCATION"
	SettingTypeFaction      SettingType = "FACTION"
	SettingTypeOrganization SettingType = "ORGANIZATION"
	SettingTypeRace         SettingType = "RACE"
	SettingTypeCreature     SettingType = "CREATURE"
	SettingTypeMagicSystem  SettingType = "MAGIC_SYSTEM"
	SettingTypePowerSystem  SettingType = "POWER_SYSTEM"
	SettingTypeTechnology   SettingType = "TECHNOLOGY"
	SettingTypeItem         SettingType = "ITEM"
	SettingTypeArtifact     SettingType = "ARTIFACT"
	SettingTypeSkill        SettingType = "SKILL"
	SettingTypeEvent        SettingType = "EVENT"
	SettingTypeHistory      SettingType = "HISTORY"
	SettingTypeCulture      SettingType = "CULTURE"
	SettingTypeReligion     SettingType = "RELIGION"
	SettingTypePolitics     SettingType = "POLITICS"
	SettingTypeEconomy      SettingType = "ECONOMY"
	SettingTypeGeography    SettingType = "GEOGRAPHY"
	SettingTypeRule         SettingType = "RULE"
	SettingTypeRelationship SettingType = "RELATIONSHIP"
	SettingTypeTheme        SettingType = "THEME"
	SettingTypePlot         SettingType = "PLOT"
	SettingTypeOther        SettingType = "OTHER"
)

var settingTypes = []SettingType{
	SettingTypeWorldview,
	SettingTypeCharacter,
	SettingTypeLocation,
	SettingTypeFaction,
	SettingTypeOrganization,
	SettingTypeRace,
	SettingTypeCreature,
	SettingTypeMagicSystem,
	SettingTypePowerSystem,
	SettingTypeTechnology,
	SettingTypeItem,
	SettingTypeArtifact,
	SettingTypeSkill,
	SettingTypeEvent,
	SettingTypeHistory,
	SettingTypeCulture,
	SettingTypeReligion,
	SettingTypePolitics,
	SettingTypeEconomy,
	SettingTypeGeography,
	SettingTypeRule,
	SettingTypeRelationship,
	SettingTypeTheme,
	SettingTypePlot,
	SettingTypeOther,
}

// SettingTypes 返回全部合法类型（用于工具 Schema 的 enum）
func SettingTypes() []SettingType {
	out := make([]SettingType, len(settingTypes))
	copy(out, settingTypes)
	return out
}

// SettingTypeNames 返回全部类型名称
func SettingTypeNames() []string {
	out := make([]string, 0, len(settingTypes))
	for _, t := range settingTypes {
		out = append(out, string(t))
	}
	return out
}

// ParseSettingType 宽松解析类型：忽略大小写，空格与连字符视为下划线
func ParseSettingType(raw string) (SettingType, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	for _, t := range settingTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// IsValid 检查类型是否属于封闭枚举
func (t SettingType) IsValid() bool {
	_, ok := ParseSettingType(string(t))
	return ok && string(t) == strings.ToUpper(string(t))
}

// NodeGenerationStatus 节点生成状态
type NodeGenerationStatus string

const (
	NodeStatusCompleted NodeGenerationStatus = "COMPLETED"
	NodeStatusModified  NodeGenerationStatus = "MODIFIED"
	NodeStatusError     NodeGenerationStatus = "ERROR"
)

// SettingNode 设定树中的一个结构化节点
type SettingNode struct {
	ID               string               `json:"id"`
	ParentID         *string              `json:"parentId"`
	Name             string               `json:"name"`
	Type             SettingType          `json:"type"`
	Description      string               `json:"description"`
	Attributes       map[string]any       `json:"attributes,omitempty"`
	GenerationStatus NodeGenerationStatus `json:"generationStatus"`
}

// IsRoot 是否为根节点
func (n *SettingNode) IsRoot() bool {
	return n.ParentID == nil || *n.ParentID == ""
}

// ParentKey 返回父节点 ID，根节点为空串
func (n *SettingNode) ParentKey() string {
	if n.ParentID == nil {
		return ""
	}
	return *n.ParentID
}

// Clone 深拷贝节点
func (n *SettingNode) Clone() *SettingNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.ParentID != nil {
		p := *n.ParentID
		cp.ParentID = &p
	}
	if n.Attributes != nil {
		cp.Attributes = make(map[string]any, len(n.Attributes))
		for k, v := range n.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}

// StringPtr 返回字符串指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
