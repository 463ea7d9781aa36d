package setting

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"z-novel-setting-api/internal/domain/entity"
)

const (
	defaultMaxNameLength        = 128
	defaultMaxDescriptionLength = 20000
)

var nameFolder = cases.Fold()

// NormalizeName 去首尾空白、压缩内部空白并做大小写折叠
func NormalizeName(name string) string {
	return nameFolder.String(strings.Join(strings.Fields(name), " "))
}

// ScopeRule 修改请求声明的作用范围
type ScopeRule struct {
	Scope    entity.ModificationScope
	TargetID string
}

// candidate 已完成 parent 解析、待校验的节点
type candidate struct {
	ID          string
	ParentID    string
	Name        string
	Type        entity.SettingType
	RawType     string
	Description string
	IsUpdate    bool
}

// ref 新建节点的 ID 尚未对外暴露，错误中不携带
func (c *candidate) ref() string {
	if c.IsUpdate {
		return c.ID
	}
	return ""
}

// Validator 结构校验与去重，所有准入路径共用
type Validator struct {
	maxName int
	maxDesc int
}

func NewValidator(maxNameLength, maxDescriptionLength int) *Validator {
	if maxNameLength <= 0 {
		maxNameLength = defaultMaxNameLength
	}
	if maxDescriptionLength <= 0 {
		maxDescriptionLength = defaultMaxDescriptionLength
	}
	return &Validator{maxName: maxNameLength, maxDesc: maxDescriptionLength}
}

// Validate 校验候选节点，scope 为 nil 表示不受范围约束（生成与整体调整）
func (v *Validator) Validate(sess *entity.GenerationSession, c *candidate, scope *ScopeRule) error {
	fail := func(code ValidationCode, format string, args ...any) error {
		return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...), NodeID: c.ref(), Name: c.Name}
	}

	if strings.TrimSpace(c.Name) == "" {
		return fail(ValidationEmptyName, "name is empty")
	}
	if strings.TrimSpace(c.Description) == "" {
		return fail(ValidationEmptyDescription, "description is empty")
	}
	if !c.Type.IsValid() {
		return fail(ValidationInvalidType, "unrecognized type %q", c.RawType)
	}
	if utf8.RuneCountInString(c.Name) > v.maxName {
		return fail(ValidationNameTooLong, "name exceeds %d characters", v.maxName)
	}
	if utf8.RuneCountInString(c.Description) > v.maxDesc {
		return fail(ValidationDescriptionTooLong, "description exceeds %d characters", v.maxDesc)
	}

	if c.ParentID != "" {
		if _, ok := sess.Nodes[c.ParentID]; !ok {
			return fail(ValidationUnresolvedParent, "parent %q does not exist", c.ParentID)
		}
		if c.ParentID == c.ID || sess.IsDescendant(c.ParentID, c.ID) {
			return fail(ValidationCycle, "parent %q would create a cycle", c.ParentID)
		}
	}

	if c.IsUpdate {
		existing := sess.Nodes[c.ID]
		if existing != nil && existing.ParentKey() != c.ParentID && !parentChangeAllowed(sess, c, scope) {
			return fail(ValidationParentChangeBlocked, "node %q cannot be moved under %q", c.ID, c.ParentID)
		}
	}

	key := NormalizeName(c.Name)
	for id, n := range sess.Nodes {
		if id == c.ID {
			continue
		}
		if n.ParentKey() == c.ParentID && n.Type == c.Type && NormalizeName(n.Name) == key {
			return fail(ValidationDuplicateNode, "node %q of type %s already exists under the same parent", c.Name, c.Type)
		}
	}

	if scope != nil {
		if err := checkScope(sess, c, scope); err != nil {
			return err
		}
	}
	return nil
}

// checkScope 即使提示词已声明范围，也在准入时再次强制
func checkScope(sess *entity.GenerationSession, c *candidate, rule *ScopeRule) error {
	violation := func(format string, args ...any) error {
		return &ValidationError{Code: ValidationScopeViolation, Message: fmt.Sprintf(format, args...), NodeID: c.ref(), Name: c.Name}
	}
	target := rule.TargetID
	inSubtree := func() bool {
		if c.ParentID == target {
			return true
		}
		return c.ParentID != "" && sess.IsDescendant(c.ParentID, target)
	}

	switch rule.Scope {
	case entity.ScopeSelf:
		if c.ID != target || !c.IsUpdate {
			return violation("scope self only allows updating node %s", target)
		}
		if c.ParentID == target {
			return violation("scope self does not allow children of %s", target)
		}
	case entity.ScopeChildrenOnly:
		if c.ID == target {
			return violation("scope children_only does not allow changing node %s itself", target)
		}
		if !inSubtree() {
			return violation("scope children_only requires nodes under %s", target)
		}
	case entity.ScopeSelfAndChildren:
		if c.ID == target {
			if !c.IsUpdate {
				return violation("node %s must be updated in place", target)
			}
			return nil
		}
		if !inSubtree() {
			return violation("scope self_and_children requires nodes under %s", target)
		}
	default:
		return violation("unknown scope %q", rule.Scope)
	}
	return nil
}

// parentChangeAllowed 仅子树范围内的后代节点允许在子树内移动，目标节点本身不可移动
func parentChangeAllowed(sess *entity.GenerationSession, c *candidate, rule *ScopeRule) bool {
	if rule == nil || rule.Scope == entity.ScopeSelf || c.ID == rule.TargetID {
		return false
	}
	if c.ParentID == rule.TargetID {
		return true
	}
	return c.ParentID != "" && sess.IsDescendant(c.ParentID, rule.TargetID)
}
