package setting

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"z-novel-setting-api/internal/workflow/node"
)

// headingPattern 匹配 "## [CHARACTER] 艾琳娜" 形式的标题
var headingPattern = regexp.MustCompile(`^(#{1,6})\s*[\[【]\s*([A-Za-z_\- ]+?)\s*[\]】]\s*(.+?)\s*$`)

type fallbackNode struct {
	rawCandidate
	Children []fallbackNode `json:"children"`
}

// ParseFallbackNodes 工具调用不可用时的尽力解析：
// 先尝试文本中的 JSON 节点列表，再尝试按标题层级解析。
// 生成的引用编号以 # 开头，仅在本批次内有效。
func ParseFallbackNodes(text string) []CandidateNodeInstruction {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if out := parseJSONNodes(text); len(out) > 0 {
		return out
	}
	return parseHeadingNodes(text)
}

func parseJSONNodes(text string) []CandidateNodeInstruction {
	raw := node.ExtractJSON(text)
	if raw == "" {
		return nil
	}

	var list []fallbackNode
	switch raw[0] {
	case '{':
		var wrapper struct {
			Nodes []fallbackNode `json:"nodes"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil
		}
		list = wrapper.Nodes
	case '[':
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			return nil
		}
	default:
		return nil
	}

	var (
		out []CandidateNodeInstruction
		seq int
	)
	var walk func(nodes []fallbackNode, parent string)
	walk = func(nodes []fallbackNode, parent string) {
		for _, fn := range nodes {
			ins := fn.toInstruction(false)
			if ins.Name == "" {
				continue
			}
			if ins.ParentID == "" {
				ins.ParentID = parent
			}
			if ins.TempID == "" && len(fn.Children) > 0 {
				seq++
				ins.TempID = localRefPrefix + strconv.Itoa(seq)
			}
			out = append(out, ins)
			if len(fn.Children) > 0 {
				walk(fn.Children, ins.TempID)
			}
		}
	}
	walk(list, "")
	return out
}

func parseHeadingNodes(text string) []CandidateNodeInstruction {
	type frame struct {
		depth int
		ref   string
	}
	var (
		out   []CandidateNodeInstruction
		stack []frame
		desc  []string
		cur   = -1
	)
	flush := func() {
		if cur >= 0 {
			out[cur].Description = strings.TrimSpace(strings.Join(desc, "\n"))
		}
		desc = desc[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		m := headingPattern.FindStringSubmatch(trimmed)
		if m == nil {
			if cur >= 0 && trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				desc = append(desc, trimmed)
			}
			continue
		}
		flush()

		depth := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		parent := ""
		if len(stack) > 0 {
			parent = stack[len(stack)-1].ref
		}
		ref := localRefPrefix + strconv.Itoa(len(out)+1)
		out = append(out, CandidateNodeInstruction{
			TempID:   ref,
			ParentID: parent,
			Name:     strings.Trim(m[3], "*_ "),
			Type:     strings.TrimSpace(m[2]),
		})
		cur = len(out) - 1
		stack = append(stack, frame{depth: depth, ref: ref})
	}
	flush()
	return out
}
