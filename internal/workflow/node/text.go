// Package node 模型调用链路上的公共小工具
package node

import (
	"encoding/json"
	"strings"
)

// maxJSONProbes 在一段输出里最多尝试的 JSON 起点数
const maxJSONProbes = 32

// ExtractJSON 返回文本中第一个能完整解析的 JSON 对象或数组，找不到时返回空串。
// 模型常把 JSON 包在 markdown 代码块或说明文字里，这里只认完整的值。
func ExtractJSON(s string) string {
	probes := 0
	for i := 0; i < len(s) && probes < maxJSONProbes; i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		probes++
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		if err := dec.Decode(&raw); err == nil {
			return string(raw)
		}
	}
	return ""
}

// TruncateByRunes 按字符数截断，不会切坏多字节字符
func TruncateByRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
