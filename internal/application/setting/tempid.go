package setting

import (
	"fmt"
	"sort"
	"strings"

	"z-novel-setting-api/internal/domain/entity"
)

// localRefPrefix 以 # 开头的引用只在单个批次内有效（兜底解析生成），不写入会话映射
const localRefPrefix = "#"

// batchResolver 单次抽取批次的 tempId 解析器。
// 查找顺序：批次内映射 → 会话 TempIDMap → 已存在的永久 ID。
type batchResolver struct {
	local   map[string]string
	aliases map[string]string
	session *entity.GenerationSession
}

func newBatchResolver(sess *entity.GenerationSession, aliases map[string]string) *batchResolver {
	local := make(map[string]string, len(aliases))
	for k, v := range aliases {
		local[k] = v
	}
	if sess.Metadata.TempIDMap == nil {
		sess.Metadata.TempIDMap = make(map[string]string)
	}
	return &batchResolver{local: local, aliases: aliases, session: sess}
}

// IsAlias token 是否为预置引用；预置引用只能被引用，不能被新节点占用
func (r *batchResolver) IsAlias(token string) bool {
	_, ok := r.aliases[strings.TrimSpace(token)]
	return ok
}

// Resolve 解析 token，返回永久 ID
func (r *batchResolver) Resolve(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	if id, ok := r.local[token]; ok {
		return id, true
	}
	if id, ok := r.session.Metadata.TempIDMap[token]; ok {
		return id, true
	}
	if _, ok := r.session.Nodes[token]; ok {
		return token, true
	}
	return "", false
}

// Bind 绑定 token → id；已绑定时返回原有 id，绑定不可改写
func (r *batchResolver) Bind(token, id string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return id
	}
	if existing, ok := r.Resolve(token); ok {
		return existing
	}
	r.local[token] = id
	if !strings.HasPrefix(token, localRefPrefix) {
		r.session.Metadata.TempIDMap[token] = id
	}
	return id
}

// tempIDIndex 渲染已绑定 tempId 索引（token | 名称 | 类型），供抽取模型避免重复创建
func tempIDIndex(sess *entity.GenerationSession) string {
	if len(sess.Metadata.TempIDMap) == 0 {
		return "（暂无）"
	}
	tokens := make([]string, 0, len(sess.Metadata.TempIDMap))
	for tok := range sess.Metadata.TempIDMap {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	var b strings.Builder
	for _, tok := range tokens {
		n, ok := sess.Nodes[sess.Metadata.TempIDMap[tok]]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s | %s | %s\n", tok, n.Name, n.Type)
	}
	if b.Len() == 0 {
		return "（暂无）"
	}
	return strings.TrimRight(b.String(), "\n")
}
