package setting

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// deltaBuffer 一轮流式文本的增量切分。
// flushed 为已交付的末尾位置；offset 为下一段增量的起点，
// 每次交付后回退 overlap 个字符，避免节点描述被截断在两段之间。
type deltaBuffer struct {
	text     []rune
	offset   int
	flushed  int
	minDelta int
	overlap  int
	marker   []rune
	ended    bool
}

func newDeltaBuffer(minDelta, overlap int, marker string) *deltaBuffer {
	return &deltaBuffer{minDelta: minDelta, overlap: overlap, marker: []rune(marker)}
}

// Append 追加文本；出现结束标记时截断标记及其后内容并返回 true
func (b *deltaBuffer) Append(s string) bool {
	if b.ended {
		return true
	}
	added := utf8.RuneCountInString(s)
	b.text = append(b.text, []rune(s)...)
	if len(b.marker) == 0 {
		return false
	}

	start := len(b.text) - added - len(b.marker) + 1
	if start < 0 {
		start = 0
	}
	tail := string(b.text[start:])
	i := strings.Index(tail, string(b.marker))
	if i < 0 {
		return false
	}
	cut := start + utf8.RuneCountInString(tail[:i])
	for cut > 0 && unicode.IsSpace(b.text[cut-1]) {
		cut--
	}
	b.text = b.text[:cut]
	if b.flushed > cut {
		b.flushed = cut
	}
	if b.offset > cut {
		b.offset = cut
	}
	b.ended = true
	return true
}

// holdback 末尾可能是结束标记前缀的字符数，这部分暂不交付
func (b *deltaBuffer) holdback() int {
	if b.ended {
		return 0
	}
	k := len(b.marker) - 1
	if k > len(b.text) {
		k = len(b.text)
	}
	for ; k > 0; k-- {
		if string(b.text[len(b.text)-k:]) == string(b.marker[:k]) {
			return k
		}
	}
	return 0
}

// Flush 未交付部分达到阈值（或 force）时返回下一段增量
func (b *deltaBuffer) Flush(force bool) (string, bool) {
	return b.cut(len(b.text)-b.holdback(), force)
}

// Final 交付剩余全部文本
func (b *deltaBuffer) Final() (string, bool) {
	return b.cut(len(b.text), true)
}

func (b *deltaBuffer) cut(end int, force bool) (string, bool) {
	if end <= b.flushed {
		return "", false
	}
	if !force && end-b.flushed < b.minDelta {
		return "", false
	}
	delta := string(b.text[b.offset:end])
	b.flushed = end
	if next := end - b.overlap; next > b.offset {
		b.offset = next
	}
	return delta, true
}

// Text 本轮已产出的全部文本
func (b *deltaBuffer) Text() string {
	return string(b.text)
}

// Unflushed 尚未交付的字符数
func (b *deltaBuffer) Unflushed() int {
	return len(b.text) - b.flushed
}
