package setting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFallbackNodesHeadings(t *testing.T) {
	text := `## [LOCATION] 北境
冰原上的王国。
常年积雪。

### [CHARACTER] 艾琳娜
北境的公主。

## 【FACTION】 雪狼团
佣兵组织。`

	nodes := ParseFallbackNodes(text)
	require.Len(t, nodes, 3)

	assert.Equal(t, "北境", nodes[0].Name)
	assert.Equal(t, "LOCATION", nodes[0].Type)
	assert.Equal(t, "冰原上的王国。\n常年积雪。", nodes[0].Description)
	assert.Empty(t, nodes[0].ParentID)

	assert.Equal(t, "艾琳娜", nodes[1].Name)
	assert.Equal(t, nodes[0].TempID, nodes[1].ParentID)
	assert.Equal(t, "北境的公主。", nodes[1].Description)

	assert.Equal(t, "雪狼团", nodes[2].Name)
	assert.Equal(t, "FACTION", nodes[2].Type)
	assert.Empty(t, nodes[2].ParentID, "same-level heading closes the previous subtree")

	for _, n := range nodes {
		assert.Contains(t, n.TempID, localRefPrefix)
	}
}

func TestParseFallbackNodesJSON(t *testing.T) {
	text := "结果如下：\n```json\n" + `{"nodes":[
  {"name":"北境","type":"LOCATION","description":"冰原","children":[
    {"name":"艾琳娜","type":"CHARACTER","description":"公主"}
  ]},
  {"tempId":"R2","name":"雪狼团","type":"FACTION","description":"佣兵"}
]}` + "\n```"

	nodes := ParseFallbackNodes(text)
	require.Len(t, nodes, 3)
	assert.Equal(t, "北境", nodes[0].Name)
	assert.Equal(t, "#1", nodes[0].TempID)
	assert.Equal(t, "艾琳娜", nodes[1].Name)
	assert.Equal(t, "#1", nodes[1].ParentID)
	assert.Equal(t, "R2", nodes[2].TempID)
}

func TestParseFallbackNodesBareArray(t *testing.T) {
	nodes := ParseFallbackNodes(`[{"name":"北境","type":"LOCATION","description":"冰原"}]`)
	require.Len(t, nodes, 1)
	assert.Equal(t, "北境", nodes[0].Name)
}

func TestParseFallbackNodesNothingUsable(t *testing.T) {
	assert.Empty(t, ParseFallbackNodes(""))
	assert.Empty(t, ParseFallbackNodes("只有一段没有标题的叙述。"))
	assert.Empty(t, ParseFallbackNodes("# 没有类型的标题\n正文"))
}
