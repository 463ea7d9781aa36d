package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransientProviderError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", errors.New("error, status code: 429, message: Rate limit reached"), true},
		{"bad gateway", errors.New("status code: 502"), true},
		{"unexpected eof", fmt.Errorf("recv: %w", io.ErrUnexpectedEOF), true},
		{"cancelled", fmt.Errorf("recv: %w", context.Canceled), false},
		{"round deadline", fmt.Errorf("recv: %w", context.DeadlineExceeded), false},
		{"bad request", errors.New("status code: 400, invalid api key"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransientProviderError(tc.err))
		})
	}
}

func TestIsToolsUnsupportedError(t *testing.T) {
	assert.True(t, IsToolsUnsupportedError(errors.New("Unknown parameter: 'tools'")))
	assert.True(t, IsToolsUnsupportedError(errors.New("this model does not support tools")))
	assert.False(t, IsToolsUnsupportedError(errors.New("status code: 429")))
}

func TestExtractJSON(t *testing.T) {
	out := ExtractJSON("好的，结果如下：\n```json\n{\"nodes\":[{\"name\":\"北境\"}]}\n```")
	assert.Equal(t, `{"nodes":[{"name":"北境"}]}`, out)

	assert.Equal(t, "[1,2,3]", ExtractJSON("prefix [1,2,3] suffix"))
	assert.Equal(t, `{"a":"}"}`, ExtractJSON(`[LOCATION] 北境 {"a":"}"} 之后`))
	assert.Empty(t, ExtractJSON("## [LOCATION] 北境\n冰原"))
	assert.Empty(t, ExtractJSON(`{"unterminated": `))
}

func TestTruncateByRunes(t *testing.T) {
	assert.Equal(t, "北境", TruncateByRunes("北境王国", 2))
	assert.Equal(t, "abc", TruncateByRunes("abc", 5))
	assert.Empty(t, TruncateByRunes("abc", 0))
}
