package setting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeltaBufferThresholdAndOverlap(t *testing.T) {
	b := newDeltaBuffer(10, 3, "<<END>>")

	assert.False(t, b.Append("01234"))
	_, ok := b.Flush(false)
	assert.False(t, ok, "below threshold")

	b.Append("56789")
	delta, ok := b.Flush(false)
	require.True(t, ok)
	assert.Equal(t, "0123456789", delta)

	b.Append("abcde")
	_, ok = b.Flush(false)
	assert.False(t, ok)

	delta, ok = b.Flush(true)
	require.True(t, ok)
	assert.Equal(t, "789abcde", delta, "next delta starts overlap runes before the previous end")
	assert.Equal(t, 0, b.Unflushed())

	_, ok = b.Final()
	assert.False(t, ok, "nothing left to deliver")
}

func TestDeltaBufferCountsRunes(t *testing.T) {
	b := newDeltaBuffer(4, 1, "")
	b.Append("北境王庭")
	delta, ok := b.Flush(false)
	require.True(t, ok)
	assert.Equal(t, "北境王庭", delta)

	b.Append("冰原")
	delta, ok = b.Final()
	require.True(t, ok)
	assert.Equal(t, "庭冰原", delta)
}

func TestDeltaBufferHoldsBackMarkerPrefix(t *testing.T) {
	b := newDeltaBuffer(1, 3, "<<END>>")

	assert.False(t, b.Append("hello<<EN"))
	delta, ok := b.Flush(true)
	require.True(t, ok)
	assert.Equal(t, "hello", delta, "possible marker prefix is not delivered")

	assert.True(t, b.Append("D>> trailing"))
	assert.Equal(t, "hello", b.Text())

	_, ok = b.Final()
	assert.False(t, ok)
	assert.True(t, b.Append("more"), "appends after the marker are ignored")
	assert.Equal(t, "hello", b.Text())
}

func TestDeltaBufferMarkerTrimsTrailingSpace(t *testing.T) {
	b := newDeltaBuffer(100, 0, "<<SETTING_COMPLETE>>")
	assert.True(t, b.Append("## [LOCATION] 北境\n冰原王国。\n\n<<SETTING_COMPLETE>>"))

	delta, ok := b.Final()
	require.True(t, ok)
	assert.Equal(t, "## [LOCATION] 北境\n冰原王国。", delta)
}
