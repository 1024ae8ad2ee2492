package display

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapTextShortTextUnchanged(t *testing.T) {
	lines := wrapText("hello world", 80)
	assert.Equal(t, []string{"hello world"}, lines)
}

func TestWrapTextSplitsOnWidth(t *testing.T) {
	lines := wrapText("one two three four five", 10)
	assert.Greater(t, len(lines), 1)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 10)
	}
}

func TestWrapTextCapsAtEightLines(t *testing.T) {
	words := ""
	for i := 0; i < 200; i++ {
		words += "word "
	}
	lines := wrapText(words, 10)
	assert.LessOrEqual(t, len(lines), 8)
}

func TestPadRightPadsShortStrings(t *testing.T) {
	assert.Equal(t, "hi   ", padRight("hi", 5))
}

func TestPadRightTruncatesOverlongStrings(t *testing.T) {
	assert.Equal(t, "hello", padRight("hello world", 5))
}

func TestTruncateAddsEllipsis(t *testing.T) {
	assert.Equal(t, "hel...", Truncate("hello world", 6))
}

func TestTruncateLeavesShortTextAlone(t *testing.T) {
	assert.Equal(t, "hi", Truncate("hi", 10))
}

func TestCleanTextCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", CleanText("a\nb   c\n"))
}
