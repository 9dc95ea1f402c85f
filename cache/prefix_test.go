package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghostline "github.com/velvetfork/ghostline"
)

func TestFindAllExactKey(t *testing.T) {
	c := New(10)
	c.Append("func main() {\n\t", "\n}", ghostline.NewCandidate("fmt.Println(1)\n", 0))

	got := c.FindAll("func main() {\n\t", "\n}")
	require.Len(t, got, 1)
	assert.Equal(t, "fmt.Println(1)\n", got[0].Text)
	assert.Equal(t, 0, got[0].ServedFromCache)
}

func TestFindAllSlicesTypedPortion(t *testing.T) {
	c := New(10)
	c.Append("prefix", "", ghostline.NewCandidate("hello world", 0))

	// The user typed "hello " since the candidate was generated. The
	// stored key is a prefix of the query and the typed delta matches the
	// stored text, so the remainder is served with the slice measured.
	got := c.FindAll("prefixhello ", "")
	require.Len(t, got, 1)
	assert.Equal(t, "world", got[0].Text)
	assert.Equal(t, 6, got[0].ServedFromCache)
}

func TestFindAllSkipsFullyTypedCandidate(t *testing.T) {
	c := New(10)
	c.Append("prefix", "", ghostline.NewCandidate("done", 0))

	// Typing the entire suggestion leaves nothing to serve.
	assert.Empty(t, c.FindAll("prefixdone", ""))
	// A divergent delta does not match either.
	assert.Empty(t, c.FindAll("prefixdX", ""))
}

func TestFindAllSuffixMustMatch(t *testing.T) {
	c := New(10)
	c.Append("p", "\n}", ghostline.NewCandidate("body()", 0))

	assert.Empty(t, c.FindAll("p", "\n)"), "different suffix")
	assert.Len(t, c.FindAll("p", "\n}"), 1)
}

func TestFindAllLongestKeyFirst(t *testing.T) {
	c := New(10)
	c.Append("ab", "", ghostline.NewCandidate("cdef", 0))
	c.Append("abcd", "", ghostline.NewCandidate("efgh", 0))

	got := c.FindAll("abcd", "")
	require.Len(t, got, 2)
	assert.Equal(t, "efgh", got[0].Text, "more specific key served first")
	assert.Equal(t, "ef", got[1].Text)
	assert.Equal(t, 2, got[1].ServedFromCache)
}

func TestAppendGroupsUnderOneKey(t *testing.T) {
	c := New(10)
	c.Append("k", "", ghostline.NewCandidate("one", 0))
	c.Append("k", "", ghostline.NewCandidate("two", 1))

	assert.Equal(t, 1, c.Len())
	assert.Len(t, c.FindAll("k", ""), 2)
}

func TestEvictsLeastRecentlyTouchedKey(t *testing.T) {
	c := New(3)
	for i := 0; i < 3; i++ {
		c.Append(fmt.Sprintf("key%d", i), "", ghostline.NewCandidate("text", 0))
	}
	require.Equal(t, 3, c.Len())

	// Touch key0 so key1 becomes the oldest.
	require.Len(t, c.FindAll("key0", ""), 1)

	c.Append("key3", "", ghostline.NewCandidate("text", 0))
	assert.Equal(t, 3, c.Len())
	assert.Empty(t, c.FindAll("key1", ""), "oldest key evicted")
	assert.Len(t, c.FindAll("key0", ""), 1, "recently served key survives")
	assert.Len(t, c.FindAll("key3", ""), 1)
}

func TestEvictionDropsWholeKey(t *testing.T) {
	c := New(1)
	c.Append("a", "", ghostline.NewCandidate("one", 0))
	c.Append("a", "", ghostline.NewCandidate("two", 1))
	c.Append("b", "", ghostline.NewCandidate("three", 0))

	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.FindAll("a", ""))
}

func TestDefaultCapacity(t *testing.T) {
	c := New(0)
	for i := 0; i < DefaultCapacity+5; i++ {
		c.Append(fmt.Sprintf("key%03d", i), "", ghostline.NewCandidate("text", 0))
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Append("a", "", ghostline.NewCandidate("one", 0))
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.FindAll("a", ""))
}
