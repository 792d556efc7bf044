package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuggestPrefix_FirstFree(t *testing.T) {
	got, ok := SuggestPrefix(map[string]bool{})
	require.True(t, ok)
	assert.Equal(t, "ada", got)

	got, ok = SuggestPrefix(map[string]bool{"ada": true, "grace": true})
	require.True(t, ok)
	assert.Equal(t, "alan", got)
}

func TestSuggestPrefix_NumberedFallback(t *testing.T) {
	taken := map[string]bool{}
	for _, n := range Pool() {
		taken[n] = true
	}
	got, ok := SuggestPrefix(taken)
	require.True(t, ok)
	assert.Equal(t, "ada-01", got)

	taken["ada-01"] = true
	got, ok = SuggestPrefix(taken)
	require.True(t, ok)
	assert.Equal(t, "grace-01", got)
}

func TestSuggestPrefix_Exhausted(t *testing.T) {
	taken := map[string]bool{}
	for _, n := range Pool() {
		taken[n] = true
		for num := 1; num <= 99; num++ {
			taken[n+"-"+pad2(num)] = true
		}
	}
	_, ok := SuggestPrefix(taken)
	assert.False(t, ok)
}

func TestPrefixOf(t *testing.T) {
	assert.Equal(t, "ada", PrefixOf("ada"))
	assert.Equal(t, "ada", PrefixOf("ada-programmer"))
	assert.Equal(t, "ada-01", PrefixOf("ada-01-programmer"))
	assert.Equal(t, "ada-01", PrefixOf("ada-01"))
	assert.Equal(t, "ada", PrefixOf("ADA-Programmer"))
}

func TestPad2(t *testing.T) {
	assert.Equal(t, "01", pad2(1))
	assert.Equal(t, "42", pad2(42))
	assert.Equal(t, "99", pad2(99))
}
