// internal/words/words_test.go
package words

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFoldsCaseAndDiacritics(t *testing.T) {
	assert.Equal(t, "cafe", Normalize("CAFÉ"))
	assert.Equal(t, "apple", Normalize("  Apple "))
	assert.Equal(t, "uber", Normalize("über"))
}

func TestContainsIsNormalized(t *testing.T) {
	d := FromSlice([]string{"Apple", "café"})
	assert.Equal(t, 2, d.Len())
	assert.True(t, d.Contains("apple"))
	assert.True(t, d.Contains("CAFE"))
	assert.False(t, d.Contains("grape"))
}
