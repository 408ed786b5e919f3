package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	old := Commit
	t.Cleanup(func() { Commit = old })

	Commit = ""
	assert.Contains(t, String(), "scanbrain "+Version)
	assert.NotContains(t, String(), "(")

	Commit = "abc123"
	assert.Contains(t, String(), "(abc123)")
	assert.Equal(t, "abc123", Info()["commit"])
}
