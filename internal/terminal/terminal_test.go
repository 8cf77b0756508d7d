package terminal

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnstyledFormatterPassesTextThrough(t *testing.T) {
	f := New(false)
	assert.Equal(t, "thinking...", f.Muted("thinking..."))
	assert.Equal(t, "Error: boom", f.Error("Error: boom"))
	assert.Equal(t, "Cleared.", f.Notice("Cleared."))
	assert.Equal(t, "# Title\n\n**bold**\n", f.Markdown("# Title\n\n**bold**\n"))
}

func TestStyledFormatterRendersMarkdown(t *testing.T) {
	f := New(true)
	out := f.Markdown("# Title\n\nSome *emphasis* here.")
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "emphasis")
}

func TestStyledFormatterKeepsText(t *testing.T) {
	f := New(true)
	assert.Contains(t, f.Muted("thinking"), "thinking")
	assert.Contains(t, f.Error("boom"), "boom")
	assert.Contains(t, strings.TrimSpace(f.Notice("done")), "done")
}

func TestIsTerminal_RegularFile(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	assert.False(t, IsTerminal(file))
	assert.Equal(t, "*x*", ForFile(file).Markdown("*x*"))
}
