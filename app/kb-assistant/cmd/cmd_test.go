package cmd

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KB_DATA_DIR", t.TempDir())
	t.Setenv("KB_ASSISTANT_CONFIG", filepath.Join(t.TempDir(), "none.toml"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.toml")}, args...))
	t.Cleanup(func() {
		rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "today")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "kb-assistant 1.2.3 (commit abc123, built today)\n", out)
}

func TestVersionFlag(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "today")
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3")
}

func TestIngest_TitleRequiresSingleLocation(t *testing.T) {
	_, err := execute(t, "ingest", "--title", "x", "a.txt", "b.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--title")
}

func TestSources_EmptyKnowledgeBase(t *testing.T) {
	out, err := execute(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "The knowledge base is empty.")
}

func TestInvalidConfigurationIsReported(t *testing.T) {
	_, err := execute(t, "--max-tool-rounds", "-1", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max tool rounds")
}

func TestWebClient_RetriesRateLimitedPages(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, "<html><title>ok</title></html>")
	}))
	defer server.Close()

	resp, err := newWebClient(zaptest.NewLogger(t)).Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), requests.Load())
}
