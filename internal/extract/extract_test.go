package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	githubpkg "github.com/cchalm/kb-assistant/internal/github"
)

func TestHTMLToText(t *testing.T) {
	doc := `<html><head><title> My Page </title><style>p{}</style></head>
<body><nav>Home | About</nav><h1>Heading</h1><p>First   paragraph
text.</p><script>var x = 1;</script><div>Second <b>bold</b> part</div><footer>copyright</footer></body></html>`

	title, text, err := HTMLToText(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, "My Page", title)
	assert.Equal(t, "Heading\n\nFirst paragraph text.\n\nSecond bold part", text)
}

func TestWebExtractor_HTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>Doc</title></head><body><p>Hello world</p></body></html>"))
	}))
	defer server.Close()

	content, err := NewWebExtractor(server.Client()).Extract(context.Background(), server.URL+"/doc")
	require.NoError(t, err)
	assert.Equal(t, "Doc", content.Title)
	assert.Equal(t, "Hello world", content.Content)
	assert.Equal(t, "web", content.SourceType)
}

func TestWebExtractor_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := NewWebExtractor(server.Client()).Extract(context.Background(), server.URL)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported))
}

func TestWebExtractor_UnsupportedScheme(t *testing.T) {
	_, err := NewWebExtractor(nil).Extract(context.Background(), "ftp://example.com/file")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestFileExtractor(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(p, []byte("# Notes\n\nremember the milk"), 0600))

	content, err := FileExtractor{}.Extract(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "notes.md", content.Title)
	assert.Equal(t, "# Notes\n\nremember the milk", content.Content)
	assert.Equal(t, "file", content.SourceType)
	assert.True(t, strings.HasPrefix(content.URL, "file://"))

	_, err = FileExtractor{}.Extract(context.Background(), filepath.Join(dir, "missing.md"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestParseGitHubURL(t *testing.T) {
	loc, ok := parseGitHubURL("https://github.com/cchalm/kb-assistant/blob/main/internal/ai/driver.go")
	require.True(t, ok)
	assert.Equal(t, githubLocation{owner: "cchalm", repo: "kb-assistant", kind: "blob", ref: "main", path: "internal/ai/driver.go"}, *loc)

	loc, ok = parseGitHubURL("https://github.com/cchalm/kb-assistant/pull/12")
	require.True(t, ok)
	assert.Equal(t, "issue", loc.kind)
	assert.Equal(t, 12, loc.number)

	loc, ok = parseGitHubURL("https://github.com/cchalm/kb-assistant")
	require.True(t, ok)
	assert.Equal(t, "repo", loc.kind)

	_, ok = parseGitHubURL("https://example.com/cchalm/kb-assistant")
	assert.False(t, ok)
	_, ok = parseGitHubURL("https://github.com/cchalm/kb-assistant/issues/abc")
	assert.False(t, ok)
}

type fakeContentService struct {
	issue *githubpkg.GitHubIssue
}

func (f fakeContentService) GetFile(ctx context.Context, owner, repo, ref, path string) (*githubpkg.GitHubFile, error) {
	return &githubpkg.GitHubFile{Owner: owner, Repo: repo, Ref: ref, Path: path, Content: "package main"}, nil
}

func (f fakeContentService) GetReadme(ctx context.Context, owner, repo string) (*githubpkg.GitHubFile, error) {
	return &githubpkg.GitHubFile{Owner: owner, Repo: repo, Path: "README.md", Content: "readme"}, nil
}

func (f fakeContentService) GetIssue(ctx context.Context, owner, repo string, number int) (*githubpkg.GitHubIssue, error) {
	return f.issue, nil
}

func TestGitHubExtractor(t *testing.T) {
	extractor := NewGitHubExtractor(fakeContentService{issue: &githubpkg.GitHubIssue{
		Number:   3,
		Title:    "Crash on start",
		Body:     "It crashes",
		Comments: []githubpkg.GitHubComment{{Author: "octocat", Body: "Same here"}},
	}})

	content, err := extractor.Extract(context.Background(), "https://github.com/o/r/issues/3")
	require.NoError(t, err)
	assert.Equal(t, "o/r#3: Crash on start", content.Title)
	assert.Contains(t, content.Content, "# Issue #3: Crash on start")
	assert.Contains(t, content.Content, "## Comment by octocat")

	content, err = extractor.Extract(context.Background(), "https://github.com/o/r/blob/v1/main.go")
	require.NoError(t, err)
	assert.Equal(t, "o/r: main.go", content.Title)
	assert.Equal(t, "package main", content.Content)

	_, err = extractor.Extract(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrUnsupported)
}

type stubExtractor struct {
	content *Content
	err     error
}

func (s stubExtractor) Extract(context.Context, string) (*Content, error) {
	return s.content, s.err
}

func TestChain(t *testing.T) {
	chain := Chain{
		stubExtractor{err: ErrUnsupported},
		stubExtractor{content: &Content{Title: "second", Content: "text"}},
		stubExtractor{content: &Content{Title: "third", Content: "text"}},
	}
	content, err := chain.Extract(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "second", content.Title)

	_, err = Chain{stubExtractor{err: ErrUnsupported}}.Extract(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Chain{stubExtractor{content: &Content{}}}.Extract(context.Background(), "anything")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupported))
}
