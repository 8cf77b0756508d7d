package extract

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	githubpkg "github.com/cchalm/kb-assistant/internal/github"
)

// GitHubExtractor reads files, readmes, issues and pull requests from github.com URLs through the API rather than
// scraping the rendered pages
type GitHubExtractor struct {
	content githubpkg.ContentService
}

func NewGitHubExtractor(content githubpkg.ContentService) *GitHubExtractor {
	return &GitHubExtractor{content: content}
}

// githubLocation is a parsed github.com URL
type githubLocation struct {
	owner  string
	repo   string
	kind   string // "repo", "blob", "issue"
	ref    string
	path   string
	number int
}

func parseGitHubURL(location string) (*githubLocation, bool) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, false
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return nil, false
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, false
	}
	loc := &githubLocation{owner: parts[0], repo: strings.TrimSuffix(parts[1], ".git")}

	switch {
	case len(parts) == 2:
		loc.kind = "repo"
	case len(parts) >= 5 && parts[2] == "blob":
		loc.kind = "blob"
		loc.ref = parts[3]
		loc.path = path.Join(parts[4:]...)
	case len(parts) >= 4 && (parts[2] == "issues" || parts[2] == "pull"):
		n, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, false
		}
		loc.kind = "issue"
		loc.number = n
	default:
		return nil, false
	}
	return loc, true
}

func (ge *GitHubExtractor) Extract(ctx context.Context, location string) (*Content, error) {
	loc, ok := parseGitHubURL(location)
	if !ok {
		return nil, ErrUnsupported
	}

	switch loc.kind {
	case "repo":
		readme, err := ge.content.GetReadme(ctx, loc.owner, loc.repo)
		if err != nil {
			return nil, err
		}
		return &Content{
			Title:      fmt.Sprintf("%s/%s README", loc.owner, loc.repo),
			Content:    readme.Content,
			SourceType: "github",
			URL:        location,
		}, nil
	case "blob":
		file, err := ge.content.GetFile(ctx, loc.owner, loc.repo, loc.ref, loc.path)
		if err != nil {
			return nil, err
		}
		return &Content{
			Title:      fmt.Sprintf("%s/%s: %s", loc.owner, loc.repo, file.Path),
			Content:    file.Content,
			SourceType: "github",
			URL:        location,
		}, nil
	default:
		issue, err := ge.content.GetIssue(ctx, loc.owner, loc.repo, loc.number)
		if err != nil {
			return nil, err
		}
		return &Content{
			Title:      fmt.Sprintf("%s/%s#%d: %s", loc.owner, loc.repo, loc.number, issue.Title),
			Content:    issue.Markdown(),
			SourceType: "github",
			URL:        location,
		}, nil
	}
}
