package github

import (
	"fmt"
	"strings"
)

// GitHubIssue is an issue or pull request flattened to the text a reader would see on its page
type GitHubIssue struct {
	Owner  string
	Repo   string
	Number int

	Title string
	Body  string
	URL   string

	IsPullRequest bool
	Labels        []string
	Comments      []GitHubComment
}

type GitHubComment struct {
	Author string
	Body   string
}

// GitHubFile is the decoded content of a single file at a ref
type GitHubFile struct {
	Owner string
	Repo  string
	Ref   string
	Path  string

	Content string
	URL     string
}

// Markdown renders the issue and its comments as a single markdown document
func (i GitHubIssue) Markdown() string {
	kind := "Issue"
	if i.IsPullRequest {
		kind = "Pull request"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s #%d: %s\n\n", kind, i.Number, i.Title)
	if len(i.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n\n", strings.Join(i.Labels, ", "))
	}
	sb.WriteString(i.Body)
	sb.WriteString("\n")
	for _, c := range i.Comments {
		fmt.Fprintf(&sb, "\n## Comment by %s\n\n%s\n", c.Author, c.Body)
	}
	return sb.String()
}
