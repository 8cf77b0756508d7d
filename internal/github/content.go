package github

import (
	"context"
	"fmt"

	"github.com/google/go-github/v72/github"
	"golang.org/x/oauth2"
)

// ContentService reads repository content through the GitHub API
type ContentService interface {
	GetFile(ctx context.Context, owner, repo, ref, path string) (*GitHubFile, error)
	GetReadme(ctx context.Context, owner, repo string) (*GitHubFile, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*GitHubIssue, error)
}

// contentService implements ContentService using GitHub API
type contentService struct {
	client *github.Client
}

// NewClient creates a GitHub client. An empty token yields an unauthenticated client, which is subject to much lower
// rate limits but can still read public repositories
func NewClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(nil)
	}
	tokenSource := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(ctx, tokenSource)
	return github.NewClient(httpClient)
}

// NewContentService creates a new ContentService
func NewContentService(client *github.Client) ContentService {
	return &contentService{
		client: client,
	}
}

func (cs *contentService) GetFile(ctx context.Context, owner, repo, ref, path string) (*GitHubFile, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}
	fileContent, dirContent, _, err := cs.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", path, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("%s is a directory with %d entries, not a file", path, len(dirContent))
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode contents of %s: %w", path, err)
	}

	return &GitHubFile{
		Owner:   owner,
		Repo:    repo,
		Ref:     ref,
		Path:    fileContent.GetPath(),
		Content: content,
		URL:     fileContent.GetHTMLURL(),
	}, nil
}

func (cs *contentService) GetReadme(ctx context.Context, owner, repo string) (*GitHubFile, error) {
	readme, _, err := cs.client.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get readme: %w", err)
	}

	content, err := readme.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode readme: %w", err)
	}

	return &GitHubFile{
		Owner:   owner,
		Repo:    repo,
		Path:    readme.GetPath(),
		Content: content,
		URL:     readme.GetHTMLURL(),
	}, nil
}

func (cs *contentService) GetIssue(ctx context.Context, owner, repo string, number int) (*GitHubIssue, error) {
	issue, _, err := cs.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}

	result := &GitHubIssue{
		Owner:         owner,
		Repo:          repo,
		Number:        number,
		Title:         issue.GetTitle(),
		Body:          issue.GetBody(),
		URL:           issue.GetHTMLURL(),
		IsPullRequest: issue.IsPullRequest(),
	}
	for _, label := range issue.Labels {
		result.Labels = append(result.Labels, label.GetName())
	}

	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := cs.client.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		for _, c := range comments {
			result.Comments = append(result.Comments, GitHubComment{
				Author: c.GetUser().GetLogin(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return result, nil
}
