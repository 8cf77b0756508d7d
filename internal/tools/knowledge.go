package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cchalm/kb-assistant/internal/kb"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultSearchLimit   = 5
	defaultMinSimilarity = 0.4
	defaultListLimit     = 20
)

type SearchInput struct {
	Query         string   `json:"query" jsonschema:"minLength=1" jsonschema_description:"What to look for in the knowledge base"`
	Limit         *int     `json:"limit,omitempty" jsonschema:"minimum=0,default=5" jsonschema_description:"Maximum number of results"`
	MinSimilarity *float64 `json:"min_similarity,omitempty" jsonschema:"minimum=0,maximum=1,default=0.4" jsonschema_description:"Minimum similarity score between 0 and 1"`
}

type AddInput struct {
	Content string   `json:"content" jsonschema:"minLength=1" jsonschema_description:"The text to store"`
	Title   string   `json:"title" jsonschema:"minLength=1" jsonschema_description:"A short title for the content"`
	Tags    []string `json:"tags,omitempty" jsonschema_description:"Optional tags"`
}

type IngestInput struct {
	URL   string   `json:"url" jsonschema:"minLength=1" jsonschema_description:"URL of a web page or GitHub resource, or a local file path"`
	Title string   `json:"title,omitempty" jsonschema_description:"Overrides the extracted title"`
	Tags  []string `json:"tags,omitempty" jsonschema_description:"Optional tags"`
}

type ListInput struct {
	Limit *int `json:"limit,omitempty" jsonschema:"minimum=0,default=20" jsonschema_description:"Maximum number of sources to list, most recent first"`
}

type DeleteInput struct {
	ID string `json:"id" jsonschema:"minLength=1" jsonschema_description:"ID of the source to delete"`
}

type GetSourceChunksInput struct {
	SourceID string `json:"source_id" jsonschema:"minLength=1" jsonschema_description:"ID of the source whose chunks to return"`
}

// KnowledgeTools returns the knowledge base tools backed by store
func KnowledgeTools(store kb.Store) []Descriptor {
	kt := knowledgeTools{store: store}
	return []Descriptor{
		NewTool("search", "Search the knowledge base for chunks relevant to a query. Returns the best matching chunks with their source and similarity score.", kt.search),
		NewTool("add", "Add a piece of text to the knowledge base as a new source.", kt.add),
		NewTool("ingest", "Fetch a URL (web page, GitHub repository, file or issue) or a local file, extract its text and add it to the knowledge base.", kt.ingest),
		NewTool("list", "List sources in the knowledge base, most recently added first.", kt.list),
		NewTool("delete", "Delete a source and all of its chunks from the knowledge base.", kt.delete),
		NewTool("get_source_chunks", "Return the full stored text of a source, chunk by chunk, in order.", kt.getSourceChunks),
	}
}

// NewKnowledgeServer creates the capability server for the knowledge base
func NewKnowledgeServer(store kb.Store, logger *zap.Logger, tracer trace.Tracer) (*Server, error) {
	return NewServer("kb", logger, tracer, KnowledgeTools(store)...)
}

type knowledgeTools struct {
	store kb.Store
}

func (kt knowledgeTools) search(ctx context.Context, input SearchInput) (string, error) {
	opts := kb.SearchOptions{Limit: defaultSearchLimit, MinSimilarity: defaultMinSimilarity}
	if input.Limit != nil {
		opts.Limit = *input.Limit
	}
	if input.MinSimilarity != nil {
		opts.MinSimilarity = *input.MinSimilarity
	}

	results, err := kt.store.Search(ctx, input.Query, opts)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n---\n\n")
		}
		source := r.SourceTitle
		if source == "" {
			source = r.SourceURL
		}
		fmt.Fprintf(&sb, "[%d] %s (%s, similarity %.2f, source_id %s)\n", i+1, source, r.SourceType, r.Similarity, r.SourceID)
		if r.SourceTitle != "" && r.SourceURL != "" {
			fmt.Fprintf(&sb, "URL: %s\n", r.SourceURL)
		}
		sb.WriteString("\n")
		sb.WriteString(r.Content)
	}
	return sb.String(), nil
}

func (kt knowledgeTools) add(ctx context.Context, input AddInput) (string, error) {
	result, err := kt.store.IngestContent(ctx, input.Content, kb.IngestOptions{Title: input.Title, Tags: input.Tags})
	if err != nil {
		return "", fmt.Errorf("failed to add content: %w", err)
	}
	return ingestOutcome(result)
}

func (kt knowledgeTools) ingest(ctx context.Context, input IngestInput) (string, error) {
	result, err := kt.store.IngestURL(ctx, input.URL, kb.IngestOptions{Title: input.Title, Tags: input.Tags})
	if err != nil {
		return "", fmt.Errorf("failed to ingest %s: %w", input.URL, err)
	}
	return ingestOutcome(result)
}

// ingestOutcome renders an ingest result as JSON. Unsuccessful results become tool errors carrying the same JSON so
// that fields like existingSourceId reach the model
func ingestOutcome(result kb.IngestResult) (string, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal ingest result: %w", err)
	}
	if !result.Success {
		return "", errors.New(string(b))
	}
	return string(b), nil
}

type sourceSummary struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	URL        string   `json:"url,omitempty"`
	SourceType string   `json:"source_type"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

func (kt knowledgeTools) list(ctx context.Context, input ListInput) (string, error) {
	limit := defaultListLimit
	if input.Limit != nil {
		limit = *input.Limit
	}
	sources, err := kt.store.ListSources(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("failed to list sources: %w", err)
	}

	summaries := make([]sourceSummary, 0, len(sources))
	for _, s := range sources {
		summaries = append(summaries, sourceSummary{
			ID:         s.ID,
			Title:      s.Title,
			URL:        s.URL,
			SourceType: s.SourceType,
			Tags:       s.Tags,
			CreatedAt:  s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal sources: %w", err)
	}
	return string(b), nil
}

func (kt knowledgeTools) delete(ctx context.Context, input DeleteInput) (string, error) {
	result, err := kt.store.DeleteSource(ctx, input.ID)
	if err != nil {
		return "", fmt.Errorf("failed to delete source %s: %w", input.ID, err)
	}
	if !result.Success {
		return "", NewToolInputError(fmt.Errorf("could not delete source %s: %s", input.ID, result.Error))
	}
	return fmt.Sprintf("Deleted source %s", input.ID), nil
}

func (kt knowledgeTools) getSourceChunks(ctx context.Context, input GetSourceChunksInput) (string, error) {
	source, err := kt.store.SourceByID(ctx, input.SourceID)
	if errors.Is(err, kb.ErrSourceNotFound) {
		return "", NewToolInputError(fmt.Errorf("no source with id %s", input.SourceID))
	} else if err != nil {
		return "", fmt.Errorf("failed to look up source %s: %w", input.SourceID, err)
	}

	chunks, err := kt.store.ChunksBySourceID(ctx, input.SourceID)
	if err != nil {
		return "", fmt.Errorf("failed to get chunks for source %s: %w", input.SourceID, err)
	}

	name := source.Title
	if name == "" {
		name = source.URL
	}
	if len(chunks) == 0 {
		return fmt.Sprintf("Source %s (%s) has no chunks.", input.SourceID, name), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Source %s (%s), %d chunks\n", input.SourceID, name, len(chunks))
	for _, c := range chunks {
		fmt.Fprintf(&sb, "\n[chunk %d]\n%s\n", c.Index, c.Content)
	}
	return sb.String(), nil
}
