// Package extract turns a URL or path into plain text suitable for the knowledge base.
package extract

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnsupported is returned by an Extractor that does not handle the given location
var ErrUnsupported = errors.New("unsupported source")

// Content is the text extracted from a single source
type Content struct {
	Title      string
	Content    string
	SourceType string
	URL        string
}

// Extractor fetches and flattens the content behind a location. It returns ErrUnsupported when the location is not
// one it understands, so that extractors can be chained
type Extractor interface {
	Extract(ctx context.Context, location string) (*Content, error)
}

// Chain tries each extractor in order and returns the result of the first one that supports the location
type Chain []Extractor

func (c Chain) Extract(ctx context.Context, location string) (*Content, error) {
	for _, e := range c {
		content, err := e.Extract(ctx, location)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if content == nil || content.Content == "" {
			return nil, fmt.Errorf("no content could be extracted from %s", location)
		}
		return content, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, location)
}
