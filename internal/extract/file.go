package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FileExtractor reads local files given as file:// URLs or plain paths
type FileExtractor struct{}

func (FileExtractor) Extract(ctx context.Context, location string) (*Content, error) {
	p := location
	if strings.HasPrefix(location, "file://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, ErrUnsupported
		}
		p = u.Path
	} else if strings.Contains(location, "://") {
		return nil, ErrUnsupported
	}

	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return nil, ErrUnsupported
	}

	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%s is not a text file", p)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	content := &Content{
		Title:      filepath.Base(p),
		Content:    string(b),
		SourceType: "file",
		URL:        "file://" + filepath.ToSlash(abs),
	}

	switch strings.ToLower(filepath.Ext(p)) {
	case ".html", ".htm":
		title, text, err := HTMLToText(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", p, err)
		}
		if title != "" {
			content.Title = title
		}
		content.Content = text
	}
	return content, nil
}
