package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	ignore "github.com/sabhiram/go-gitignore"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
	maxGlobMatches   = 200
)

type ReadInput struct {
	FilePath string `json:"file_path" jsonschema:"minLength=1" jsonschema_description:"Path of the file to read, absolute or relative to the working directory"`
	Offset   *int   `json:"offset,omitempty" jsonschema:"minimum=1" jsonschema_description:"1-based line number to start reading from"`
	Limit    *int   `json:"limit,omitempty" jsonschema:"minimum=1,default=2000" jsonschema_description:"Maximum number of lines to read"`
}

type GlobInput struct {
	Pattern string `json:"pattern" jsonschema:"minLength=1" jsonschema_description:"Gitignore-style pattern such as **/*.md or docs/*.txt. A pattern without a slash, like *.md, matches at any depth; start it with / to match only at the top level"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search in, defaults to the working directory"`
}

// FileTools returns the read-only file inspection tools, resolving relative paths against root
func FileTools(root string) []Descriptor {
	ft := fileTools{root: root}
	return []Descriptor{
		NewTool("Read", "Read a text file from the local filesystem. Lines are returned numbered, starting at 1.", ft.read),
		NewTool("Glob", "Find files whose paths match a gitignore-style pattern. Unlike a shell glob, a pattern without a slash matches at any depth, so *.md also finds docs/guide.md; use /*.md for the top level only. Files ignored by the directory's .gitignore are skipped.", ft.glob),
	}
}

// NewFileServer creates a server with the read-only file inspection tools
func NewFileServer(root string, logger *zap.Logger, tracer trace.Tracer) (*Server, error) {
	return NewServer("files", logger, tracer, FileTools(root)...)
}

type fileTools struct {
	root string
}

func (ft fileTools) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(ft.root, path)
}

func (ft fileTools) read(ctx context.Context, input ReadInput) (string, error) {
	path := ft.resolve(input.FilePath)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", NewToolInputError(fmt.Errorf("file does not exist: %s", input.FilePath))
	} else if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", input.FilePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", input.FilePath, err)
	}
	if info.IsDir() {
		return "", NewToolInputError(fmt.Errorf("%s is a directory, use Glob to list files", input.FilePath))
	}

	offset := 1
	if input.Offset != nil {
		offset = *input.Offset
	}
	limit := defaultReadLimit
	if input.Limit != nil {
		limit = *input.Limit
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	written := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		lineNum++
		if lineNum < offset {
			continue
		}
		if written >= limit {
			fmt.Fprintf(&sb, "... (truncated after %d lines, use offset to read more)\n", limit)
			break
		}
		line := scanner.Text()
		line = truncateLine(line, maxLineLength)
		fmt.Fprintf(&sb, "%6d\t%s\n", lineNum, line)
		written++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", input.FilePath, err)
	}
	if written == 0 {
		if lineNum == 0 {
			return fmt.Sprintf("%s is empty", input.FilePath), nil
		}
		return "", NewToolInputError(fmt.Errorf("offset %d is past the end of %s, which has %d lines", offset, input.FilePath, lineNum))
	}
	return sb.String(), nil
}

func (ft fileTools) glob(ctx context.Context, input GlobInput) (string, error) {
	base := ft.root
	if input.Path != "" {
		base = ft.resolve(input.Path)
	}
	info, err := os.Stat(base)
	if errors.Is(err, fs.ErrNotExist) {
		return "", NewToolInputError(fmt.Errorf("directory does not exist: %s", input.Path))
	} else if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", base, err)
	}
	if !info.IsDir() {
		return "", NewToolInputError(fmt.Errorf("%s is not a directory", input.Path))
	}

	matcher := ignore.CompileIgnoreLines(input.Pattern)
	ignored, err := ignore.CompileIgnoreFile(filepath.Join(base, ".gitignore"))
	if err != nil {
		ignored = nil
	}

	var matches []string
	truncated := false
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped rather than failing the whole search
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, err := filepath.Rel(base, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" || (ignored != nil && ignored.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored != nil && ignored.MatchesPath(rel) {
			return nil
		}
		if matcher.MatchesPath(rel) {
			if len(matches) == maxGlobMatches {
				truncated = true
				return filepath.SkipAll
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to search %s: %w", base, err)
	}

	if len(matches) == 0 {
		return "No files found.", nil
	}
	sort.Strings(matches)
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n... (results truncated at %d files)", maxGlobMatches)
	}
	return out, nil
}

// truncateLine cuts line to at most n bytes without splitting a UTF-8 sequence
func truncateLine(line string, n int) string {
	if len(line) <= n {
		return line
	}
	for n > 0 && !utf8.RuneStart(line[n]) {
		n--
	}
	return line[:n] + "..."
}
