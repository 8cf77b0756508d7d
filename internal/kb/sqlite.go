package kb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/cchalm/kb-assistant/internal/extract"
)

//go:embed migrations/*.sql
var migrations embed.FS

// maxPrefilterTerms bounds the number of LIKE clauses used to narrow the candidate chunks of a search
const maxPrefilterTerms = 16

// SQLiteStore implements Store on a single SQLite file with lexical search
type SQLiteStore struct {
	db        *sql.DB
	extractor extract.Extractor
	chunkSize int
	logger    *zap.Logger
	now       func() time.Time
}

// OpenSQLiteStore opens (creating if needed) the store at path and migrates it to the latest schema. Use ":memory:"
// for a throwaway store
func OpenSQLiteStore(ctx context.Context, path string, extractor extract.Extractor, logger *zap.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and pragmas are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{
		db:        db,
		extractor: extractor,
		chunkSize: defaultChunkSize,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return backfillLowercase(ctx, db)
}

// backfillLowercase fills content_lower for chunks written before the column existed. SQLite's lower() only folds
// ASCII, so the folding happens here
func backfillLowercase(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT source_id, chunk_index, content FROM chunks WHERE content_lower IS NULL")
	if err != nil {
		return fmt.Errorf("failed to query chunks to backfill: %w", err)
	}
	type pending struct {
		sourceID string
		index    int
		lower    string
	}
	var todo []pending
	for rows.Next() {
		var p pending
		var content string
		if err := rows.Scan(&p.sourceID, &p.index, &content); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan chunk to backfill: %w", err)
		}
		p.lower = strings.ToLower(content)
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read chunks to backfill: %w", err)
	}

	for _, p := range todo {
		_, err := db.ExecContext(ctx, "UPDATE chunks SET content_lower = ? WHERE source_id = ? AND chunk_index = ?",
			p.lower, p.sourceID, p.index)
		if err != nil {
			return fmt.Errorf("failed to backfill chunk %d of %s: %w", p.index, p.sourceID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	queryTerms := terms(query)
	if len(queryTerms) == 0 || opts.Limit <= 0 {
		return []SearchResult{}, nil
	}

	var clauses []string
	var args []any
	for _, t := range prefilterTerms(queryTerms, maxPrefilterTerms) {
		clauses = append(clauses, "c.content_lower LIKE ?")
		args = append(args, "%"+t+"%")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.source_type, COALESCE(s.title, ''), COALESCE(s.url, ''), c.content
		FROM chunks c JOIN sources s ON s.id = c.source_id
		WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.SourceID, &r.SourceType, &r.SourceTitle, &r.SourceURL, &r.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		r.Similarity = similarity(queryTerms, r.Content)
		if r.Similarity >= opts.MinSimilarity && r.Similarity > 0 {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// prefilterTerms picks at most n query terms for the LIKE prefilter, longest first with ties broken alphabetically,
// so the same query always selects the same candidates
func prefilterTerms(queryTerms map[string]float64, n int) []string {
	picked := make([]string, 0, len(queryTerms))
	for t := range queryTerms {
		picked = append(picked, t)
	}
	sort.Slice(picked, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(picked[i]), utf8.RuneCountInString(picked[j])
		if li != lj {
			return li > lj
		}
		return picked[i] < picked[j]
	})
	if len(picked) > n {
		picked = picked[:n]
	}
	return picked
}

func (s *SQLiteStore) IngestURL(ctx context.Context, url string, opts IngestOptions) (IngestResult, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sources WHERE url = ?", url).Scan(&existing)
	if err == nil {
		return IngestResult{Error: fmt.Sprintf("%s: %s", ErrAlreadyExists, url), ExistingSourceID: existing}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return IngestResult{}, fmt.Errorf("failed to look up source: %w", err)
	}

	if s.extractor == nil {
		return IngestResult{Error: "no extractors are configured"}, nil
	}
	content, err := s.extractor.Extract(ctx, url)
	if err != nil {
		s.logger.Info("extraction failed", zap.String("url", url), zap.Error(err))
		return IngestResult{Error: fmt.Sprintf("failed to extract content: %v", err)}, nil
	}

	title := opts.Title
	if title == "" {
		title = content.Title
	}
	return s.insert(ctx, content.Content, title, url, content.SourceType, opts.Tags)
}

func (s *SQLiteStore) IngestContent(ctx context.Context, content string, opts IngestOptions) (IngestResult, error) {
	if strings.TrimSpace(content) == "" {
		return IngestResult{Error: "content is empty"}, nil
	}
	return s.insert(ctx, content, opts.Title, "", "text", opts.Tags)
}

func (s *SQLiteStore) insert(ctx context.Context, content, title, url, sourceType string, tags []string) (IngestResult, error) {
	sum := sha256.Sum256([]byte(content))
	hash := hex.EncodeToString(sum[:])

	var existing string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM sources WHERE content_hash = ?", hash).Scan(&existing)
	if err == nil {
		return IngestResult{Error: fmt.Sprintf("%s: identical content", ErrAlreadyExists), ExistingSourceID: existing}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return IngestResult{}, fmt.Errorf("failed to look up content: %w", err)
	}

	chunks := splitIntoChunks(content, s.chunkSize)
	if len(chunks) == 0 {
		return IngestResult{Error: "content is empty"}, nil
	}

	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx,
		"INSERT INTO sources (id, title, url, source_type, tags, content_hash, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, nullIfEmpty(title), nullIfEmpty(url), sourceType, string(tagsJSON), hash, s.now().UnixNano())
	if err != nil {
		return IngestResult{}, fmt.Errorf("failed to insert source: %w", err)
	}
	for i, chunk := range chunks {
		_, err = tx.ExecContext(ctx, "INSERT INTO chunks (source_id, chunk_index, content, content_lower) VALUES (?, ?, ?, ?)",
			id, i, chunk, strings.ToLower(chunk))
		if err != nil {
			return IngestResult{}, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("failed to commit source: %w", err)
	}

	s.logger.Info("ingested source",
		zap.String("source_id", id),
		zap.String("source_type", sourceType),
		zap.Int("chunks", len(chunks)),
	)
	return IngestResult{Success: true, SourceID: id, ChunksCount: len(chunks)}, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context, limit int) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(title, ''), COALESCE(url, ''), source_type, tags, created_at
		FROM sources ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	sources := []Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}
	return sources, nil
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) (DeleteResult, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return DeleteResult{Error: fmt.Sprintf("%s: %s", ErrSourceNotFound, id)}, nil
	}
	return DeleteResult{Success: true}, nil
}

func (s *SQLiteStore) ChunksBySourceID(ctx context.Context, id string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, chunk_index, content FROM chunks WHERE source_id = ? ORDER BY chunk_index", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	chunks := []Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.SourceID, &c.Index, &c.Content); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}
	return chunks, nil
}

func (s *SQLiteStore) SourceByID(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(title, ''), COALESCE(url, ''), source_type, tags, created_at
		FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return src, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSource(row scanner) (*Source, error) {
	var src Source
	var tags string
	var createdAt int64
	err := row.Scan(&src.ID, &src.Title, &src.URL, &src.SourceType, &tags, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	} else if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &src.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags of source %s: %w", src.ID, err)
	}
	src.CreatedAt = time.Unix(0, createdAt)
	return &src, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
