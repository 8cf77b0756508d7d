package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"go.uber.org/zap"
)

// ErrInterrupted is returned by a LineReader when the user interrupts the prompt
var ErrInterrupted = errors.New("interrupted")

// LineReader reads one line of input at a time. It returns io.EOF at end of input
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// ScannerReader reads lines from a non-interactive source. Prompts are not shown
type ScannerReader struct {
	scanner *bufio.Scanner
}

func NewScannerReader(r io.Reader) *ScannerReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ScannerReader{scanner: scanner}
}

func (sr *ScannerReader) ReadLine(prompt string) (string, error) {
	if sr.scanner.Scan() {
		return strings.TrimSuffix(sr.scanner.Text(), "\r"), nil
	}
	if err := sr.scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return "", io.EOF
}

func (sr *ScannerReader) Close() error {
	return nil
}

// LinerReader reads lines from a terminal with line editing and an input history that is persisted across sessions
type LinerReader struct {
	state       *liner.State
	historyPath string
	logger      *zap.Logger
}

// NewLinerReader takes over the terminal until Close is called. historyPath may be empty to disable persistence
func NewLinerReader(historyPath string, logger *zap.Logger) *LinerReader {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)

	lr := &LinerReader{
		state:       state,
		historyPath: historyPath,
		logger:      logger,
	}
	lr.loadHistory()
	return lr
}

func (lr *LinerReader) loadHistory() {
	if lr.historyPath == "" {
		return
	}
	f, err := os.Open(lr.historyPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	} else if err != nil {
		lr.logger.Warn("failed to open input history", zap.String("path", lr.historyPath), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := lr.state.ReadHistory(f); err != nil {
		lr.logger.Warn("failed to read input history", zap.String("path", lr.historyPath), zap.Error(err))
	}
}

func (lr *LinerReader) ReadLine(prompt string) (string, error) {
	line, err := lr.state.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrInterrupted
	} else if err != nil {
		return "", err
	}
	if strings.TrimSpace(line) != "" {
		lr.state.AppendHistory(line)
	}
	return line, nil
}

// Close saves the input history and restores the terminal
func (lr *LinerReader) Close() error {
	lr.saveHistory()
	return lr.state.Close()
}

func (lr *LinerReader) saveHistory() {
	if lr.historyPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(lr.historyPath), 0o700); err != nil {
		lr.logger.Warn("failed to create input history directory", zap.Error(err))
		return
	}
	f, err := os.OpenFile(lr.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		lr.logger.Warn("failed to open input history for writing", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := lr.state.WriteHistory(f); err != nil {
		lr.logger.Warn("failed to write input history", zap.Error(err))
	}
}
