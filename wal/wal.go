// Package wal provides an append-only audit log of every event received,
// decision finalized, and enforcement action taken. Entries are JSON lines,
// rotated by size and cleaned up by retention.
package wal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryReceived  EntryType = "received"
	EntryDecided   EntryType = "decided"
	EntryEnforcing EntryType = "enforcing"
	EntryEnforced  EntryType = "enforced"
	EntryFailed    EntryType = "failed"
	EntrySkipped   EntryType = "skipped"
)

// Entry represents a single WAL entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	EventID   string          `json:"event_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// Config controls file naming, rotation and retention
type Config struct {
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns sensible WAL defaults
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "showcased",
		MaxFileSize:   64 * 1024 * 1024,
		RetentionDays: 30,
	}
}

// WAL provides write-ahead logging for audit and recovery
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a WAL in the specified directory with defaults
func Open(dir string) (*WAL, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig creates or opens a WAL with explicit configuration
func OpenWithConfig(dir string, config Config) (*WAL, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		dir:    dir,
		config: config,
	}

	w.loadSequence()

	if err := w.openNewFile(); err != nil {
		return nil, err
	}

	return w, nil
}

// openNewFile opens a fresh timestamped WAL file for appending
func (w *WAL) openNewFile() error {
	filename := fmt.Sprintf("%s-%s.wal", w.config.FilePrefix, time.Now().UTC().Format("20060102-150405.000000000"))
	path := filepath.Join(w.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- path built from configured dir
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}

	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, eventID, userID string, data interface{}) error {
	return w.append(entryType, eventID, userID, data, nil)
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, eventID, userID string, data interface{}, errToLog error) error {
	return w.append(entryType, eventID, userID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, eventID, userID string, data interface{}, errToLog error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	entry := Entry{
		Timestamp: time.Now(),
		Sequence:  w.sequence,
		Type:      entryType,
		EventID:   eventID,
		UserID:    userID,
		Data:      jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	if err := w.writeEntry(entry); err != nil {
		return err
	}

	if w.shouldRotate() {
		return w.rotate()
	}
	return nil
}

// writeEntry writes a single entry and flushes for durability
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := w.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

// shouldRotate reports whether the current file passed the size limit
func (w *WAL) shouldRotate() bool {
	if w.config.MaxFileSize <= 0 {
		return false
	}
	info, err := w.file.Stat()
	if err != nil {
		return false
	}
	return info.Size() >= w.config.MaxFileSize
}

// rotate closes the current file and starts a new one; the sequence
// counter continues across files
func (w *WAL) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close before rotation: %w", err)
	}
	return w.openNewFile()
}

// loadSequence resumes the sequence counter from existing WAL files
func (w *WAL) loadSequence() {
	files := w.listWALFiles()
	w.sequence = findLastSequenceInFiles(files)
}

// listWALFiles returns this WAL's files sorted oldest first
func (w *WAL) listWALFiles() []string {
	pattern := filepath.Join(w.dir, w.config.FilePrefix+"-*.wal")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- replay of operator-specified WAL file
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays WAL entries newer than since through handler
func Replay(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	pattern := filepath.Join(dir, config.FilePrefix+"-*.wal")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("failed to list WAL files: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}

	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}

	return nil
}
