package wal

import (
	"io"
	"os"
	"path/filepath"
	"time"
)

// Stats represents WAL statistics
type Stats struct {
	TotalFiles      int
	TotalSizeBytes  int64
	OldestFile      time.Time
	NewestFile      time.Time
	CurrentFileSize int64

	SequenceCount int64
	FirstSequence int64
	LastSequence  int64

	EntriesPerType map[EntryType]int
}

// GetStats returns current WAL statistics
func (w *WAL) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := Stats{
		LastSequence: w.sequence,
	}

	files := w.listWALFiles()
	stats.TotalFiles = len(files)
	if len(files) == 0 {
		return stats
	}

	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)
	stats.CurrentFileSize = w.currentFileSize()

	stats.FirstSequence = findFirstSequenceInFiles(files)
	if stats.LastSequence >= stats.FirstSequence {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	}
	stats.EntriesPerType = countEntryTypes(files)

	return stats
}

// GetStatsFromDir returns statistics for a WAL directory without an
// active WAL, for the audit subcommand
func GetStatsFromDir(dir string, config Config) Stats {
	stats := Stats{}

	pattern := filepath.Join(dir, config.FilePrefix+"-*.wal")
	files, err := filepath.Glob(pattern)
	if err != nil || len(files) == 0 {
		return stats
	}

	stats.TotalFiles = len(files)
	stats.TotalSizeBytes = calculateTotalSize(files)
	stats.OldestFile, stats.NewestFile = findTimeRange(files)

	stats.FirstSequence = findFirstSequenceInFiles(files)
	stats.LastSequence = findLastSequenceInFiles(files)
	if stats.LastSequence >= stats.FirstSequence {
		stats.SequenceCount = stats.LastSequence - stats.FirstSequence + 1
	}
	stats.EntriesPerType = countEntryTypes(files)

	return stats
}

func (w *WAL) currentFileSize() int64 {
	info, err := w.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func calculateTotalSize(files []string) int64 {
	var total int64
	for _, file := range files {
		if info, err := os.Stat(file); err == nil {
			total += info.Size()
		}
	}
	return total
}

func findTimeRange(files []string) (oldest, newest time.Time) {
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if oldest.IsZero() || mod.Before(oldest) {
			oldest = mod
		}
		if newest.IsZero() || mod.After(newest) {
			newest = mod
		}
	}
	return oldest, newest
}

// findFirstSequenceInFiles finds the lowest sequence across files
func findFirstSequenceInFiles(files []string) int64 {
	if len(files) == 0 {
		return 0
	}

	reader, err := NewReader(files[0])
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	entry, err := reader.Next()
	if err != nil {
		return 0
	}

	return entry.Sequence
}

// findLastSequenceInFiles finds the highest sequence across files
func findLastSequenceInFiles(files []string) int64 {
	maxSeq := int64(0)

	for _, file := range files {
		fileMax := maxSequenceInFile(file)
		if fileMax > maxSeq {
			maxSeq = fileMax
		}
	}

	return maxSeq
}

// maxSequenceInFile scans a file for its max sequence, skipping
// corrupted entries
func maxSequenceInFile(path string) int64 {
	reader, err := NewReader(path)
	if err != nil {
		return 0
	}
	defer func() { _ = reader.Close() }()

	maxSeq := int64(0)
	for {
		entry, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			continue
		}
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
	}
	return maxSeq
}

// countEntryTypes tallies entries per type across files
func countEntryTypes(files []string) map[EntryType]int {
	counts := make(map[EntryType]int)

	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			counts[entry.Type]++
		}
		_ = reader.Close()
	}

	return counts
}
