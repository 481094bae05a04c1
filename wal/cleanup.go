package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cleanup removes WAL files older than the retention period
func Cleanup(dir string, config Config) error {
	files := listOldWALFiles(dir, config)
	return removeFiles(files)
}

// listOldWALFiles finds WAL files older than the retention period
func listOldWALFiles(dir string, config Config) []string {
	cutoff := time.Now().AddDate(0, 0, -config.RetentionDays)
	allFiles := findAllWALFiles(dir, config.FilePrefix)
	return filterOldFiles(allFiles, cutoff)
}

// findAllWALFiles returns all WAL files in directory
func findAllWALFiles(dir, prefix string) []string {
	pattern := filepath.Join(dir, prefix+"-*.wal")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	return files
}

// filterOldFiles returns only files older than cutoff time
func filterOldFiles(files []string, cutoff time.Time) []string {
	var oldFiles []string
	for _, file := range files {
		if isOlderThan(file, cutoff) {
			oldFiles = append(oldFiles, file)
		}
	}
	return oldFiles
}

// isOlderThan checks if file modification time is before cutoff
func isOlderThan(path string, cutoff time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}

// removeFiles deletes all files in the list
func removeFiles(files []string) error {
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}
