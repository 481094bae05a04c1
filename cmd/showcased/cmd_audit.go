package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkarls/showcased/wal"
)

var (
	auditDir    string
	auditSince  time.Duration
	auditUserID string
	auditStats  bool
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Replay the enforcement audit log",
	Long: `Replay the append-only audit log and print enforcement history.

Every event the bot received, every decision it made and every action it
took is recorded in the audit log. This command replays those records as
JSON lines for inspection, optionally filtered by user and time window.`,
	Example: `  showcased audit --wal /var/lib/showcased/wal               # full history
  showcased audit --wal ./wal --since 24h                    # last day
  showcased audit --wal ./wal --user user-123                # one user
  showcased audit --wal ./wal --stats                        # summary only`,
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditDir, "wal", "./wal", "Audit log directory")
	auditCmd.Flags().DurationVar(&auditSince, "since", 0, "Only replay entries newer than this (0 = all)")
	auditCmd.Flags().StringVar(&auditUserID, "user", "", "Only replay entries for this user ID")
	auditCmd.Flags().BoolVar(&auditStats, "stats", false, "Print summary statistics instead of entries")
}

func runAudit(cmd *cobra.Command, args []string) error {
	config := wal.DefaultConfig()

	if auditStats {
		return printAuditStats(config)
	}

	cutoff := time.Time{}
	if auditSince > 0 {
		cutoff = time.Now().Add(-auditSince)
	}

	enc := json.NewEncoder(os.Stdout)
	return wal.Replay(auditDir, config, cutoff, func(entry *wal.Entry) error {
		if auditUserID != "" && entry.UserID != auditUserID {
			return nil
		}
		return enc.Encode(entry)
	})
}

func printAuditStats(config wal.Config) error {
	stats := wal.GetStatsFromDir(auditDir, config)

	fmt.Printf("📊 Audit log: %s\n", auditDir)
	fmt.Printf("   Files: %d (%.1f MB)\n", stats.TotalFiles, float64(stats.TotalSizeBytes)/(1024*1024))
	if stats.TotalFiles > 0 {
		fmt.Printf("   Range: %s to %s\n",
			stats.OldestFile.Format(time.RFC3339),
			stats.NewestFile.Format(time.RFC3339))
		fmt.Printf("   Sequences: %d to %d\n", stats.FirstSequence, stats.LastSequence)
	}
	if len(stats.EntriesPerType) > 0 {
		fmt.Println("   Entries:")
		for _, entryType := range []wal.EntryType{
			wal.EntryReceived, wal.EntryDecided, wal.EntryEnforcing,
			wal.EntryEnforced, wal.EntryFailed, wal.EntrySkipped,
		} {
			if count := stats.EntriesPerType[entryType]; count > 0 {
				fmt.Printf("     %-10s %d\n", entryType, count)
			}
		}
	}
	return nil
}
