package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkarls/showcased/storage"
)

var (
	strikesStorageDir string
	strikesMin        int
)

// strikesCmd represents the strikes command
var strikesCmd = &cobra.Command{
	Use:   "strikes",
	Short: "Report users with strikes",
	Long: `List tracked users and their strike counts from the state store.

Useful for moderators reviewing enforcement history or deciding whether
to reset a user manually.`,
	Example: `  showcased strikes --storage /var/lib/showcased       # everyone on record
  showcased strikes --storage ./data --min 2           # two strikes or more`,
	RunE: runStrikes,
}

func init() {
	rootCmd.AddCommand(strikesCmd)

	strikesCmd.Flags().StringVar(&strikesStorageDir, "storage", "./data", "State store directory")
	strikesCmd.Flags().IntVar(&strikesMin, "min", 1, "Minimum strike count to include")
}

func runStrikes(cmd *cobra.Command, args []string) error {
	store, err := storage.NewStateStore(strikesStorageDir)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer func() { _ = store.Close() }()

	records := store.ListUsers(strikesMin)
	if len(records) == 0 {
		fmt.Printf("No users with %d or more strikes\n", strikesMin)
		return nil
	}

	fmt.Printf("%-24s %8s %12s %s\n", "USER", "STRIKES", "COOLDOWN", "LAST VALID POST")
	for _, record := range records {
		state, err := store.Get(record.UserID)
		if err != nil {
			return err
		}

		cooldown := "-"
		if state.InCooldown(time.Now()) {
			cooldown = time.Until(*state.CooldownUntil).Round(time.Second).String()
		}
		lastPost := "-"
		if state.LastValidPostAt != nil {
			lastPost = state.LastValidPostAt.Format(time.RFC3339)
		}

		fmt.Printf("%-24s %8d %12s %s\n", record.UserID, record.StrikeCount, cooldown, lastPost)
	}

	fmt.Printf("\n%d user(s), store revision %d\n", len(records), store.CurrentRevision())
	return nil
}
