package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Long: "Show row counts for sessions and their logs. Sessions left in LOCKING, SUMMARIZING, " +
			"NARRATING or RESETTING are reported as stuck; run recover to repair them.",
		Args: cobra.NoArgs,
		Run:  runStats,
	}

	cmd.Flags().Bool("stuck", false, "Only print the number of stuck sessions")

	RootCmd.AddCommand(cmd)
}

type statsReport struct {
	*store.Stats
	StuckSessions int `json:"stuck_sessions"`
}

func runStats(cmd *cobra.Command, args []string) {
	stuckOnly, _ := cmd.Flags().GetBool("stuck")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	stats, err := s.Stats(cmd.Context(), getDBPath())
	if err != nil {
		exitErr("stats", err)
	}

	stuck := stuckSessions(stats.SessionsByState)
	if stuckOnly {
		fmt.Fprintln(cmd.OutOrStdout(), stuck)
		return
	}
	printJSON(cmd, statsReport{Stats: stats, StuckSessions: stuck})
}

// stuckSessions counts sessions in a transient state.
func stuckSessions(byState []store.StateStats) int {
	n := 0
	for _, st := range byState {
		if model.State(st.State).Transient() {
			n += st.Count
		}
	}
	return n
}
