package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "artifacts <session-id>",
		Short: "List the generation audit log of a session",
		Args:  cobra.ExactArgs(1),
		Run:   runArtifacts,
	}

	cmd.Flags().String("purpose", "", "Filter by purpose: lock_summary, character, turn_summary, narrative")
	cmd.Flags().IntP("limit", "l", 100, "Max results (negative for all)")
	cmd.Flags().Bool("raw", false, "Include raw input and output")

	RootCmd.AddCommand(cmd)
}

func runArtifacts(cmd *cobra.Command, args []string) {
	purpose, _ := cmd.Flags().GetString("purpose")
	limit, _ := cmd.Flags().GetInt("limit")
	raw, _ := cmd.Flags().GetBool("raw")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	artifacts, err := s.Artifacts(cmd.Context(), store.ArtifactParams{
		SessionID: args[0],
		Purpose:   model.Purpose(purpose),
		Limit:     limit,
	})
	if err != nil {
		exitErr("artifacts", err)
	}

	if !raw {
		for i := range artifacts {
			artifacts[i].RawInput = ""
			artifacts[i].RawOutput = ""
		}
	}
	printJSON(cmd, artifacts)
}
