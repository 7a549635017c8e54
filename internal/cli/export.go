package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export <session-id>",
		Short: "Export the current chapter draft",
		Long: "Write the latest narrative draft as plain text. With --bundle, export the whole " +
			"session (events, memory, drafts and audit log) as JSON for import.",
		Args: cobra.ExactArgs(1),
		Run:  runExport,
	}

	cmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().Bool("bundle", false, "Export the full session as JSON")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")
	bundle, _ := cmd.Flags().GetBool("bundle")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	var data []byte
	if bundle {
		b, err := s.Export(cmd.Context(), args[0])
		if err != nil {
			exitErr("export", err)
		}
		data = marshalIndent(b)
	} else {
		drafts, err := s.NarrativeDrafts(cmd.Context(), args[0])
		if err != nil {
			exitErr("export", err)
		}
		if len(drafts) == 0 {
			exitErr("export", fmt.Errorf("session %s has no narrative draft", args[0]))
		}
		data = []byte(drafts[len(drafts)-1].ChapterText + "\n")
	}

	if output == "" {
		cmd.OutOrStdout().Write(data)
		return
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		exitErr("write export", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"path":%q,"bytes":%d}`+"\n", output, len(data))
}
