package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/story-engine/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a session bundle",
		Long:  "Import a session from JSON (stdin or --file). Expects the format produced by export --bundle.",
		Args:  cobra.NoArgs,
		Run:   runImport,
	}

	cmd.Flags().String("file", "-", "Bundle file (- for stdin)")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	data, err := readInput(cmd, file)
	if err != nil {
		exitErr("read bundle", err)
	}

	var b store.Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	if err := s.Import(cmd.Context(), &b); err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"session_id":%q,"events":%d}`+"\n", b.Session.ID, len(b.Events))
}
