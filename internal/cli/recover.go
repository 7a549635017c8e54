package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Repair sessions interrupted mid-transition",
		Args:  cobra.NoArgs,
		Run:   runRecover,
	}

	RootCmd.AddCommand(cmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	s, eng := openEngine()
	defer s.Close()

	repaired, err := eng.Recover(cmd.Context())
	if err != nil {
		exitErr("recover", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"recovered":%d}`+"\n", repaired)
}
