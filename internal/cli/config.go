package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/story-engine/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or write the configuration file",
}

func init() {
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		Run:   runConfigShow,
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a YAML file",
		Long:  "Write the effective configuration (defaults, file and environment) to path. The API key is never written.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(show, initCmd)
	RootCmd.AddCommand(configCmd)
}

// redacted copies cfg without secrets.
func redacted(c *config.Config) *config.Config {
	out := *c
	out.Generation.APIKey = ""
	return &out
}

func runConfigShow(cmd *cobra.Command, args []string) {
	b, err := yaml.Marshal(redacted(cfg))
	if err != nil {
		exitErr("encode config", err)
	}
	cmd.OutOrStdout().Write(b)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")

	path := filepath.Join(filepath.Dir(config.DefaultDBPath()), "config.yaml")
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !force {
		exitErr("config init", fmt.Errorf("%s exists (use --force to overwrite)", path))
	}

	if err := redacted(cfg).Save(path); err != nil {
		exitErr("config init", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"path":%q}`+"\n", path)
}
