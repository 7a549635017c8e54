package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/transcript"
)

func init() {
	cmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print the session transcript",
		Long: "Print the budgeted transcript with agent colors. User lines are neutral, and a " +
			"separator marks where summarized history ends.",
		Args: cobra.ExactArgs(1),
		Run:  runTranscript,
	}

	cmd.Flags().Bool("full", false, "Render every event, ignoring the character budget")
	cmd.Flags().Bool("plain", false, "Disable colors")
	cmd.Flags().Bool("json", false, "Output the transcript as JSON")

	RootCmd.AddCommand(cmd)
}

func runTranscript(cmd *cobra.Command, args []string) {
	full, _ := cmd.Flags().GetBool("full")
	plain, _ := cmd.Flags().GetBool("plain")
	asJSON, _ := cmd.Flags().GetBool("json")

	s, eng := openEngine()
	defer s.Close()

	d, err := eng.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("transcript", err)
	}

	lines := d.Transcript.Lines
	if full {
		lines = transcript.Lines(d.Events, transcript.Options{
			LastSummarizedPromptIndex: d.Session.LastSummarizedPromptIndex,
			AgentNames:                d.Session.Config.AgentNames,
		})
	}

	if asJSON {
		printJSON(cmd, lines)
		return
	}
	renderLines(cmd.OutOrStdout(), lines, plain)
}

func renderLines(w io.Writer, lines []model.Line, plain bool) {
	styles := make(map[string]lipgloss.Style, len(transcript.Palette))
	for class, hex := range transcript.Palette {
		styles[class] = lipgloss.NewStyle().Foreground(lipgloss.Color(hex))
	}

	for _, l := range lines {
		if plain {
			fmt.Fprintln(w, l.Text)
			continue
		}
		style, ok := styles[l.ColorClass]
		if !ok {
			style = styles[transcript.ClassNeutral]
		}
		if l.Role == string(model.RoleAgent) {
			style = style.Bold(true)
		}
		fmt.Fprintln(w, style.Render(l.Text))
	}
}
