package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/story-engine/internal/engine"
	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and drive story sessions",
}

func init() {
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		Args:  cobra.NoArgs,
		Run:   runCreate,
	}

	get := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show the full session view",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		Run:   runList,
	}
	list.Flags().StringSlice("state", nil, "Filter by lifecycle state (repeatable)")
	list.Flags().IntP("limit", "l", 20, "Max results")
	list.Flags().Bool("ids-only", false, "Only output session ids")

	configure := &cobra.Command{
		Use:   "configure <session-id>",
		Short: "Replace the world, chapter and agent roster",
		Long: "Replace the Tab1 configuration of an unlocked session. Read a JSON document with --file " +
			"(- for stdin) or build one from flags.",
		Args: cobra.ExactArgs(1),
		Run:  runConfigure,
	}
	configure.Flags().String("file", "", "JSON configuration file (- for stdin)")
	configure.Flags().String("world", "", "World description")
	configure.Flags().String("chapter", "", "Chapter setup")
	configure.Flags().IntSlice("slots", []int{1}, "Selected agent slots")
	configure.Flags().StringToString("name", nil, "Agent name by slot (1=Mara)")
	configure.Flags().StringToString("identity", nil, "Agent identity by slot (1=\"A diver\")")

	lock := &cobra.Command{
		Use:   "lock <session-id>",
		Short: "Lock the configuration and open the chapter",
		Args:  cobra.ExactArgs(1),
		Run:   transitionRunner("lock", (*engine.Engine).Lock),
	}

	prompt := &cobra.Command{
		Use:   "prompt <session-id> <text>",
		Short: "Direct a prompt at one agent",
		Args:  cobra.ExactArgs(2),
		Run:   runPrompt,
	}
	prompt.Flags().IntP("agent", "a", 1, "Agent slot to address")

	end := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End the chapter",
		Args:  cobra.ExactArgs(1),
		Run:   transitionRunner("end chapter", (*engine.Engine).EndChapter),
	}

	narrativeAgent := &cobra.Command{
		Use:   "narrative-agent <session-id> [text]",
		Short: "Save the narrative agent definition",
		Long:  "Save the narrative agent definition. The text comes from the argument, or from --file.",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runNarrativeAgent,
	}
	narrativeAgent.Flags().String("file", "", "Read the definition from a file (- for stdin)")

	build := &cobra.Command{
		Use:   "build <session-id>",
		Short: "Build a narrative draft from an ended chapter",
		Args:  cobra.ExactArgs(1),
		Run:   transitionRunner("build narrative", (*engine.Engine).BuildNarrative),
	}

	reset := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Discard the session history and unlock it",
		Long:  "Discard events, memory blocks and drafts and return the session to an empty draft. Irreversible.",
		Args:  cobra.ExactArgs(1),
		Run:   runReset,
	}
	reset.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	sessionCmd.AddCommand(create, get, list, configure, lock, prompt, end, narrativeAgent, build, reset)
	RootCmd.AddCommand(sessionCmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	s, eng := openEngine()
	defer s.Close()

	d, err := eng.Create(cmd.Context())
	if err != nil {
		exitErr("create", err)
	}
	printJSON(cmd, d)
}

func runGet(cmd *cobra.Command, args []string) {
	s, eng := openEngine()
	defer s.Close()

	d, err := eng.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	printJSON(cmd, d)
}

func runList(cmd *cobra.Command, args []string) {
	rawStates, _ := cmd.Flags().GetStringSlice("state")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	states, err := parseStates(rawStates)
	if err != nil {
		exitErr("list", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sessions, err := s.ListSessions(cmd.Context(), store.ListParams{States: states, Limit: limit})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, sess := range sessions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sess.ID, sess.State)
		}
		return
	}
	printJSON(cmd, sessions)
}

func runConfigure(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	var tab1 model.Config
	if file != "" {
		data, err := readInput(cmd, file)
		if err != nil {
			exitErr("read config", err)
		}
		if err := json.Unmarshal(data, &tab1); err != nil {
			exitErr("parse json", err)
		}
	} else {
		var err error
		tab1, err = configFromFlags(cmd)
		if err != nil {
			exitErr("configure", err)
		}
	}

	s, eng := openEngine()
	defer s.Close()

	d, err := eng.Configure(cmd.Context(), args[0], tab1)
	if err != nil {
		exitErr("configure", err)
	}
	printJSON(cmd, d)
}

func runPrompt(cmd *cobra.Command, args []string) {
	slot, _ := cmd.Flags().GetInt("agent")

	s, eng := openEngine()
	defer s.Close()

	d, err := eng.SubmitPrompt(cmd.Context(), args[0], slot, args[1])
	if err != nil {
		exitErr("prompt", err)
	}
	printJSON(cmd, d)
}

func runNarrativeAgent(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	var text string
	switch {
	case len(args) == 2:
		text = args[1]
	case file != "":
		data, err := readInput(cmd, file)
		if err != nil {
			exitErr("read definition", err)
		}
		text = string(data)
	default:
		exitErr("narrative-agent", fmt.Errorf("definition text or --file is required"))
	}

	s, eng := openEngine()
	defer s.Close()

	d, err := eng.SaveNarrativeAgent(cmd.Context(), args[0], text)
	if err != nil {
		exitErr("narrative-agent", err)
	}
	printJSON(cmd, d)
}

func runReset(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes && !confirm(cmd, fmt.Sprintf("Reset session %s? All events, memory and drafts are discarded. [y/N] ", args[0])) {
		fmt.Fprintln(cmd.OutOrStdout(), `{"ok":false,"reason":"cancelled"}`)
		return
	}

	s, eng := openEngine()
	defer s.Close()

	d, err := eng.Reset(cmd.Context(), args[0])
	if err != nil {
		exitErr("reset", err)
	}
	printJSON(cmd, d)
}

// transitionRunner runs a bodiless lifecycle operation.
func transitionRunner(label string, op func(*engine.Engine, context.Context, string) (*model.Detail, error)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		s, eng := openEngine()
		defer s.Close()

		d, err := op(eng, cmd.Context(), args[0])
		if err != nil {
			exitErr(label, err)
		}
		printJSON(cmd, d)
	}
}

func configFromFlags(cmd *cobra.Command) (model.Config, error) {
	world, _ := cmd.Flags().GetString("world")
	chapter, _ := cmd.Flags().GetString("chapter")
	slots, _ := cmd.Flags().GetIntSlice("slots")
	names, _ := cmd.Flags().GetStringToString("name")
	identities, _ := cmd.Flags().GetStringToString("identity")

	byName, err := slotMap(names)
	if err != nil {
		return model.Config{}, fmt.Errorf("--name: %w", err)
	}
	byIdentity, err := slotMap(identities)
	if err != nil {
		return model.Config{}, fmt.Errorf("--identity: %w", err)
	}
	return model.Config{
		WorldText:               world,
		ChapterText:             chapter,
		SelectedAgentSlots:      slots,
		AgentNames:              byName,
		AgentIdentityTextBySlot: byIdentity,
	}, nil
}

func slotMap(in map[string]string) (map[int]string, error) {
	out := make(map[int]string, len(in))
	for k, v := range in {
		slot, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("slot %q is not a number", k)
		}
		out[slot] = v
	}
	return out, nil
}

func parseStates(raw []string) ([]model.State, error) {
	states := make([]model.State, 0, len(raw))
	for _, r := range raw {
		st := model.State(strings.ToUpper(strings.TrimSpace(r)))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown state %q", r)
		}
		states = append(states, st)
	}
	return states, nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprint(cmd.ErrOrStderr(), question)
	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
