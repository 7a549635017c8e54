// Package cli implements the story-engine CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/story-engine/internal/config"
	"github.com/rcliao/story-engine/internal/engine"
	"github.com/rcliao/story-engine/internal/generate"
	"github.com/rcliao/story-engine/internal/logging"
	"github.com/rcliao/story-engine/internal/memory"
	"github.com/rcliao/story-engine/internal/model"
	"github.com/rcliao/story-engine/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "story-engine",
	Short: "Multi-agent story-writing sessions",
	Long: "Run collaborative story-writing sessions: configure a world and chapter, " +
		"prompt up to seven character agents, then build a narrative draft. SQLite-backed, single binary.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFormat != "" {
			cfg.Log.Format = logFormat
		}
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $STORY_ENGINE_DB or ~/.story-engine/story.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or console")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Database.Path
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func newEngine(st store.Store) (*engine.Engine, error) {
	models := generate.Models{
		Character: cfg.Generation.Models.Character,
		Summary:   cfg.Generation.Models.Summary,
		Narrative: cfg.Generation.Models.Narrative,
	}
	gen, err := generate.New(generate.Settings{
		Provider:        cfg.Generation.Provider,
		ExternalEnabled: cfg.Generation.ExternalEnabled,
		APIKey:          cfg.Generation.APIKey,
		BaseURL:         cfg.Generation.BaseURL,
		Timeout:         cfg.GenerationTimeout(),
	})
	if err != nil {
		return nil, err
	}
	sum, err := memory.NewSummarizer(cfg.Summary.Mode, gen, models)
	if err != nil {
		return nil, err
	}
	return engine.New(st, gen, sum, engine.Config{
		Limits: model.Limits{
			TextMaxChars: cfg.Limits.TextMaxChars,
			NameMaxChars: cfg.Limits.NameMaxChars,
		},
		TranscriptBudget:    cfg.Limits.TranscriptBudget,
		SummaryEveryPrompts: cfg.SummaryEvery(),
		GenerationTimeout:   cfg.GenerationTimeout(),
		Models:              models,
	}, logger), nil
}

// openEngine opens the store and builds an engine over it. Callers close the store.
func openEngine() (*store.SQLiteStore, *engine.Engine) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	eng, err := newEngine(s)
	if err != nil {
		s.Close()
		exitErr("init engine", err)
	}
	return s, eng
}

func marshalIndent(v any) []byte {
	b, _ := json.MarshalIndent(v, "", "  ")
	return append(b, '\n')
}

func printJSON(cmd *cobra.Command, v any) {
	cmd.OutOrStdout().Write(marshalIndent(v))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
