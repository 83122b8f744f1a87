// Command goextract runs schema-guided information extraction from the
// command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	provider   string
	model      string
	baseURL    string
	caseStore  string
	verbose    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "goextract",
		Short:         "Schema-guided information extraction with case-based learning",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if g.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", os.Getenv("GOEXTRACT_CONFIG"), "Path to config file (YAML or JSON)")
	pf.StringVar(&g.dbPath, "db", "", "SQLite database path")
	pf.StringVar(&g.provider, "provider", "", "Chat provider (ollama, openai, groq, ...)")
	pf.StringVar(&g.model, "model", "", "Chat model")
	pf.StringVar(&g.baseURL, "base-url", "", "Chat provider base URL")
	pf.StringVar(&g.caseStore, "case-store", "", "Case store: sqlite, json or memory")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	root.AddCommand(
		newExtractCmd(g),
		newCasesCmd(g),
		newSchemasCmd(g),
		newEvalCmd(g),
		newServeCmd(g),
		newGraphCmd(g),
	)
	return root
}

// loadConfig applies defaults, the config file, the environment and then
// the flags, in that order.
func (g *globalFlags) loadConfig() (goextract.Config, error) {
	cfg, err := goextract.LoadConfig(g.configPath)
	if err != nil {
		return cfg, err
	}
	if g.dbPath != "" {
		cfg.DBPath = g.dbPath
	}
	if g.provider != "" {
		cfg.Chat.Provider = g.provider
	}
	if g.model != "" {
		cfg.Chat.Model = g.model
	}
	if g.baseURL != "" {
		cfg.Chat.BaseURL = g.baseURL
	}
	if g.caseStore != "" {
		cfg.CaseStore = g.caseStore
	}
	return cfg, nil
}

func (g *globalFlags) openEngine() (*goextract.Engine, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return goextract.New(cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
