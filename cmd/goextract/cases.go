package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract"
)

func newCasesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Inspect the case repository",
	}
	cmd.AddCommand(newCasesStatsCmd(g), newCasesSearchCmd(g))
	return cmd
}

func newCasesStatsCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the number of cases per task and outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			stats, err := engine.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			if !stats.RepositoryEnabled {
				fmt.Fprintln(cmd.OutOrStdout(), "case repository unavailable")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tOUTCOME\tCASES")
			for _, b := range stats.Buckets {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", b.Task, b.Outcome, b.Count)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if db := stats.DB; db != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "\ndatabase: %d cases, %d embeddings, %d entities, %d relationships, %d extractions\n",
					db.Cases, db.Embeddings, db.Entities, db.Relationships, db.Extractions)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCasesSearchCmd(g *globalFlags) *cobra.Command {
	var (
		taskName string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored cases by embedding similarity and keywords",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			cases, trace, err := engine.SearchCases(cmd.Context(), args[0], taskName, limit)
			if errors.Is(err, goextract.ErrNoStore) {
				return errors.New("case search needs the sqlite case store")
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{"cases": cases, "trace": trace})
			}
			for _, c := range cases {
				methods := strings.Join(trace.PerCase[c.ID].Methods, "+")
				fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s/%s] score=%.4f via %s\n%s\n\n",
					c.ID, c.Task, c.Outcome, c.Score, methods, c.Content)
			}
			if len(cases) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching cases")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskName, "task", "", "Only search one task")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON with the search trace")
	return cmd
}
