package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract/graph"
)

var errNoGraph = errors.New("the knowledge graph needs a database: set graph_sink or use the sqlite case store")

func newGraphCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Query the knowledge graph built from RE and Triple predictions",
	}
	cmd.AddCommand(newGraphTraverseCmd(g), newGraphCypherCmd(g))
	return cmd
}

func newGraphTraverseCmd(g *globalFlags) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "traverse <entity>...",
		Short: "Show entities and edges reachable from the given entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			if engine.Store() == nil {
				return errNoGraph
			}

			res, err := graph.Traverse(cmd.Context(), engine.Store(), args, depth)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 2, "Maximum hops")
	return cmd
}

func newGraphCypherCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cypher",
		Short: "Print the stored graph as Cypher MERGE statements",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()
			if engine.Store() == nil {
				return errNoGraph
			}

			triples, err := graph.Export(cmd.Context(), engine.Store())
			if err != nil {
				return err
			}
			for _, stmt := range graph.Cypher(triples) {
				fmt.Fprintln(cmd.OutOrStdout(), stmt)
			}
			return nil
		},
	}
}
