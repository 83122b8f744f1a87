package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSchemasCmd(g *globalFlags) *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List catalog schemas and modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			for _, d := range engine.Schemas() {
				if show != "" {
					if d.Name != show {
						continue
					}
					fmt.Fprintln(out, d.GoSource())
					fmt.Fprintln(out)
					return printJSON(out, d.JSONSchema())
				}
				fmt.Fprintf(out, "%-18s %s\n", d.Name, d.Description)
			}
			if show != "" {
				return fmt.Errorf("schema %q not found", show)
			}
			fmt.Fprintf(out, "\nmodes: %s\n", strings.Join(engine.Modes(), ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "Print one schema as Go source and JSON Schema")
	return cmd
}
