package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/goextract/api"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the extraction API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The server logs JSON like the standalone binary.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

			engine, err := g.openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			h := api.NewHandler(engine, os.Getenv("GOEXTRACT_API_KEY"), os.Getenv("GOEXTRACT_CORS_ORIGINS"))
			return api.Serve(cmd.Context(), addr, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}
