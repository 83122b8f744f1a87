// Command server exposes the extraction engine over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobiangulo/goextract"
	"github.com/brunobiangulo/goextract/api"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := goextract.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	engine, err := goextract.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h := api.NewHandler(engine, os.Getenv("GOEXTRACT_API_KEY"), os.Getenv("GOEXTRACT_CORS_ORIGINS"))
	if err := api.Serve(ctx, *addr, h); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
