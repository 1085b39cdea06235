package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/wolfeidau/leadlink/internal/http"
	"github.com/wolfeidau/leadlink/internal/logger"
)

type ServeCmd struct {
	Listen      string   `help:"HTTP server listen address" default:"0.0.0.0:3002" env:"LEADLINK_LISTEN"`
	CORSOrigins []string `help:"allowed CORS origins for the chat API" default:"*" env:"LEADLINK_CORS_ORIGINS"`
	SeedFile    string   `help:"YAML organization file applied on startup" type:"existingfile" env:"LEADLINK_SEED_FILE"`

	Store     StoreFlags     `embed:""`
	Pipeline  PipelineFlags  `embed:""`
	Telemetry TelemetryFlags `embed:""`
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	defer c.Telemetry.setup(ctx, "leadlink-server", globals.Version)()

	st, closeStore, err := c.Store.open(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if c.SeedFile != "" {
		if err := seedFromFile(ctx, st.Organizations(), c.SeedFile); err != nil {
			return err
		}
	}

	processor, closePipeline, err := c.Pipeline.build(ctx, st, c.Store.Retry.config())
	if err != nil {
		return err
	}
	defer closePipeline()

	srv := configureHTTPServer(c.Listen, httpapi.NewRouter(httpapi.RouterConfig{
		Processor:      processor,
		Store:          st,
		Logger:         log,
		AllowedOrigins: c.CORSOrigins,
	}))

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
