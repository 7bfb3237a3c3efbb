// Command raptorapi serves the RAPTOR journey planner over HTTP: it loads a
// GTFS static feed, builds a timetable Store scoped to today's service
// date, and answers /api/raptor and /api/travel-times queries until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"raptor.onebusaway.org/internal/app"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to the service config file")
	envPath := flag.String("env", ".env", "path to an optional .env overlay")
	flag.Parse()

	application, err := app.Build(*configPath, *envPath)
	if err != nil {
		slog.Error("failed to build application", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer application.Shutdown()

	if err := run(application); err != nil {
		application.Logger.Error("server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run starts the HTTP server and blocks until SIGINT/SIGTERM, then drains
// in-flight requests before returning.
func run(application *app.Application) error {
	server := &http.Server{
		Addr:              application.Config.HTTPAddr,
		Handler:           application.Server.Handler(application.Config.RateLimitRPS),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		application.Logger.Info("listening", slog.String("addr", application.Config.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		application.Logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
