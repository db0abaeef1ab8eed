package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/example/meetingpipe/internal/api"
	"github.com/example/meetingpipe/internal/bootstrap"
	"github.com/example/meetingpipe/internal/config"
	"github.com/example/meetingpipe/internal/logger"
	"github.com/example/meetingpipe/internal/observability"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("api")

	shutdownTracing, err := observability.InitTracingFromEnv("meetingpipe-api")
	if err != nil {
		log.WithError(err).Warn("tracing disabled")
	}

	cfg := config.FromEnv()
	app, err := bootstrap.New(cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}

	server := api.NewServer(app.Engine, app.Store, app.Gate, cfg.MaxUploadBytes)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	app.Engine.Wait()
	if shutdownTracing != nil {
		if err := shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}
}
