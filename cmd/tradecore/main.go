package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	match "github.com/OpenGlobes/Core-sub001"
	"github.com/OpenGlobes/Core-sub001/config"
	"github.com/OpenGlobes/Core-sub001/connector/wsconn"
	"github.com/OpenGlobes/Core-sub001/eventbus"
	"github.com/OpenGlobes/Core-sub001/gateway"
	"github.com/OpenGlobes/Core-sub001/interceptor"
	"github.com/OpenGlobes/Core-sub001/session"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	match.SetLogger(logger)
	eventbus.SetLogger(logger)
	interceptor.SetLogger(logger)
	gateway.SetLogger(logger)
	wsconn.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("tradecore exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	instruments, err := gateway.InstrumentsFromConfig(cfg)
	if err != nil {
		return err
	}

	g := gateway.New(
		gateway.WithInstruments(instruments),
		gateway.WithIDGenerator(session.NewSequenceGenerator(cfg.Session.StartOrderID)),
		gateway.WithBusOptions(
			eventbus.WithCapacity(cfg.Bus.Capacity),
			eventbus.WithIdleWait(cfg.Bus.IdleWait.Std()),
		),
		gateway.WithPipelineOptions(
			interceptor.WithTimeout(cfg.Pipeline.Timeout.Std()),
			interceptor.WithIdleWait(cfg.Pipeline.IdleWait.Std()),
		),
		gateway.WithBookOptions(match.WithQueueSize(cfg.Engine.QueueSize)),
	)
	if err := g.Start(); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := wsconn.NewServer(g, wsconn.WithDepthLimit(cfg.Server.DepthLimit))
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case runErr = <-serveErr:
		logger.Error("http server failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	// stop taking connections, then drain the core, then drop the websockets
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := g.Shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	server.Close()

	return runErr
}
