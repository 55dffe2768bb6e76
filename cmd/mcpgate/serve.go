package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/mcpgate/internal/config"
	"github.com/loykin/mcpgate/internal/gateway"
	historyfactory "github.com/loykin/mcpgate/internal/history/factory"
	"github.com/loykin/mcpgate/internal/logger"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/server"
	"github.com/loykin/mcpgate/internal/store"
	storefactory "github.com/loykin/mcpgate/internal/store/factory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "mcpgate.toml", "path to TOML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Color)

	var st store.Store
	if cfg.Store != "" {
		st, err = storefactory.NewFromDSN(cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = st.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("prepare store schema: %w", err)
		}
	}

	poolOpts := cfg.PoolOptions()
	poolOpts.Logger = log
	if poolOpts.ClientVersion == "" {
		poolOpts.ClientVersion = version
	}
	if cfg.History.DSN != "" {
		sink, err := historyfactory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history sink: %w", err)
		}
		poolOpts.Sinks = append(poolOpts.Sinks, sink)
	}

	gw := gateway.New(gateway.Options{
		Pool:       poolOpts,
		Store:      st,
		DefaultLog: cfg.ServerLog,
	})
	defer func() { _ = gw.Close() }()
	gw.ApplyConfig(cfg.Specs())

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	srv, err := server.NewServer(cfg.Listen, cfg.BasePath, gw)
	if err != nil {
		return err
	}
	log.Info("mcpgate serving", "listen", cfg.Listen, "base_path", cfg.BasePath, "servers", len(cfg.Servers))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	return nil
}
