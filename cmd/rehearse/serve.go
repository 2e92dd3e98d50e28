package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/dashboard"
	"github.com/zulandar/rehearsal/internal/metrics"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the simulator API and dashboard",
		Long:  "Serves the session API, a live event stream per session and prometheus metrics.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Rehearsal config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, log, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Dashboard.Port
	}

	store, err := agent.NewStore(gormDB)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ex, err := buildExchange(cfg.Service, m, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	notifier, closeNotifier, err := buildNotifier(ctx, cfg.Notify, gormDB, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	registry := dashboard.NewRegistry(dashboard.RegistryOpts{
		IdleTimeout: cfg.Dashboard.IdleTimeout,
		Metrics:     m,
		Log:         log,
	})
	sweeper, err := registry.StartSweeper(cfg.Dashboard.Sweep)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	srv, err := dashboard.NewServer(dashboard.ServerOpts{
		Agents:   store,
		Exchange: ex,
		Registry: registry,
		DB:       gormDB,
		Lead:     cfg.Lead,
		Copy:     cfg.Copy,
		Log:      log,
		Metrics:  m,
		Gatherer: reg,
		Notifier: notifier,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, port, cmd.OutOrStdout())
}
