// Command server runs the multi-channel chat server: one TCP listener per
// configured channel, an interactive admin console on stdin, and optional
// status API and audit store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"parley/internal/config"
	"parley/internal/core"
	"parley/internal/httpapi"
	"parley/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	httpAddr := flag.String("http", "", "Status API listen address (empty disables)")
	auditDB := flag.String("audit-db", "", "SQLite audit database path (empty disables)")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: server [flags] <config-path>")
		os.Exit(2)
	}
	cfgPath := flag.Arg(0)

	slog.Info("starting server", "version", Version, "config", cfgPath)

	channels, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load channel table", "err", err)
		os.Exit(1)
	}

	var audit core.AuditSink
	var auditStore *store.Store
	if *auditDB != "" {
		auditStore, err = store.New(*auditDB)
		if err != nil {
			slog.Error("open audit store", "err", err)
			os.Exit(1)
		}
		audit = auditStore
		slog.Info("audit store open", "path", *auditDB)
	}
	closeAudit := func() {
		if auditStore == nil {
			return
		}
		if err := auditStore.Close(); err != nil {
			slog.Error("close audit store", "err", err)
		}
	}

	cs := make([]*core.Channel, len(channels))
	for i, ch := range channels {
		cs[i] = core.NewChannel(ch.Name, ch.Port, ch.Capacity)
	}
	reg := core.NewRegistry(core.NewConsole(os.Stdout), audit, cs...)

	if err := reg.Start(); err != nil {
		slog.Error("start channels", "err", err)
		closeAudit()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *httpAddr != "" {
		api := httpapi.New(reg)
		go func() {
			if err := api.Run(ctx, *httpAddr); err != nil {
				slog.Error("status api error", "err", err)
			}
		}()
		slog.Info("status api listening", "addr", *httpAddr)
	}

	go RunMetrics(ctx, reg, 30*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		reg.Shutdown()
		cancel()
		closeAudit()
		os.Exit(0)
	}()

	slog.Info("console ready", "channels", len(channels))
	RunConsole(os.Stdin, reg)

	cancel()
	closeAudit()
	slog.Info("server stopped")
}
