// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command brokerlinkctl is a demo client: it connects to a broker, watches
// connect/disconnect/enumerate lifecycle events, and optionally serves the
// introspection HTTP API described in internal/observability.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/brokerlink/internal/client"
	"github.com/nishisan-dev/brokerlink/internal/config"
	"github.com/nishisan-dev/brokerlink/internal/diagnostics"
	"github.com/nishisan-dev/brokerlink/internal/logging"
	"github.com/nishisan-dev/brokerlink/internal/observability"
	"github.com/nishisan-dev/brokerlink/internal/poll"
	"github.com/nishisan-dev/brokerlink/internal/wire"
)

func main() {
	// Subcommand "enumerate" connects, broadcasts one enumerate() and prints
	// every reply before disconnecting — useful for discovering UIDs on a
	// broker without running the full daemon.
	if len(os.Args) >= 2 && os.Args[1] == "enumerate" {
		runEnumerateOnce(os.Args[2:])
		return
	}

	configPath := flag.String("config", "/etc/brokerlink/client.yaml", "path to client config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := runWatch(cfg, logger); err != nil {
		logger.Error("brokerlinkctl exited with error", "error", err)
		os.Exit(1)
	}
}

func runEnumerateOnce(args []string) {
	fs := flag.NewFlagSet("enumerate", flag.ExitOnError)
	configPath := fs.String("config", "/etc/brokerlink/client.yaml", "path to client config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	conn := client.New(logger)
	conn.SetTimeoutMs(cfg.Broker.TimeoutMs)
	conn.SetAutoReconnect(false)
	conn.RegisterEnumerateHandler(func(cb wire.EnumerateCallback) {
		fmt.Printf("%-10s type=%d position=%d device=%d fw=%d.%d.%d\n",
			cb.UID, cb.EnumerationType, cb.Position, cb.DeviceIdentifier,
			cb.FirmwareVersion[0], cb.FirmwareVersion[1], cb.FirmwareVersion[2])
	})

	if err := conn.Connect(cfg.Broker.Host, cfg.Broker.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to broker: %v\n", err)
		os.Exit(1)
	}
	if err := conn.Enumerate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error requesting enumerate: %v\n", err)
		os.Exit(1)
	}

	time.Sleep(cfg.Broker.Timeout)
	conn.Disconnect()
}

// runWatch runs brokerlinkctl as a long-lived daemon: it connects, logs
// every connect/disconnect/enumerate event, optionally starts the periodic
// poll enumerator and the introspection HTTP API, and blocks until
// SIGINT/SIGTERM.
func runWatch(cfg *config.ClientConfig, logger *slog.Logger) error {
	logger.Info("starting brokerlinkctl", "broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port))

	conn := client.New(logger)
	conn.SetTimeoutMs(cfg.Broker.TimeoutMs)
	conn.SetAutoReconnect(cfg.AutoReconnect)

	var store *observability.EventStore
	if cfg.Observability.ListenAddress != "" {
		path := cfg.Logging.File
		if path == "" {
			path = "/tmp/brokerlink-events.jsonl"
		} else {
			path += ".events.jsonl"
		}
		var err error
		store, err = observability.NewEventStore(path, 200, 5000)
		if err != nil {
			logger.Warn("could not open event store, events won't persist", "error", err)
		} else {
			defer store.Close()
		}
	}

	conn.RegisterConnectedHandler(func(reason int) {
		logger.Info("connected", "reason", reason)
		if store != nil {
			store.Push(observability.EventEntry{Kind: "connected", Reason: connectReasonLabel(reason)})
		}
	})
	conn.RegisterDisconnectedHandler(func(reason int) {
		logger.Info("disconnected", "reason", reason)
		if store != nil {
			store.Push(observability.EventEntry{Kind: "disconnected", Reason: disconnectReasonLabel(reason)})
		}
	})
	conn.RegisterEnumerateHandler(func(cb wire.EnumerateCallback) {
		logger.Info("enumerate callback", "uid", cb.UID, "type", cb.EnumerationType, "position", cb.Position)
		if store != nil {
			store.Push(observability.EventEntry{Kind: "enumerate", Reason: cb.UID})
		}
	})

	monitor := diagnostics.NewMonitor(logger)
	monitor.Start(30 * time.Second)
	defer monitor.Stop()

	if err := conn.Connect(cfg.Broker.Host, cfg.Broker.Port); err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	var enumerator *poll.Enumerator
	if cfg.Poll.Schedule != "" {
		var err error
		enumerator, err = poll.New(cfg.Poll.Schedule, logger, conn.Enumerate)
		if err != nil {
			return fmt.Errorf("creating poll enumerator: %w", err)
		}
		enumerator.Start()
	}

	var httpServer *http.Server
	if cfg.Observability.ListenAddress != "" {
		acl := observability.NewACL(cfg.Observability.Token)
		router := observability.NewRouter(conn, monitor, store, acl)
		httpServer = &http.Server{Addr: cfg.Observability.ListenAddress, Handler: router}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("observability server error", "error", err)
			}
		}()
		logger.Info("observability API listening", "address", cfg.Observability.ListenAddress)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	if enumerator != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		enumerator.Stop(stopCtx)
		cancel()
	}
	if httpServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpServer.Shutdown(stopCtx)
		cancel()
	}

	conn.SetAutoReconnect(false)
	if err := conn.Disconnect(); err != nil {
		logger.Warn("disconnect reported an error", "error", err)
	}
	return nil
}

func connectReasonLabel(reason int) string {
	if reason == client.ConnectReasonAutoReconnect {
		return "auto_reconnect"
	}
	return "request"
}

func disconnectReasonLabel(reason int) string {
	switch reason {
	case client.DisconnectReasonError:
		return "error"
	case client.DisconnectReasonShutdown:
		return "shutdown"
	default:
		return "request"
	}
}
