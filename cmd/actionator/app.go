package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/bridge"
	"github.com/obwan02/Actionator/internal/engine"
	"github.com/obwan02/Actionator/internal/logging"
	"github.com/obwan02/Actionator/internal/scheduler"
	"github.com/obwan02/Actionator/internal/store"
	"github.com/obwan02/Actionator/internal/streaming"
	"github.com/obwan02/Actionator/pkg/mcp"
)

// app holds the wired components shared by the serve and mcp commands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *actions.Registry
	store    *store.LibSQLStore
	hub      *streaming.BroadcastHub
	executor engine.Executor
	sched    *scheduler.Scheduler
	mcp      *mcp.Server

	closers []func()
}

// newApp wires the registry, store, hub, executor and scheduler. Logs go to
// logOut; the mcp command passes stderr so stdout stays protocol-only.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger, err := logging.New(logOut, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	a.registry = actions.NewRegistry()
	if err := actions.RegisterBuiltins(a.registry, actions.BuiltinConfig{
		Shell: actions.ShellConfig{Enabled: cfg.Shell, WorkDirs: cfg.ShellWorkDirs},
	}); err != nil {
		return nil, fmt.Errorf("register builtins: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.hub = streaming.NewBroadcastHub(streaming.HubConfig{
		QueueCapacity: cfg.QueueCapacity,
		SendTimeout:   time.Duration(cfg.SendTimeout),
		Logger:        logger,
	})
	a.hub.Start(ctx)

	a.executor = engine.NewExecutor(a.registry, a.hub, st, engine.ExecutorConfig{
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	a.closers = append(a.closers, a.executor.Shutdown)

	a.sched = scheduler.NewScheduler(a.executor, logger)
	for _, e := range cfg.Schedules {
		if err := a.sched.Add(e); err != nil {
			a.Close()
			return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
		}
	}

	return a, nil
}

// enableMCP builds the MCP server and subscribes it to the hub.
func (a *app) enableMCP() *mcp.Server {
	a.mcp = mcp.NewServer(mcp.ServerDeps{Executor: a.executor, Logger: a.logger, Version: version})
	a.subscribe(mcp.NewNotificationConn(a.mcp))
	return a.mcp
}

// connectBridges dials the configured brokers. A broker that cannot be
// reached is an error: a configured bridge is expected to work.
func (a *app) connectBridges() error {
	if a.cfg.MQTTBroker != "" {
		conn, err := bridge.DialMQTT(bridge.MQTTConfig{
			Broker: a.cfg.MQTTBroker,
			Topic:  a.cfg.MQTTTopic,
			QoS:    1,
			Logger: a.logger,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		a.subscribe(conn)
		a.logger.Info("mqtt bridge connected", slog.String("broker", a.cfg.MQTTBroker))
	}
	if a.cfg.NATSURL != "" {
		conn, err := bridge.DialNATS(a.cfg.NATSURL, a.cfg.NATSSubject, a.logger)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		a.subscribe(conn)
	}
	return nil
}

// subscribe adds conn to the hub and the executor's subscriber hooks.
func (a *app) subscribe(conn streaming.Conn) {
	a.executor.OnSubscriberConnect(conn)
	a.closers = append(a.closers, func() { a.executor.OnSubscriberDisconnect(conn) })
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	if a.sched != nil {
		_ = a.sched.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
