package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/itohio/gosoil/pkg/broker"
	"github.com/itohio/gosoil/pkg/command"
	"github.com/itohio/gosoil/pkg/config"
	"github.com/itohio/gosoil/pkg/connectivity"
	"github.com/itohio/gosoil/pkg/diag"
	"github.com/itohio/gosoil/pkg/env"
	"github.com/itohio/gosoil/pkg/history"
	"github.com/itohio/gosoil/pkg/identity"
	"github.com/itohio/gosoil/pkg/link"
	"github.com/itohio/gosoil/pkg/logstore"
	"github.com/itohio/gosoil/pkg/measurement"
	"github.com/itohio/gosoil/pkg/metrics"
	"github.com/itohio/gosoil/pkg/node"
	"github.com/itohio/gosoil/pkg/probe"
	"github.com/itohio/gosoil/pkg/soil"
	"github.com/itohio/gosoil/pkg/telemetry"
)

func main() {
	var (
		configFlag    = flag.String("config", "config.yaml", "Configuration file path")
		portFlag      = flag.String("port", "", "Serial port override (e.g., /dev/ttyACM0)")
		mockFlag      = flag.Bool("mock", false, "Use simulated soil and environment sensors")
		logLevelFlag  = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		listPortsFlag = flag.Bool("list-ports", false, "List available serial ports and exit")
	)
	flag.Parse()

	logger := newLogger(*logLevelFlag)
	slog.SetDefault(logger)

	if *listPortsFlag {
		if err := listPorts(os.Stdout); err != nil {
			logger.Error("failed to list serial ports", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configFlag, "error", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Probe.Port = *portFlag
	}
	if *mockFlag {
		cfg.Probe.Driver = "mock"
		cfg.Environment.Driver = "mock"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := run(ctx, cfg, logger, reg); err != nil {
		logger.Error("soil node stopped", "error", err)
		os.Exit(1)
	}
}

func listPorts(w io.Writer) error {
	ports, err := probe.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openFrontEnd(cfg *config.Config, logger *slog.Logger) probe.FrontEnd {
	if cfg.Probe.Driver == "mock" {
		return probe.NewMock(&cfg.Mock, cfg.Calibration.DryRaw, cfg.Calibration.WetRaw)
	}
	return probe.NewSerial(probe.SerialOptions{
		Port:           cfg.Probe.Port,
		BaudRate:       cfg.Probe.BaudRate,
		Channel:        cfg.Probe.Channel,
		AverageSamples: cfg.Probe.AverageSamples,
		StaleAfter:     cfg.Probe.StaleAfter,
		Logger:         logger.With("component", "probe"),
	})
}

// run builds the node from cfg and blocks until ctx is cancelled. Only a
// missing identity, probe or link stops it at boot; every other component
// degrades.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) error {
	uid, err := identity.DeviceUID(cfg.Device.UID)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	logger = logger.With("device", uid)
	logger.Info("starting soil node", "probe", cfg.Probe.Driver, "environment", cfg.Environment.Driver, "link", cfg.Link.Driver)

	frontEnd := openFrontEnd(cfg, logger)
	if err := frontEnd.Connect(); err != nil {
		return fmt.Errorf("connect probe: %w", err)
	}
	defer frontEnd.Close()

	sensor, err := env.Open(cfg.Environment, logger.With("component", "env"))
	if err != nil {
		logger.Warn("environment sensor unavailable, reporting unknown", "error", err)
		sensor = env.None{}
	}
	defer sensor.Close()

	store := logstore.OpenOrUnavailable(cfg.LogStore, logger.With("component", "logstore"))
	recorder := logstore.NewLogger(store, cfg.LogStore.ValueColumn, logger.With("component", "logstore"))
	defer recorder.Close()

	netLink, err := link.Open(cfg.Link, logger.With("component", "link"))
	if err != nil {
		return fmt.Errorf("open link: %w", err)
	}
	defer netLink.Close()

	mqttClient := broker.NewPaho(cfg.MQTT, clientID(uid), logger.With("component", "mqtt"))
	defer mqttClient.Close()

	reader := soil.NewReader(frontEnd, soil.Curve{DryRaw: cfg.Calibration.DryRaw, WetRaw: cfg.Calibration.WetRaw}, cfg.Probe.FullScaleMv)
	if reader.Curve().Degenerate() {
		logger.Warn("calibration wet <= dry, soil moisture will read 0%", "dry", cfg.Calibration.DryRaw, "wet", cfg.Calibration.WetRaw)
	}

	collector := measurement.NewCollector(reader, sensor, uid,
		measurement.WithEnvironmentTimeout(cfg.Environment.Timeout),
		measurement.WithLogger(logger.With("component", "collector")),
	)

	manager := connectivity.NewManager(netLink, mqttClient, connectivity.Options{
		CommandTopic:      cfg.MQTT.CommandTopic,
		QoS:               cfg.MQTT.QoS,
		RetryInterval:     cfg.Link.RetryInterval,
		ActivationTimeout: cfg.Link.BootTimeout,
		Logger:            logger.With("component", "connectivity"),
	})

	gate := telemetry.NewGate(manager, cfg.MQTT.DataTopic, cfg.Sampling.PublishInterval, cfg.MQTT.PublishTimeout, logger.With("component", "publish"))
	dispatcher := command.NewDispatcher(cfg.MQTT.CommandTopic, collector, recorder, gate, logger.With("component", "command"))

	hist := history.New(cfg.Diag.HistoryWindow)
	m := metrics.New(reg)
	m.RegisterSources(metrics.Sources{
		LogAppended:    recorder.Appended,
		LogFailures:    recorder.Failures,
		PublishTotal:   gate.Attempts,
		PublishFailed:  gate.Failures,
		LastPublishMs:  gate.LastPublishMs,
		Commands:       dispatcher.Handled,
		LinkReconnects: manager.Reconnects,
	})
	manager.OnStateChange(m.SetConnectivity)

	hist.OnUpdate(func(entries []history.Entry) {
		rate := measurement.Unknown()
		if rates := hist.Rates(); len(rates) > 0 {
			rate = rates[len(rates)-1]
		}
		m.ObserveHistory(len(entries), rate)
	})

	entries := make(chan history.Entry, 16)
	loop := node.NewLoop(cfg.Sampling.Period, collector, recorder, gate, logger.With("component", "loop"))
	loop.OnCycle(func(c node.Cycle) {
		m.ObserveCycle(c.Snapshot, c.Label, c.Took)
		select {
		case entries <- history.Entry{Snapshot: c.Snapshot, Label: c.Label, Published: c.Published}:
		default:
			logger.Debug("history busy, cycle not recorded")
		}
	})
	if ping := watchdog(logger); ping != nil {
		loop.OnCycle(func(node.Cycle) { ping() })
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(ctx)
	})

	g.Go(func() error {
		hist.Process(entries)
		return nil
	})

	g.Go(func() error {
		defer close(entries)
		if err := manager.AwaitLinkUp(ctx, cfg.Link.BootTimeout); err != nil {
			if !errors.Is(err, connectivity.ErrBootTimeout) {
				return nil
			}
			logger.Warn("link not up at boot, sampling without publishing", "timeout", cfg.Link.BootTimeout)
		}
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Debug("sd_notify failed", "error", err)
		}
		return loop.Run(ctx)
	})

	g.Go(func() error {
		return dispatcher.Run(ctx, manager.Messages())
	})

	if cfg.Diag.Address != "" {
		deps := diag.Deps{
			DeviceUID:     uid,
			Connectivity:  manager,
			History:       hist,
			LastPublishMs: gate.LastPublishMs,
			Gatherer:      reg,
			Logger:        logger.With("component", "diag"),
		}
		if mock, ok := frontEnd.(*probe.Mock); ok {
			deps.Water = mock.Water
		}
		srv := diag.NewServer(deps)
		g.Go(func() error {
			if err := srv.ListenAndServe(ctx, cfg.Diag.Address); err != nil {
				logger.Warn("diagnostics server stopped", "address", cfg.Diag.Address, "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	daemon.SdNotify(false, daemon.SdNotifyStopping)
	logger.Info("soil node stopped")
	return err
}

func clientID(uid string) string {
	id := strings.ReplaceAll(uid, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return "soilnode-" + id
}

// watchdog returns a rate-limited WATCHDOG=1 notifier when systemd expects
// one. Pings come from the sampling loop so a stuck loop gets restarted.
func watchdog(logger *slog.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}
	logger.Info("systemd watchdog enabled", "interval", interval)

	var last atomic.Int64
	return func() {
		now := time.Now().UnixNano()
		if time.Duration(now-last.Load()) < interval/2 {
			return
		}
		last.Store(now)
		daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
}
