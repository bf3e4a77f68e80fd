package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/shopfloor/mtcagent/internal/adapter"
	"github.com/shopfloor/mtcagent/internal/agent"
	"github.com/shopfloor/mtcagent/internal/assembler"
	"github.com/shopfloor/mtcagent/internal/asset"
	"github.com/shopfloor/mtcagent/internal/config"
	"github.com/shopfloor/mtcagent/internal/metrics"
	"github.com/shopfloor/mtcagent/internal/rest"
	"github.com/shopfloor/mtcagent/internal/schema"
	"github.com/shopfloor/mtcagent/internal/store"

	_ "net/http/pprof"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
		verbose     bool
		enablePprof bool
	)
	flag.StringVar(&configPath, "config", "mtcagent.yaml", "path to the agent configuration file")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode - show debug logs")
	flag.BoolVar(&enablePprof, "enable-pprof", false, "enable pprof server")
	flag.Parse()

	if showVersion {
		fmt.Printf("version: %s, commit: %s, date: %s\n", version, commit, date)
		return nil
	}

	log := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if enablePprof {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	if cfg.Metrics.Addr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", cfg.Metrics.Addr)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				os.Exit(1)
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			http.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, nil); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				os.Exit(1)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := schema.NewRegistry()

	dataStore, err := store.New(&store.Config{
		Logger:    log,
		Capacity:  int(cfg.Buffer.Observations),
		MaxReplay: int(cfg.Buffer.MaxReplay),
	})
	if err != nil {
		return fmt.Errorf("failed to create observation store: %w", err)
	}

	assetStore, err := asset.New(&asset.Config{
		Logger:   log,
		Capacity: cfg.Buffer.Assets,
	})
	if err != nil {
		return fmt.Errorf("failed to create asset store: %w", err)
	}

	ag, err := agent.New(&agent.Config{
		Logger:   log,
		Registry: registry,
		Store:    dataStore,
		Assets:   assetStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	devices, err := loadDevices(cfg.Devices)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if err := ag.RegisterDevice(d); err != nil {
			return fmt.Errorf("failed to register device %s: %w", d.UUID, err)
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	asm, err := assembler.New(&assembler.Config{
		Logger:     log,
		Registry:   registry,
		Store:      dataStore,
		Assets:     assetStore,
		Sender:     hostname,
		InstanceID: ag.InstanceID(),
		Version:    cfg.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to create assembler: %w", err)
	}

	server, err := rest.NewServer(&rest.Config{
		Logger:    log,
		Registry:  registry,
		Store:     dataStore,
		Assembler: asm,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	log.Info("http server listening", "address", listener.Addr().String())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx, listener)
	})

	for _, ac := range cfg.Adapters {
		uuid, ok := registry.DeviceUUID(ac.Device)
		if !ok {
			return fmt.Errorf("adapter %s references unknown device %q", ac.Address, ac.Device)
		}
		client, err := adapter.NewClient(&adapter.Config{
			Logger:      log,
			Address:     ac.Address,
			DeviceUUID:  uuid,
			Sink:        ag,
			ReadTimeout: ac.ReadTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create adapter client for %s: %w", ac.Address, err)
		}
		group.Go(func() error {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("context cancelled, agent stopped")
	return nil
}

func loadDevices(path string) ([]*schema.Device, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open devices file: %w", err)
	}
	defer f.Close()
	devices, err := schema.LoadDevices(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load devices file: %w", err)
	}
	return devices, nil
}

// newLogger builds the agent's slog handler. Timestamps are millisecond
// UTC so log lines line up with observation timestamps.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.TimeValue(a.Value.Time().UTC())
			}
			return a
		},
	}))
}
