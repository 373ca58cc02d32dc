package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/xcpudp"
)

type serveFlags struct {
	config        string
	listen        string
	mode          string
	layout        string
	queueDepth    int
	mtu           int
	anySender     bool
	metricsAddr   string
	logLevel      string
	demoProducers int
	demoInterval  time.Duration
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the XCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(f.config)
			if err != nil {
				return err
			}
			f.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.config, "config", "", "YAML config file")
	flags.StringVar(&f.listen, "listen", "", "UDP listen address (default \":5555\")")
	flags.StringVar(&f.mode, "mode", "", "transmit mode: queue or single-buffer")
	flags.StringVar(&f.layout, "layout", "", "header layout: counter-first or length-first")
	flags.IntVar(&f.queueDepth, "queue-depth", 0, "number of packet buffers in the transmit queue")
	flags.IntVar(&f.mtu, "mtu", 0, "maximum datagram payload size")
	flags.BoolVar(&f.anySender, "any-sender", false, "accept commands from any address while connected")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "address of the Prometheus /metrics endpoint")
	flags.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.IntVar(&f.demoProducers, "demo-producers", 0, "number of synthetic DTO producers")
	flags.DurationVar(&f.demoInterval, "demo-interval", 0, "interval between DTOs of one producer")
	return cmd
}

// apply overrides config values with explicitly set flags.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = f.listen
	}
	if flags.Changed("mode") {
		cfg.Mode = f.mode
	}
	if flags.Changed("layout") {
		cfg.Layout = f.layout
	}
	if flags.Changed("queue-depth") {
		cfg.QueueDepth = f.queueDepth
	}
	if flags.Changed("mtu") {
		cfg.MTU = f.mtu
	}
	if flags.Changed("any-sender") {
		cfg.AnySender = f.anySender
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("demo-producers") {
		cfg.Demo.Producers = f.demoProducers
	}
	if flags.Changed("demo-interval") {
		cfg.Demo.Interval = f.demoInterval
	}
}

func serve(ctx context.Context, cfg *Config) error {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	metrics := xcpudp.NewMetrics(reg, "xcp")

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	opts = append(opts, xcpudp.LoggerOption(logger), xcpudp.MetricsOption(metrics))

	maxCTO := cfg.MaxCTO
	if maxCTO <= 0 {
		maxCTO = min(xcpudp.DefaultMaxCTO, xcpudp.MaxPayload(cfg.MTU))
	}
	server, err := xcpudp.Listen(ctx, cfg.Listen, newInterpreter(maxCTO, xcpudp.MaxPayload(cfg.MTU)), opts...)
	if err != nil {
		return err
	}
	defer server.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return server.Run(ctx)
	})

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		group.Go(func() error {
			logger.Info("metrics endpoint started", "addr", cfg.MetricsAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	for i := 0; i < cfg.Demo.Producers; i++ {
		daq := byte(i)
		group.Go(func() error {
			return produce(ctx, server, daq, cfg.Demo)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
