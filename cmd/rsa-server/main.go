package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/flexgrid-rsa/internal/api"
	"github.com/signalsfoundry/flexgrid-rsa/internal/config"
	"github.com/signalsfoundry/flexgrid-rsa/internal/logging"
	"github.com/signalsfoundry/flexgrid-rsa/internal/observability"
	"github.com/signalsfoundry/flexgrid-rsa/internal/rsa"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store"
	"github.com/signalsfoundry/flexgrid-rsa/internal/store/backend"
	"github.com/signalsfoundry/flexgrid-rsa/kb"
)

// inventoryRefresh is how often spectrum gauges are recomputed from the
// store.
const inventoryRefresh = 15 * time.Second

func main() {
	envFile := flag.String("env", ".env", "Optional .env file to load before reading the environment")
	httpAddr := flag.String("http-addr", "", "HTTP API listen address (overrides RSA_HTTP_ADDR)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus /metrics listen address (overrides RSA_METRICS_ADDR)")
	storeKind := flag.String("store", "", "Store backend: memory, sqlite or postgres (overrides RSA_STORE)")
	topologyPath := flag.String("topology", "", "JSON topology seed (overrides RSA_TOPOLOGY)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	override(&cfg.HTTPAddr, *httpAddr)
	override(&cfg.MetricsAddr, *metricsAddr)
	override(&cfg.Store, *storeKind)
	override(&cfg.Topology, *topologyPath)

	log := logging.New(cfg.Logging)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// run serves the API on lis until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := observability.NewRSACollector(reg)
	if err != nil {
		return err
	}
	spectrumMetrics, err := observability.NewSpectrumCollector(reg)
	if err != nil {
		return err
	}

	st, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if k, ok := st.(*kb.KnowledgeBase); ok {
		unsubscribe := k.Subscribe(func(kb.Event) {
			collector.SetTopologyCounts(k.Counts())
		})
		defer unsubscribe()
		collector.SetTopologyCounts(k.Counts())
	}
	go watchInventory(ctx, st, collector, spectrumMetrics, log)

	svc := rsa.NewService(st,
		rsa.WithLogger(log),
		rsa.WithMetrics(collector),
		rsa.WithHopCutoff(cfg.HopCutoff),
	)
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	srv := &http.Server{
		Handler:      api.New(svc, log, collector).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting RSA HTTP server", logging.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down RSA server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return srv.Shutdown(shutdownCtx)
}

// watchInventory refreshes inventory gauges from the store until ctx ends.
func watchInventory(ctx context.Context, st store.Store, collector *observability.RSACollector, spectrumMetrics *observability.SpectrumCollector, log logging.Logger) {
	refresh := func() {
		snap, err := st.Snapshot(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn(ctx, "inventory refresh failed", logging.Err(err))
			}
			return
		}
		collector.SetTopologyCounts(len(snap.Devices), len(snap.Endpoints), len(snap.Links))
		spectrumMetrics.ObserveSnapshot(snap)
	}
	refresh()
	ticker := time.NewTicker(inventoryRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func serveMetrics(addr string, collector *observability.RSACollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
