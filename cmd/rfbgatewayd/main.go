// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Command rfbgatewayd is the gateway process: it wires the session
// registry, websocket hub, REST surface, and Prometheus metrics together
// and serves both the gateway HTTP surface and the metrics surface.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deskbridge/rfbgateway"
	"github.com/deskbridge/rfbgateway/internal/config"
	"github.com/deskbridge/rfbgateway/internal/hub"
	"github.com/deskbridge/rfbgateway/internal/httpapi"
	"github.com/deskbridge/rfbgateway/internal/imagecodec"
	"github.com/deskbridge/rfbgateway/internal/metrics"
	"github.com/deskbridge/rfbgateway/internal/registry"
)

func main() {
	envPath := flag.String("env", ".env", "path to an optional .env file")
	yamlPath := flag.String("config", "gateway.yaml", "path to an optional YAML config file")
	listenAddr := flag.String("listen", "", "gateway HTTP listen address (overrides config)")
	metricsAddr := flag.String("metrics-listen", "", "metrics HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*envPath, *yamlPath)
	if err != nil {
		log.Fatalf("rfbgatewayd: failed to load configuration: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger := &rfb.StandardLogger{Logger: log.New(os.Stderr, "rfbgatewayd: ", log.LstdFlags)}

	promRegistry := prometheus.NewRegistry()
	collector := metrics.New(promRegistry)

	reg := registry.New(
		registry.WithLogger(logger),
		registry.WithMetrics(collector),
		registry.WithAllowlist(cfg.AllowsUpstream),
	)

	encoder := imagecodec.StandardEncoder{}

	wsHub := hub.New(reg, encoder,
		hub.WithLogger(logger),
		hub.WithMetrics(collector),
		hub.WithBroadcastInterval(cfg.BroadcastInterval),
		hub.WithLargeAreaRatio(cfg.LargeUpdateAreaRatio),
		hub.WithJPEGQualities(cfg.JPEGQualityLarge, cfg.JPEGQualityNormal, cfg.JPEGQualityFullFrame),
	)
	api := httpapi.New(reg, encoder, httpapi.WithLogger(logger))

	router := mux.NewRouter()
	router.HandleFunc("/sessions/{host}/{port}/ws", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		wsHub.Serve(w, r, vars["host"], vars["port"])
	})
	api.Register(router)

	gatewayServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("gateway HTTP surface listening", rfb.Field{Key: "addr", Value: cfg.ListenAddr})
		if err := gatewayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway HTTP server failed", rfb.ErrorField(err))
		}
	}()

	go func() {
		logger.Info("metrics surface listening", rfb.Field{Key: "addr", Value: cfg.MetricsAddr})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics HTTP server failed", rfb.ErrorField(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = gatewayServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}
