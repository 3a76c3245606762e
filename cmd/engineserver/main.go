// Command engineserver is a minimal host binary wiring config, logging,
// metrics, and TLS around an Engine and Listener: a config file (or
// ENGINE_-prefixed environment variables, via config.Load) picks the
// listener's knobs, a root cobra.Command takes the config file path as
// its one flag (--config), the way the teacher's surrounding ecosystem
// wires a root command to a config path, and a demo route proves the
// wiring works end to end.
package main

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/loomhttp/engine"
	"github.com/loomhttp/engine/config"
	"github.com/loomhttp/engine/enginelog"
	"github.com/loomhttp/engine/metrics"
	"github.com/loomhttp/engine/router"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "engineserver",
		Short:   "Run the engine HTTP server",
		Long:    "engineserver loads a listener configuration and serves HTTP/1.1 traffic through the engine package.",
		Example: "engineserver --config ./engineserver.yaml",
		RunE:    run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a listener config file (yaml/json/toml, viper-compatible)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log := enginelog.New(os.Stderr, level)

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.New()
		go serveMetrics(collector, log)
	}

	e := engine.New(engine.Options{
		Banner:             cfg.Banner,
		ForceTrailingSlash: cfg.ForceTrailingSlash,
		MatchHeadAsGet:     cfg.MatchHeadAsGet,
		HostHandler: engine.HostHandler{
			OnConnectionOpened: func(conn engine.ConnectionInfo) {
				log.WithFields(enginelog.Fields{"conn_id": conn.ID, "remote": conn.RemoteAddr}).Debug("connection opened")
			},
			OnConnectionClosed: func(conn engine.ConnectionInfo) {
				log.WithFields(enginelog.Fields{"conn_id": conn.ID}).Debug("connection closed")
			},
		},
	})

	registerDemoRoutes(e)
	e.Freeze()

	opts := []engine.ListenerOption{
		engine.WithLogger(log),
		engine.WithMetrics(collector),
	}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("engineserver: loading TLS keypair: %w", err)
		}
		opts = append(opts, engine.WithTLS(&tls.Config{Certificates: []tls.Certificate{cert}}))
	}

	ln := engine.NewListener(e, cfg, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("engineserver: shutting down")
		ln.Stop()
	}()

	log.Info("engineserver: listening on " + cfg.Address)
	if err := ln.Serve(); err != nil && err != engine.ErrListenerClosed {
		return err
	}
	return nil
}

// registerDemoRoutes gives a freshly-built Engine at least one route so
// the binary is useful to curl right after startup; hosts embedding the
// engine package directly would call e.AddRoute themselves instead.
func registerDemoRoutes(e *engine.Engine) {
	_ = e.AddRoute(router.GET, "/healthz", func(ctx *engine.Context) error {
		return ctx.WriteFixed([]byte("ok"))
	})
}

// serveMetrics exposes the Prometheus registry on a separate plaintext
// listener, kept out of the engine's own HTTP/1.1 state machine since
// /metrics is a scrape endpoint, not a routed request.
func serveMetrics(c *metrics.Collector, log enginelog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9090", Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn("engineserver: metrics listener stopped: ", err)
	}
}
