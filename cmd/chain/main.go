// Command chain runs one traced hop of a polyglot service chain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/zoobzio/chainz"
	"github.com/zoobzio/chainz/logging"
	"github.com/zoobzio/chainz/sinks"
	"go.uber.org/zap"
)

// serviceConfig holds the hop's own settings, read with prefix CHAIN.
type serviceConfig struct {
	Port             string `envconfig:"PORT" default:"8080"`
	DownstreamURL    string `envconfig:"DOWNSTREAM_URL"`
	DownstreamPeer   string `envconfig:"DOWNSTREAM_PEER" default:"downstream"`
	ServiceName      string `envconfig:"SERVICE_NAME" default:"go-chain"`
	ServiceNamespace string `envconfig:"SERVICE_NAMESPACE" default:"otel-chain"`
	Sink             string `envconfig:"SINK" default:"otlp"`
	SinkGzip         bool   `envconfig:"SINK_GZIP"`
	SinkURL          string `envconfig:"SINK_URL" default:"http://localhost:4318/v1/spans"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var svcCfg serviceConfig
	if err := envconfig.Process("CHAIN", &svcCfg); err != nil {
		return fmt.Errorf("failed to load service config: %w", err)
	}
	var logCfg logging.Config
	if err := envconfig.Process("CHAIN", &logCfg); err != nil {
		return fmt.Errorf("failed to load log config: %w", err)
	}

	flags := pflag.NewFlagSet("chain", pflag.ContinueOnError)
	port := flags.String("port", svcCfg.Port, "listen port")
	downstream := flags.String("downstream", svcCfg.DownstreamURL, "base URL of the next hop; empty for the last hop")
	sinkKind := flags.String("sink", svcCfg.Sink, "span sink: otlp, http or log")
	logLevel := flags.String("log-level", logCfg.Level, "log level")
	logDev := flags.Bool("log-dev", logCfg.Development, "human readable logs")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	svcCfg.Port, svcCfg.DownstreamURL, svcCfg.Sink = *port, *downstream, *sinkKind
	logCfg.Level, logCfg.Development = *logLevel, *logDev

	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	traceCfg, err := chainz.LoadConfig("CHAINZ")
	if err != nil {
		return err
	}
	traceCfg.ServiceName = svcCfg.ServiceName
	if traceCfg.ResourceAttributes == nil {
		traceCfg.ResourceAttributes = map[string]string{}
	}
	if _, ok := traceCfg.ResourceAttributes["service.namespace"]; !ok {
		traceCfg.ResourceAttributes["service.namespace"] = svcCfg.ServiceNamespace
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := newSink(ctx, svcCfg, traceCfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracer, err := chainz.Init(traceCfg, sink, chainz.InitOptions{Logger: logger, Registerer: reg})
	if err != nil {
		return err
	}

	svc := newService(tracer, logger.Named("chain"), svcCfg.DownstreamURL, svcCfg.DownstreamPeer)
	srv := &http.Server{
		Addr:              ":" + svcCfg.Port,
		Handler:           svc.routes(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("downstream", svcCfg.DownstreamURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), traceCfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", zap.Error(err))
		return err
	}
	return nil
}

func newSink(ctx context.Context, svc serviceConfig, cfg chainz.Config, logger *zap.Logger) (chainz.Sink, error) {
	switch svc.Sink {
	case "otlp":
		return sinks.NewOTLP(ctx, cfg.Endpoint)
	case "http":
		u, err := url.Parse(svc.SinkURL)
		if err != nil {
			return nil, fmt.Errorf("invalid sink url %q: %w", svc.SinkURL, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid sink url %q: need an http or https URL", svc.SinkURL)
		}
		opts := []sinks.HTTPOption{sinks.WithTimeout(cfg.ExportTimeout)}
		if svc.SinkGzip {
			opts = append(opts, sinks.WithGzip())
		}
		return sinks.NewHTTP(u.String(), opts...), nil
	case "log":
		return sinks.NewLog(logger.Named("spans")), nil
	default:
		return nil, fmt.Errorf("unknown sink %q", svc.Sink)
	}
}
