package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/INLOpen/chronicle/chronicle"
	"github.com/INLOpen/chronicle/config"
	"github.com/INLOpen/chronicle/server"
	"github.com/INLOpen/chronicle/sys"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/term"
)

const defaultConfigFilePath = "chronicle.yaml"

// app is the state shared by every subcommand: configuration, the ambient
// stack and the opened chronicle.
type app struct {
	configPath string
	path       string
	debugAddr  string

	cfg     *config.Config
	logger  *slog.Logger
	chr     *chronicle.Chronicle
	metrics *chronicle.Metrics

	cleanups []func()
}

// newRootCmd builds the command tree. The caller runs a.teardown after
// Execute; cobra skips post-run hooks when a command fails.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "chronicle",
		Short:         "Write, tail and inspect memory-mapped chronicle stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigFilePath, "path to the YAML configuration file")
	root.PersistentFlags().StringVarP(&a.path, "path", "p", "", "chronicle directory, overrides chronicle.base_path")
	root.PersistentFlags().StringVar(&a.debugAddr, "debug-addr", "", "serve expvar, pprof and statsviz on this address")

	root.AddCommand(
		newWriteCmd(a),
		newReadCmd(a),
		newDumpCmd(a),
		newReplayCmd(a),
		newVerifyCmd(a),
		newInfoCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.path != "" {
		cfg.Chronicle.BasePath = a.path
	}
	if a.debugAddr != "" {
		cfg.Debug.Enabled = true
		cfg.Debug.ListenAddress = a.debugAddr
	}
	a.cfg = cfg

	logger, closer, err := createLogger(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger
	// Debug logging also traces every file the store opens and closes.
	sys.SetDebugMode(strings.EqualFold(cfg.Logging.Level, "debug"))
	if closer != nil {
		a.cleanups = append(a.cleanups, func() { closer.Close() })
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		return err
	}
	a.cleanups = append(a.cleanups, tracerCleanup)

	if cfg.Debug.Enabled {
		a.metrics = chronicle.NewMetrics(true, "chronicle_")
		srv := server.NewMetricsServer(&cfg.Debug, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Debug server failed.", "error", err)
			}
		}()
		collector := server.NewSystemCollector(cfg.Chronicle.BasePath, 5*time.Second, logger)
		collector.Start()
		a.cleanups = append(a.cleanups, collector.Stop, srv.Stop)
	} else {
		a.metrics = chronicle.NewMetrics(false, "")
	}

	settings, err := cfg.Chronicle.Settings(logger)
	if err != nil {
		return fmt.Errorf("invalid chronicle configuration: %w", err)
	}
	chr, err := chronicle.Open(settings,
		chronicle.WithLogger(logger),
		chronicle.WithMetrics(a.metrics),
		chronicle.WithTracerProvider(tp),
	)
	if err != nil {
		return err
	}
	a.chr = chr
	a.cleanups = append(a.cleanups, func() {
		if err := chr.Close(); err != nil {
			logger.Error("Failed to close chronicle.", "error", err)
		}
	})
	logger.Debug("Chronicle ready.", "settings", settings.String())
	return nil
}

// teardown runs cleanups in reverse order of registration.
func (a *app) teardown() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}

// createLogger builds the logger described by cfg. Terminal output gets the text
// handler, everything else JSON.
func createLogger(cfg config.LoggingConfig, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	opts := &slog.HandlerOptions{Level: level}
	if f, ok := output.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(output, opts)), closer, nil
	}
	return slog.New(slog.NewJSONHandler(output, opts)), closer, nil
}

// initTracerProvider creates the OpenTelemetry provider handed to the
// chronicle. When tracing is disabled the SDK provider has no exporter.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("chronicle")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}
