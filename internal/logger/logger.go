// Package logger is the process-wide slog logger shared by the server and
// the command line tools. It writes JSON or text to stderr, or ships records
// through OpenTelemetry when configured to.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// Options selects where records go. The zero value logs JSON to stderr.
type Options struct {
	Level       string
	Format      string // json or text
	SampleRate  int
	OTEL        bool
	ServiceName string
	Output      io.Writer
}

var (
	Logger *slog.Logger

	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32

	mu       sync.Mutex
	shutdown func(context.Context) error
)

func init() {
	opts := Options{
		Level:       os.Getenv("LOG_LEVEL"),
		OTEL:        strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true"),
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
		SampleRate:  100,
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil {
		opts.SampleRate = rate
	}
	if _, err := ParseLevel(opts.Level); err != nil {
		opts.Level = ""
	}

	if err := Configure(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging, falling back to JSON: %v\n", err)
		opts.OTEL = false
		_ = Configure(context.Background(), opts)
	}
}

// Configure replaces the global logger. A previously installed OTEL
// provider is flushed first.
func Configure(ctx context.Context, opts Options) error {
	level := LevelInfo
	if opts.Level != "" {
		parsed, err := ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = parsed
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}

	var (
		handler slog.Handler
		flush   func(context.Context) error
	)
	switch {
	case opts.OTEL:
		h, f, err := otelHandler(ctx, opts.ServiceName)
		if err != nil {
			return err
		}
		handler, flush = h, f
	case opts.Format == "" || opts.Format == "json":
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{Level: programLevel})
	case opts.Format == "text":
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{Level: programLevel})
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	mu.Lock()
	previous := shutdown
	shutdown = flush
	programLevel.Set(level)
	SetSampleRate(opts.SampleRate)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	mu.Unlock()

	if previous != nil {
		_ = previous(ctx)
	}
	return nil
}

func otelHandler(ctx context.Context, serviceName string) (slog.Handler, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "formrules"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)
	handler := leveled{
		min:  programLevel,
		next: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	return handler, provider.Shutdown, nil
}

// leveled drops records below min; the otel bridge has no level option
type leveled struct {
	min  slog.Leveler
	next slog.Handler
}

func (h leveled) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min.Level()
}

func (h leveled) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveled{min: h.min, next: h.next.WithAttrs(attrs)}
}

func (h leveled) WithGroup(name string) slog.Handler {
	return leveled{min: h.min, next: h.next.WithGroup(name)}
}

// Shutdown flushes buffered OTEL records. It does nothing for stream output.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	flush := shutdown
	shutdown = nil
	mu.Unlock()

	if flush == nil {
		return nil
	}
	return flush(ctx)
}

func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

func GetLevel() slog.Level {
	return programLevel.Level()
}

// SetSampleRate writes one in rate warnings and errors. Rates below one
// are ignored.
func SetSampleRate(rate int) {
	if rate > 0 {
		sampleRate.Store(int32(rate))
	}
}

// ParseLevel maps a level name to its slog level, case-insensitively
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

func sampled() bool {
	rate := sampleRate.Load()
	return rate <= 1 || rand.Intn(int(rate)) == 0
}

func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn always counts, but only sampled warnings are written
func Warn(msg string, args ...any) {
	counters.warnings.Add(1)
	if sampled() {
		Logger.Warn(msg, args...)
	}
}

// Error always counts, but only sampled errors are written
func Error(msg string, args ...any) {
	counters.errors.Add(1)
	if sampled() {
		Logger.Error(msg, args...)
	}
}

// Fatal writes msg unsampled, flushes and exits with status 1
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}
