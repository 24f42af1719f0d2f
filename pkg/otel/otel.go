// Package otel wires OpenTelemetry tracing and the process logger for
// the v3kn server.
package otel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName string
	Environment string
	Tracing     bool
	LogFile     string // flat log, truncated every boot
	LogsDir     string // day-sharded tree: LogsDir/YYYY/MM/DD.log
}

// InitResult holds the process logger and the shutdown hook.
type InitResult struct {
	Logger   *slog.Logger
	Shutdown func(context.Context) error
}

// Init builds the logger tee (console, flat file, daily file) and,
// when enabled, installs the stdout trace exporter as the global
// tracer provider.
func Init(cfg Config) (*InitResult, error) {
	console := tint.NewHandler(os.Stderr, &tint.Options{
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		TimeFormat: time.TimeOnly,
	})

	flat, err := newFileHandler(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	daily := newDailyHandler(cfg.LogsDir)

	logger := slog.New(&teeHandler{handlers: []slog.Handler{console, flat, daily}})

	var tp *sdktrace.TracerProvider
	if cfg.Tracing {
		tp, err = initTracer(cfg)
		if err != nil {
			return nil, err
		}
	}

	shutdown := func(ctx context.Context) error {
		if tp != nil {
			_ = tp.Shutdown(ctx)
		}
		_ = flat.Close()
		_ = daily.Close()
		return nil
	}

	return &InitResult{Logger: logger, Shutdown: shutdown}, nil
}

func initTracer(cfg Config) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, nil
}

// Tracer returns a tracer for the given instrumentation name.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Context keys for per-request identity.
type ctxKey int

const (
	ctxKeyNPID ctxKey = iota
	ctxKeyRequestID
)

// WithNPID stores the authenticated account in ctx and tags the live
// span when one is recording.
func WithNPID(ctx context.Context, npid string) context.Context {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(NPID(npid))
	}
	return context.WithValue(ctx, ctxKeyNPID, npid)
}

func NPIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyNPID).(string); ok {
		return v
	}
	return ""
}

// WithRequestID stores the request id in ctx and tags the live span.
func WithRequestID(ctx context.Context, id string) context.Context {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(RequestID(id))
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: handlers}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: handlers}
}

// formatRecord renders [DD-MM-YYYY HH:MM:SS] msg key=value, the layout
// the server's file logs have always carried.
func formatRecord(r slog.Record, attrs []slog.Attr, group string) []byte {
	var buf []byte
	buf = append(buf, '[')
	buf = append(buf, r.Time.Format("02-01-2006 15:04:05")...)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	appendAttr := func(a slog.Attr) {
		buf = append(buf, ' ')
		if group != "" {
			buf = append(buf, group...)
			buf = append(buf, '.')
		}
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, a.Value.String()...)
	}
	for _, a := range attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})

	buf = append(buf, '\n')
	return buf
}

// fileHandler writes formatRecord lines to one file, truncated when
// opened.
type fileHandler struct {
	mu    *sync.Mutex
	w     *os.File
	attrs []slog.Attr
	group string
}

func newFileHandler(path string) (*fileHandler, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &fileHandler{mu: &sync.Mutex{}, w: f}, nil
}

func (h *fileHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *fileHandler) Handle(_ context.Context, r slog.Record) error {
	buf := formatRecord(r, h.attrs, h.group)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *fileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	merged = append(merged, attrs...)
	return &fileHandler{mu: h.mu, w: h.w, attrs: merged, group: h.group}
}

func (h *fileHandler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &fileHandler{mu: h.mu, w: h.w, attrs: h.attrs, group: g}
}

func (h *fileHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Close()
}

// dailyHandler appends to LogsDir/YYYY/MM/DD.log, rolling the open
// file when the record's date changes.
type dailyHandler struct {
	state *dailyState
	attrs []slog.Attr
	group string
}

type dailyState struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	day  string
}

func newDailyHandler(dir string) *dailyHandler {
	return &dailyHandler{state: &dailyState{dir: dir}}
}

func (h *dailyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (h *dailyHandler) Handle(_ context.Context, r slog.Record) error {
	buf := formatRecord(r, h.attrs, h.group)

	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()

	day := r.Time.Format("2006/01/02")
	if s.file == nil || day != s.day {
		if s.file != nil {
			_ = s.file.Close()
		}
		path := filepath.Join(s.dir, day+".log")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		s.file = f
		s.day = day
	}

	_, err := s.file.Write(buf)
	return err
}

func (h *dailyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(merged, h.attrs)
	merged = append(merged, attrs...)
	return &dailyHandler{state: h.state, attrs: merged, group: h.group}
}

func (h *dailyHandler) WithGroup(name string) slog.Handler {
	g := name
	if h.group != "" {
		g = h.group + "." + name
	}
	return &dailyHandler{state: h.state, attrs: h.attrs, group: g}
}

func (h *dailyHandler) Close() error {
	s := h.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
