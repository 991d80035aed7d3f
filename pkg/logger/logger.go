// Package logger provides structured logging functionality using slog
package logger

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey ContextKey = "request_id"
)

// Config holds logger configuration
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// NewLogger creates a new structured logger based on configuration
func NewLogger(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := SetupWriter(cfg)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// ParseLevel parses string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupWriter configures the output writer based on configuration
func SetupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,    // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,     // days
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		return os.Stdout
	}
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if random fails
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// LoggingMiddleware returns HTTP middleware that logs requests
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Generate request ID if not present
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = GenerateRequestID()
			}

			// Add request ID to context
			ctx := WithRequestID(r.Context(), requestID)
			r = r.WithContext(ctx)

			// Add request ID to response header
			w.Header().Set("X-Request-ID", requestID)

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			// Process request
			next.ServeHTTP(wrapped, r)

			// Log request
			duration := time.Since(start)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", duration,
				"request_id", requestID,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// FromContext creates a logger with request ID from context
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return logger.With("request_id", requestID)
	}
	return logger
}

// ForWorker returns a logger scoped to a single worker config, matching the
// attribute shape the orchestrator attaches to every worker log line.
func ForWorker(base *slog.Logger, configName, runID string) *slog.Logger {
	return base.With("component", "worker", "config", configName, "run_id", runID)
}

// NewWorkerLogger builds the base logger for a single worker: a file sink
// rotated by lumberjack, in its own directory named by the config stem,
// fanned out alongside a console stream that is always present regardless
// of the file sink's configuration.
func NewWorkerLogger(level, logDir, configName string) *slog.Logger {
	parsed := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     parsed,
		AddSource: parsed == slog.LevelDebug,
	}

	fileWriter := SetupWriter(Config{
		Output:     "file",
		Filename:   filepath.Join(logDir, configName, configName+".log"),
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})

	fileHandler := slog.NewJSONHandler(fileWriter, opts)
	consoleHandler := slog.NewJSONHandler(os.Stdout, opts)

	return slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, consoleHandler}})
}

// AggregatorWriter is an io.Writer that batches written log lines and POSTs
// them to a central log aggregator endpoint, flushing whenever the batch
// reaches flushSize lines or flushInterval elapses. Used as a supplementary
// slog handler writer, alongside (not instead of) the local file/stdout
// writer built by SetupWriter.
type AggregatorWriter struct {
	url           string
	client        *http.Client
	flushSize     int
	flushInterval time.Duration

	mu      chan struct{}
	buf     [][]byte
	stop    chan struct{}
	flushed chan struct{}
}

// NewAggregatorWriter creates an AggregatorWriter that POSTs batches of log
// lines to url as newline-delimited bodies.
func NewAggregatorWriter(url string, flushSize int, flushInterval time.Duration) *AggregatorWriter {
	if flushSize <= 0 {
		flushSize = 50
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	w := &AggregatorWriter{
		url:           url,
		client:        &http.Client{Timeout: 10 * time.Second},
		flushSize:     flushSize,
		flushInterval: flushInterval,
		mu:            make(chan struct{}, 1),
		stop:          make(chan struct{}),
		flushed:       make(chan struct{}),
	}
	w.mu <- struct{}{}

	go w.loop()
	return w
}

// Write implements io.Writer. It never blocks on the network; lines are
// buffered and shipped asynchronously by the background flush loop.
func (w *AggregatorWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	<-w.mu
	w.buf = append(w.buf, line)
	full := len(w.buf) >= w.flushSize
	w.mu <- struct{}{}

	if full {
		select {
		case w.flushed <- struct{}{}:
		default:
		}
	}

	return len(p), nil
}

func (w *AggregatorWriter) loop() {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.flushed:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *AggregatorWriter) flush() {
	<-w.mu
	if len(w.buf) == 0 {
		w.mu <- struct{}{}
		return
	}
	batch := w.buf
	w.buf = nil
	w.mu <- struct{}{}

	var body bytes.Buffer
	for _, line := range batch {
		body.Write(line)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, &body)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := w.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Close stops the background flush loop after delivering any buffered lines.
func (w *AggregatorWriter) Close() error {
	close(w.stop)
	return nil
}

// WithAggregator returns a logger that writes every record to base's
// existing handler and, in parallel, as JSON to a central aggregator at
// url. The returned close function must be called once the logger is no
// longer needed, to flush and stop the aggregator's background loop.
func WithAggregator(base *slog.Logger, url string) (*slog.Logger, func() error) {
	agg := NewAggregatorWriter(url, 50, 5*time.Second)
	aggHandler := slog.NewJSONHandler(agg, nil)
	return slog.New(&multiHandler{handlers: []slog.Handler{base.Handler(), aggHandler}}), agg.Close
}

// multiHandler fans out every record to a fixed set of slog.Handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
