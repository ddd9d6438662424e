package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/twsaudio/internal/errors"
)

const (
	// defaultAttrCapacity covers module + ~7 fields
	defaultAttrCapacity = 8

	// traceLevelValue is slog.Level for TRACE level (below Debug which is -4)
	traceLevelValue = slog.Level(-8)

	// floatPrecisionRatio rounds floats to 3 decimal places in log output
	floatPrecisionRatio = 1000.0

	moduleKey  = "module"
	traceIDKey = "trace_id"
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal sets the global CentralLogger instance.
// Called once during startup after configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the global CentralLogger instance, falling back to a
// console-only logger when SetGlobal has not been called.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}

	globalLogger = &CentralLogger{
		config: &LoggingConfig{
			DefaultLevel: DefaultLogLevel,
			Timezone:     "Local",
			Console:      &ConsoleOutput{Enabled: true, Level: DefaultLogLevel},
		},
		timezone:     time.Local,
		moduleLevels: make(map[string]slog.Level),
		baseHandler:  newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
	}

	return globalLogger
}

type loggerContextKey struct{ name string }

// TraceIDKey is the context key for trace IDs. Use WithTraceID to set values.
var TraceIDKey = loggerContextKey{"trace_id"}

// WithTraceID returns a new context with the trace ID set
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

var attrPool = sync.Pool{
	New: func() any {
		s := make([]slog.Attr, 0, defaultAttrCapacity)
		return &s
	},
}

func getAttrs() *[]slog.Attr {
	ptr, ok := attrPool.Get().(*[]slog.Attr)
	if !ok {
		s := make([]slog.Attr, 0, defaultAttrCapacity)
		return &s
	}
	return ptr
}

func putAttrs(attrs *[]slog.Attr) {
	*attrs = (*attrs)[:0]
	attrPool.Put(attrs)
}

// CentralLogger manages module-aware logging
type CentralLogger struct {
	config       *LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	mainWriter   *LogFile
	moduleLevels map[string]slog.Level
	mu           sync.RWMutex
}

// NewCentralLogger creates a centralized logger writing text to stdout and,
// when enabled, JSON to the configured file.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	return newCentralLogger(cfg, os.Stdout)
}

func newCentralLogger(cfg *LoggingConfig, console io.Writer) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.Newf("logging config cannot be nil").
			Component("logger").
			Category(errors.CategoryConfiguration).
			Build()
	}

	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:       cfg,
		timezone:     tz,
		moduleLevels: make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}

	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	if err := cl.createBaseHandler(console); err != nil {
		return nil, fmt.Errorf("failed to create base handler: %w", err)
	}

	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	default:
		tz, err := time.LoadLocation(name)
		if err != nil {
			return nil, errors.New(err).
				Component("logger").
				Category(errors.CategoryConfiguration).
				Context("timezone", name).
				Build()
		}
		return tz, nil
	}
}

func (cl *CentralLogger) createBaseHandler(console io.Writer) error {
	var handlers []slog.Handler

	if cl.config.Console != nil && cl.config.Console.Enabled {
		handlers = append(handlers, newTextHandler(console, parseLogLevel(cl.config.Console.Level), cl.timezone))
	}

	if cl.config.FileOutput != nil && cl.config.FileOutput.Enabled {
		if err := ensureFileDirectory(cl.config.FileOutput.Path); err != nil {
			return err
		}

		writer, err := OpenLogFile(cl.config.FileOutput.Path, DefaultFlushDelay)
		if err != nil {
			return err
		}
		cl.mainWriter = writer

		opts := &slog.HandlerOptions{Level: parseLogLevel(cl.config.FileOutput.Level)}
		handlers = append(handlers, slog.NewJSONHandler(writer, opts))
	}

	switch len(handlers) {
	case 0:
		cl.baseHandler = newTextHandler(console, parseLogLevel(cl.config.DefaultLevel), cl.timezone)
	case 1:
		cl.baseHandler = handlers[0]
	default:
		cl.baseHandler = teeHandler(handlers)
	}

	return nil
}

// Module returns a logger scoped to a specific module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	return &moduleLogger{
		central:  cl,
		module:   name,
		logger:   slog.New(cl.baseHandler),
		level:    cl.moduleLevelLocked(name),
		timezone: cl.timezone,
	}
}

// moduleLevelLocked resolves the most specific override: "pipeline.phase"
// falls back to "pipeline" and then to the default level
func (cl *CentralLogger) moduleLevelLocked(module string) slog.Level {
	for name := module; name != ""; {
		if level, ok := cl.moduleLevels[name]; ok {
			return level
		}
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			break
		}
		name = name[:i]
	}
	return parseLogLevel(cl.config.DefaultLevel)
}

// Close flushes and closes the file writer
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.mainWriter == nil {
		return nil
	}
	err := cl.mainWriter.Close()
	cl.mainWriter = nil
	return err
}

// Flush writes buffered log lines to the OS without fsync
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	if cl.mainWriter == nil {
		return nil
	}
	return cl.mainWriter.Flush()
}

func ensureFileDirectory(filePath string) error {
	if filePath == "" {
		return nil
	}

	dir := filepath.Dir(filePath)
	if dir == "." || dir == filePath {
		return nil
	}

	const dirPermissions = 0o700
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return errors.New(err).
			Component("logger").
			Category(errors.CategoryFileIO).
			Context("directory", dir).
			Build()
	}

	return nil
}

// parseLogLevel converts string level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace":
		return traceLevelValue
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// moduleLogger implements Logger for a specific module
type moduleLogger struct {
	central  *CentralLogger
	module   string
	logger   *slog.Logger
	level    slog.Level
	timezone *time.Location
	fields   []Field
}

// Module creates a sub-module logger ("pipeline.phase") with its own
// level override, if one is configured
func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}

	sub := &moduleLogger{
		central:  m.central,
		module:   m.module + "." + name,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Clone(m.fields),
	}
	if m.central != nil {
		m.central.mu.RLock()
		sub.level = m.central.moduleLevelLocked(sub.module)
		m.central.mu.RUnlock()
	}
	return sub
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.emit(traceLevelValue, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.emit(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.emit(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.emit(slog.LevelWarn, msg, fields) }

// Error is never filtered by module level
func (m *moduleLogger) Error(msg string, fields ...Field) {
	if m != nil {
		m.log(slog.LevelError, msg, fields...)
	}
}

// Log logs a message with explicit level
func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.emit(parseSlogLevel(level), msg, fields)
}

func (m *moduleLogger) emit(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}
	m.log(level, msg, fields...)
}

// With returns a new logger with accumulated fields
func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}

	return &moduleLogger{
		central:  m.central,
		module:   m.module,
		logger:   m.logger,
		level:    m.level,
		timezone: m.timezone,
		fields:   slices.Concat(m.fields, fields),
	}
}

// WithContext returns a logger carrying the context's trace ID, if any
func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}

	traceID := getTraceIDFromContext(ctx)
	if traceID == "" {
		return m
	}

	return m.With(String(traceIDKey, traceID))
}

// Flush is a no-op; module loggers don't own file handles
func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields ...Field) {
	attrsPtr := getAttrs()
	attrs := *attrsPtr

	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}

	m.logger.LogAttrs(context.Background(), level, msg, attrs...)

	*attrsPtr = attrs
	putAttrs(attrsPtr)
}

func roundFloat(val float64) float64 {
	return math.Round(val*floatPrecisionRatio) / floatPrecisionRatio
}

// fieldToAttr converts Field to slog.Attr
func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case uint64:
		return slog.Uint64(f.Key, v)
	case float32:
		return slog.Float64(f.Key, roundFloat(float64(v)))
	case float64:
		return slog.Float64(f.Key, roundFloat(v))
	case bool:
		return slog.Bool(f.Key, v)
	case time.Time:
		return slog.Time(f.Key, v)
	case time.Duration:
		// slog.Duration renders nanoseconds in JSON
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	case fmt.Stringer:
		return slog.String(f.Key, v.String())
	default:
		return slog.Any(f.Key, v)
	}
}

func getTraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
