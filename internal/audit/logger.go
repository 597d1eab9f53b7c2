package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger defines the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *Event) error

	// Automated response lifecycle
	LogResponseExecuted(ctx context.Context, responseID, action string, duration time.Duration) error
	LogResponseFailed(ctx context.Context, responseID, action string, err error) error
	LogRuleUpdated(ctx context.Context, ruleID string, changes map[string]interface{}) error

	// Provider registry changes
	LogProviderExhausted(ctx context.Context, attempts int, err error) error
	LogProviderToggled(ctx context.Context, provider string, enabled bool) error
	LogQuotaReset(ctx context.Context, provider string) error

	// System lifecycle
	LogSystemReset(ctx context.Context) error
	LogSystemOptimized(ctx context.Context, providers int) error
	LogServerStarted(ctx context.Context, addr string) error
	LogServerShutdown(ctx context.Context, reason string) error

	// Sync flushes buffered log entries
	Sync() error

	// Close closes the audit logger
	Close() error
}

// Config represents audit logger configuration
type Config struct {
	// Path is the audit log file. Empty routes events to the application logger.
	Path string

	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int

	// Compress determines if rotated files should be compressed
	Compress bool
}

// DefaultConfig returns default audit logger configuration
func DefaultConfig() *Config {
	return &Config{
		Path:       "logs/audit.log",
		MaxSize:    100, // megabytes
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
}

const bufferSize = 100

// auditLogger implements the Logger interface
type auditLogger struct {
	appLogger   *zap.Logger
	auditLogger *zap.Logger
	rotator     *lumberjack.Logger
	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a new audit logger. app receives marshal failures and,
// when config.Path is empty, the audit events themselves.
func NewLogger(config *Config, app *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if app == nil {
		app = zap.NewNop()
	}
	if config.MaxSize < 0 || config.MaxBackups < 0 || config.MaxAge < 0 {
		return nil, fmt.Errorf("invalid audit rotation settings: size=%d backups=%d age=%d",
			config.MaxSize, config.MaxBackups, config.MaxAge)
	}

	logger := &auditLogger{
		appLogger:   app,
		buffer:      make([]*Event, 0, bufferSize),
		flushTicker: time.NewTicker(1 * time.Second),
		stopCh:      make(chan struct{}),
	}

	if config.Path == "" {
		logger.auditLogger = app.Named("audit")
	} else {
		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "message",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
		}

		logger.rotator = &lumberjack.Logger{
			Filename:   config.Path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}

		// Audit logs are always INFO level, append-only
		auditCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(logger.rotator),
			zapcore.InfoLevel,
		)
		logger.auditLogger = zap.New(auditCore)
	}

	go logger.autoFlush()

	return logger, nil
}

// Log buffers an audit event, filling in the correlation ID from ctx.
func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferSize {
		return l.flushLocked()
	}
	return nil
}

// flushLocked flushes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	if len(l.buffer) == 0 {
		return nil
	}

	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.appLogger.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}

		l.auditLogger.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}

	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// ─── Automation ───────────────────────────────────────────────────────────────

func (l *auditLogger) LogResponseExecuted(ctx context.Context, responseID, action string, duration time.Duration) error {
	event := NewEvent(EventResponseExecuted).
		WithResource(responseID, "response").
		WithAction(action).
		WithDuration(duration).
		WithDescription(fmt.Sprintf("Response %s executed %s", responseID, action))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogResponseFailed(ctx context.Context, responseID, action string, err error) error {
	event := NewEvent(EventResponseFailed).
		WithResource(responseID, "response").
		WithAction(action).
		WithError(err, "response_error").
		WithDescription(fmt.Sprintf("Response %s failed to %s", responseID, action))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogRuleUpdated(ctx context.Context, ruleID string, changes map[string]interface{}) error {
	event := NewEvent(EventRuleUpdated).
		WithResource(ruleID, "rule").
		WithDescription(fmt.Sprintf("Rule %s updated", ruleID))
	for k, v := range changes {
		event.WithMetadata(k, v)
	}

	return l.Log(ctx, event)
}

// ─── Providers ────────────────────────────────────────────────────────────────

func (l *auditLogger) LogProviderExhausted(ctx context.Context, attempts int, err error) error {
	event := NewEvent(EventProviderExhausted).
		WithResource("*", "provider").
		WithError(err, "providers_exhausted").
		WithMetadata("attempts", attempts).
		WithDescription("Every provider was skipped or failed")

	return l.Log(ctx, event)
}

func (l *auditLogger) LogProviderToggled(ctx context.Context, provider string, enabled bool) error {
	event := NewEvent(EventProviderToggled).
		WithResource(provider, "provider").
		WithMetadata("enabled", enabled).
		WithDescription(fmt.Sprintf("Provider %s enabled=%t", provider, enabled))

	return l.Log(ctx, event)
}

// LogQuotaReset records a quota reset. An empty provider means all providers.
func (l *auditLogger) LogQuotaReset(ctx context.Context, provider string) error {
	if provider == "" {
		provider = "*"
	}
	event := NewEvent(EventProviderQuotaReset).
		WithResource(provider, "provider").
		WithDescription(fmt.Sprintf("Quota reset for %s", provider))

	return l.Log(ctx, event)
}

// ─── System ───────────────────────────────────────────────────────────────────

func (l *auditLogger) LogSystemReset(ctx context.Context) error {
	return l.Log(ctx, NewEvent(EventSystemReset).WithDescription("System state reset"))
}

func (l *auditLogger) LogSystemOptimized(ctx context.Context, providers int) error {
	event := NewEvent(EventSystemOptimized).
		WithMetadata("providers", providers).
		WithDescription("Provider health optimized")

	return l.Log(ctx, event)
}

func (l *auditLogger) LogServerStarted(ctx context.Context, addr string) error {
	event := NewEvent(EventServerStarted).
		WithMetadata("addr", addr).
		WithDescription(fmt.Sprintf("Server listening on %s", addr))

	return l.Log(ctx, event)
}

func (l *auditLogger) LogServerShutdown(ctx context.Context, reason string) error {
	event := NewEvent(EventServerShutdown).
		WithMetadata("reason", reason).
		WithDescription("Server shutting down")

	return l.Log(ctx, event)
}

// Sync flushes buffered log entries
func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.flushLocked(); err != nil {
		return err
	}
	if l.rotator == nil {
		return nil
	}
	return l.auditLogger.Sync()
}

// Close flushes and closes the audit logger. It is safe to call twice.
func (l *auditLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()

		if err = l.Sync(); err != nil {
			return
		}
		if l.rotator != nil {
			err = l.rotator.Close()
		}
	})
	return err
}

type correlationKey struct{}

// GetCorrelationID extracts correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID generates a new correlation ID
func GenerateCorrelationID() string {
	return uuid.NewString()
}
