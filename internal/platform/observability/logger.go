package observability

import (
	"context"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

const (
	envLogLevel  = "LOG_LEVEL"
	envLogFormat = "LOG_FORMAT"
)

type loggerOptions struct {
	level   string
	console bool
}

// LoggerOption customises NewLogger.
type LoggerOption func(*loggerOptions)

// WithLogLevel overrides LOG_LEVEL.
func WithLogLevel(level string) LoggerOption {
	return func(o *loggerOptions) { o.level = level }
}

// WithConsoleOutput switches to human readable lines on stderr, as used by checkoutctl.
func WithConsoleOutput() LoggerOption {
	return func(o *loggerOptions) { o.console = true }
}

// NewLogger builds the process logger. JSON entries use the Cloud Logging field names (severity,
// message, timestamp); LOG_FORMAT=console selects the console encoder.
func NewLogger(opts ...LoggerOption) (*zap.Logger, error) {
	o := loggerOptions{
		level:   os.Getenv(envLogLevel),
		console: strings.EqualFold(strings.TrimSpace(os.Getenv(envLogFormat)), "console"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if raw := strings.ToLower(strings.TrimSpace(o.level)); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			level.SetLevel(zapcore.InfoLevel)
		}
	}

	if o.console {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = level
		cfg.OutputPaths = []string{"stderr"}
		cfg.DisableStacktrace = true
		return cfg.Build()
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.MessageKey = "message"
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.LevelKey = "severity"
	encoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// WithLogger injects the logger into the provided context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// PrintfAdapter lets middlewares that take a Printf logger write through zap.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.Sugar()}
}

func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(format, args...)
}

// EventLogger adapts logger to the func(ctx, event, fields) hook services accept. The request
// scoped logger on ctx wins over the fallback so request and trace ids are attached. Events that
// carry an "error" field are logged at warn level.
func EventLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		if _, failed := fields["error"]; failed {
			logger.Warn(event, zFields...)
			return
		}
		logger.Info(event, zFields...)
	}
}

// logSafe drops control characters other than whitespace and caps the rune count so header
// derived values cannot forge log lines.
func logSafe(value string, limit int) string {
	out := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, r)
	}
	return string(out)
}
