package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with convenience methods.
type Logger struct {
	*zap.Logger
}

// Format selects the entry encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config defines logger configuration.
type Config struct {
	Level   string // "debug", "info", "warn", "error"
	Format  Format
	Output  string // "stderr", "stdout" or a file path
	Service string // stamped on every entry when set
	Caller  bool
}

// ServerConfig is the axiomd default: JSON entries with caller and service.
func ServerConfig() Config {
	return Config{
		Level:   "info",
		Format:  FormatJSON,
		Output:  "stderr",
		Service: "axiomd",
		Caller:  true,
	}
}

// CLIConfig logs terse console lines, warnings only unless verbose.
func CLIConfig(verbose bool) Config {
	cfg := Config{Level: "warn", Format: FormatConsole, Output: "stderr"}
	if verbose {
		cfg.Level = "debug"
		cfg.Caller = true
	}
	return cfg
}

// New builds a logger from cfg.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.EncoderConfig
	switch cfg.Format {
	case FormatJSON, "":
		cfg.Format = FormatJSON
		encoder = zap.NewProductionEncoderConfig()
		encoder.TimeKey = "ts"
		encoder.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder.EncodeDuration = zapcore.MillisDurationEncoder
	case FormatConsole:
		encoder = zap.NewDevelopmentEncoderConfig()
		encoder.TimeKey = zapcore.OmitKey
		encoder.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder.EncodeDuration = zapcore.StringDurationEncoder
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Encoding:          string(cfg.Format),
		EncoderConfig:     encoder,
		OutputPaths:       []string{cfg.Output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.Caller,
		DisableStacktrace: level > zapcore.DebugLevel,
	}
	if cfg.Service != "" {
		zapCfg.InitialFields = map[string]any{"service": cfg.Service}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}
