package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide sugared logger. It is a no-op logger until
// InitLogger is called, so packages can log unconditionally in tests.
var (
	Log = zap.NewNop().Sugar()
)

// InitLogger builds the global logger. Development mode logs at debug level
// with a console encoder; production mode emits sampled JSON at the given level.
func InitLogger(development bool, level string) error {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
		config.Sampling = &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		}
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
		config.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := config.Build()
	if err != nil {
		return err
	}

	Log = l.Sugar()
	return nil
}

func Sync() {
	_ = Log.Sync()
}

// WithFields returns a child logger carrying the given fields.
func WithFields(fields map[string]interface{}) *zap.SugaredLogger {
	keyValuePairs := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		keyValuePairs = append(keyValuePairs, k, v)
	}

	return Log.With(keyValuePairs...)
}
