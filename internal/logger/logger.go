package logger

import "go.uber.org/zap"

var Log *zap.Logger = zap.NewNop()

func Init() {
	Log = zap.Must(zap.NewProduction())
}

// InitWithLevel is Init with an explicit level name ("debug", "info", "warn", "error").
func InitWithLevel(level string) error {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	return nil
}

func Sugar() *zap.SugaredLogger {
	return Log.Sugar()
}
