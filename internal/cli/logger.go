package cli

import "go.uber.org/zap"

// runLogger wraps zap for verbose debug output during test runs.
type runLogger struct {
	sugared *zap.SugaredLogger
}

func newRunLogger(globals *Globals) *runLogger {
	if globals == nil || !globals.Verbose {
		return &runLogger{}
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	cfg.Encoding = "json"
	logger, _ := cfg.Build()
	return &runLogger{sugared: logger.Sugar()}
}

func (l *runLogger) Debug(format string, args ...interface{}) {
	if l.sugared == nil {
		return
	}
	l.sugared.Debugf(format, args...)
}

// Sugared exposes the underlying logger for the runner packages; nil when
// verbose logging is off.
func (l *runLogger) Sugared() *zap.SugaredLogger {
	return l.sugared
}

// SugaredLogger returns the verbose logger, or nil when --verbose is off.
func (g *Globals) SugaredLogger() *zap.SugaredLogger {
	if g.logger == nil {
		return nil
	}
	return g.logger.Sugared()
}
