package logging

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  *zap.Logger
	sugared *zap.SugaredLogger
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	DevelopmentMode()
}

// SetLevel adjusts the level of the loggers.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ConsoleMode switches logging output to TTY mode: colored levels, and
// timestamps rendered as seconds elapsed since the logger was built.
func ConsoleMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableCaller = true
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func() zapcore.TimeEncoder {
		// close over the start time to protect it.
		start := time.Now()
		return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			elapsed := t.Sub(start)
			enc.AppendString(strconv.FormatFloat(elapsed.Seconds(), 'f', 5, 64) + "s")
		}
	}()

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l
	sugared = l.Sugar()
}

// DevelopmentMode switches logging output to development mode.
func DevelopmentMode() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l
	sugared = l.Sugar()
}

// IsTerminal reports whether stdout is attached to a TTY.
func IsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// L returns the global raw logger.
func L() *zap.Logger {
	return logger
}

// S returns the global sugared logger.
func S() *zap.SugaredLogger {
	return sugared
}
