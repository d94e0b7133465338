// Package donlog sets up don's structured logger: a zap.Logger with a
// console encoder coloured via fatih/color and written through
// mattn/go-colorable so colour codes render correctly on Windows
// terminals too, matching the console-logging setup used elsewhere in
// the pack's Go services.
package donlog

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds don's default logger. verbose raises the level to Debug
// (the -v flag in cmd/don); otherwise only Info and above are emitted.
func New(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = coloredLevelEncoder
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.ConsoleSeparator = " "

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(colorable.NewColorable(os.Stderr)),
		level,
	)

	return zap.New(core)
}

// coloredLevelEncoder renders a log level the way don's terminal output
// highlights build failures: warnings and errors stand out in the same
// palette the teacher's CLI output uses for failed targets.
func coloredLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var c *color.Color
	switch lvl {
	case zapcore.DebugLevel:
		c = color.New(color.FgCyan)
	case zapcore.InfoLevel:
		c = color.New(color.FgGreen)
	case zapcore.WarnLevel:
		c = color.New(color.FgYellow)
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.Reset)
	}
	enc.AppendString(c.Sprint(lvl.CapitalString()))
}
