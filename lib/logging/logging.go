// Package logging builds the zap loggers the commands use. A run can
// tee its log to a timestamped file so the dashboard has something to
// tail.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stamp matches the data file name layout so a run's log and data files
// sort together.
const Stamp = "2006-01-02_15-04-05"

// FileName builds the log file path for a run started at t.
func FileName(dir, name string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", t.Format(Stamp), name))
}

// New builds a console logger on stderr. With verbose the level drops
// to debug. When logFile is non-empty the output is teed to it.
func New(verbose bool, logFile string) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(f), level))
	}
	return zap.New(zapcore.NewTee(cores...)), nil
}
