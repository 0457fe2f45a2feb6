/**
 * @description
 * Structured JSON logger shared by the binaries. Logs go to stdout and, when a
 * file is configured, to a size-rotated file as well.
 */
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a JSON slog logger at the given level. An empty file disables the
// rotating file sink.
func New(level, file string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(Writer(file), &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Writer returns stdout, teed into a lumberjack rotating file when file is set.
func Writer(file string) io.Writer {
	file = strings.TrimSpace(file)
	if file == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	})
}

// ParseLevel maps a textual level to slog, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
