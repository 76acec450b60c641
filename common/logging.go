package common

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogging sets the default slog logger to a JSON handler writing into logFile,
// or into the terminal when logFile is empty. The returned closer releases the log file.
func SetupLogging(logFile string, level string) (io.Closer, error) {
	var programLevel = new(slog.LevelVar) // Info by default
	if err := programLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil && level != "" {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	var logHandler slog.Handler
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		// Set file permissions to allow Read and Write for the owner
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logHandler = slog.NewJSONHandler(f, &slog.HandlerOptions{Level: programLevel})
		closer = f
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel})
	}

	slog.SetDefault(slog.New(logHandler))
	return closer, nil
}
