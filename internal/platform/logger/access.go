package logger

import (
	"fmt"
	"log/slog"
	"os"
)

// AccessLog appends one line per stream request to a file.
type AccessLog struct {
	file *os.File
	log  *slog.Logger
}

// OpenAccessLog opens (creating if needed) the file at path in append mode.
func OpenAccessLog(path string) (*AccessLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open access log %s: %w", path, err)
	}
	return &AccessLog{
		file: f,
		log:  slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}, nil
}

// Record writes an access line with the client address, the requested path
// and the upstream locator it resolved to. A nil AccessLog is a no-op.
func (a *AccessLog) Record(remote, path, locator string) {
	if a == nil {
		return
	}
	a.log.Info("access",
		slog.String("remote", remote),
		slog.String("path", path),
		slog.String("locator", locator),
	)
}

// Close closes the underlying file.
func (a *AccessLog) Close() error {
	if a == nil {
		return nil
	}
	return a.file.Close()
}
