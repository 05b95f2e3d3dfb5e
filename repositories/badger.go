package repositories

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// OpenBadger opens the store backing transcripts.
// An empty path keeps everything in memory, rooms are ephemeral anyway.
func OpenBadger(path string, log *slog.Logger) (*badger.DB, error) {
	options := badger.DefaultOptions(path)
	if path == "" {
		options = badger.DefaultOptions("").WithInMemory(true)
	}
	options = options.WithLogger(badgerLogger{log: log.With("component", "badger")})
	return badger.Open(options)
}

// badgerLogger routes badger's printf style logs into slog.
// Badger is chatty at INFO, so it is demoted to debug.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(clean(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(clean(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(clean(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(clean(format, args...))
}

func clean(format string, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
