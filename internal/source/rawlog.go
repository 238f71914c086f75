package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// RawLog appends every raw line to an hourly file under
// <dir>/<YYYY-MM-DD>/<YYYY-MM-DD-HH>-00-00.xml, in local time.
type RawLog struct {
	dir    string
	now    func() time.Time
	logger logging.ServiceLogger

	mu   sync.Mutex
	f    *os.File
	path string
}

func NewRawLog(dir string, log logging.ServiceLogger) *RawLog {
	if log == nil {
		log = logging.NewNop()
	}
	return &RawLog{dir: dir, now: time.Now, logger: log}
}

// PathFor returns the file a line read at t is appended to.
func (l *RawLog) PathFor(t time.Time) string {
	t = t.Local()
	return filepath.Join(l.dir, t.Format("2006-01-02"), t.Format("2006-01-02-15")+"-00-00.xml")
}

// Write appends line verbatim, switching files when the hour changes.
func (l *RawLog) Write(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.PathFor(l.now())
	if path != l.path || l.f == nil {
		if err := l.rotate(path); err != nil {
			return err
		}
	}
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("failed to append raw line to %s: %w", l.path, err)
	}
	return nil
}

func (l *RawLog) rotate(path string) error {
	if l.f != nil {
		if err := l.f.Close(); err != nil {
			l.logger.Warn("Failed to close raw log", logging.LogFields{"path": l.path, "error": err.Error()})
		}
		l.f = nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create raw log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open raw log %s: %w", path, err)
	}
	l.f = f
	l.path = path
	l.logger.Debug("Raw log file opened", logging.LogFields{"path": path})
	return nil
}

func (l *RawLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	l.path = ""
	return err
}
