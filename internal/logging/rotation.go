package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig bounds the on-disk footprint of a run's debug log.
type RotationConfig struct {
	// MaxSizeMB is the size at which the active log file is rotated out.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep. Zero keeps none:
	// rotation truncates history.
	MaxBackups int
}

// RotatingWriter is an io.Writer that appends to a log file and shifts it
// into numbered backups (debug.log.1 is the newest) once it exceeds the
// configured size. Long-lived conclave runs can poll and retry for hours,
// so the debug log is bounded rather than left to grow with the run.
//
// Safe for concurrent use.
type RotatingWriter struct {
	mu      sync.Mutex
	path    string
	limit   int64
	backups int
	file    *os.File
	size    int64
}

// NewRotatingWriter opens (or creates) the log file at path. A
// non-positive MaxSizeMB falls back to 10 MB.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	sizeMB := cfg.MaxSizeMB
	if sizeMB <= 0 {
		sizeMB = 10
	}
	backups := cfg.MaxBackups
	if backups < 0 {
		backups = 0
	}

	w := &RotatingWriter{
		path:    path,
		limit:   int64(sizeMB) * 1024 * 1024,
		backups: backups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// open opens the active file for appending and records its current size,
// so restarts resume rotation accounting where the previous run left off.
func (w *RotatingWriter) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// Write appends p, rotating first when it would push the file past the
// size limit. A single write larger than the limit still lands whole in a
// fresh file; log entries are never split across rotations.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate shifts the active file into the backup chain and reopens a fresh
// one. debug.log.1 is always the most recent backup; the file beyond
// MaxBackups falls off the end.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}
	w.file = nil

	if w.backups == 0 {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to drop rotated log: %w", err)
		}
		return w.open()
	}

	// Shift debug.log.N-1 -> debug.log.N from the oldest down, then move
	// the active file into slot 1.
	os.Remove(w.backupPath(w.backups))
	for i := w.backups - 1; i >= 1; i-- {
		from := w.backupPath(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}
		if err := os.Rename(from, w.backupPath(i+1)); err != nil {
			return fmt.Errorf("failed to shift log backup: %w", err)
		}
	}
	if err := os.Rename(w.path, w.backupPath(1)); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	return w.open()
}

func (w *RotatingWriter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// Close flushes and closes the active file. Writes after Close fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		w.file = nil
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := w.file.Close()
	w.file = nil
	return err
}
