package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Rotation bounds suited to a long-lived serve process on a workstation.
const (
	DefaultMaxSizeMB  = 25
	DefaultMaxAgeDays = 14
)

// RollingWriter appends to a single log file and rolls it aside once it
// grows past the size bound. Rolled files get a timestamp suffix, are
// gzipped when compression is on, and are pruned by age after every roll.
// Writes are serialized; the keeper daemon logs from several goroutines.
type RollingWriter struct {
	mu       sync.Mutex
	path     string
	limit    int64
	maxAge   time.Duration
	compress bool

	file *os.File
	size int64
	jobs sync.WaitGroup
}

// NewRollingWriter opens (or creates) the log file at path, creating parent
// directories as needed. maxSizeMB and maxAgeDays fall back to the package
// defaults when non-positive.
func NewRollingWriter(path string, maxSizeMB, maxAgeDays int, compress bool) (*RollingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	w := &RollingWriter{
		path:     path,
		limit:    int64(maxSizeMB) * 1024 * 1024,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
		file:     file,
		size:     info.Size(),
	}
	w.prune()
	return w, nil
}

func (w *RollingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.roll(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the active log file and waits for any in-flight compression.
func (w *RollingWriter) Close() error {
	w.mu.Lock()
	err := w.file.Close()
	w.mu.Unlock()
	w.jobs.Wait()
	return err
}

// roll renames the active file aside and starts a fresh one. Callers hold
// the mutex.
func (w *RollingWriter) roll() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rolled := w.rolledName(time.Now().UTC())
	if err := os.Rename(w.path, rolled); err != nil {
		return err
	}

	if w.compress {
		w.jobs.Add(1)
		go func() {
			defer w.jobs.Done()
			_ = gzipAndRemove(rolled)
		}()
	}
	w.prune()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = file
	w.size = 0
	return nil
}

// rolledName picks a timestamped name that does not collide with an earlier
// roll in the same second.
func (w *RollingWriter) rolledName(now time.Time) string {
	stamp := now.Format("20060102T150405")
	name := fmt.Sprintf("%s.%s", w.path, stamp)
	for seq := 1; ; seq++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if _, err := os.Stat(name + ".gz"); os.IsNotExist(err) {
				return name
			}
		}
		name = fmt.Sprintf("%s.%s.%d", w.path, stamp, seq)
	}
}

// prune removes rolled files older than the retention window
func (w *RollingWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-w.maxAge)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(m)
		}
	}
}

// gzipAndRemove compresses path into path.gz and deletes the original
func gzipAndRemove(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
