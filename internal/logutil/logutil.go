package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const (
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

var debug bool

// Setup sends the standard logger to stderr, or to path with basic size-based
// rotation (10MB, max 3 archives) when path is set. The returned closer
// releases the log file.
func Setup(path string, enableDebug bool) (io.Closer, error) {
	debug = enableDebug
	log.SetFlags(log.LstdFlags)
	if enableDebug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	if path == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	w, err := NewRotatingWriter(path, maxSizeBytes, maxArchives)
	if err != nil {
		return nil, err
	}
	log.SetOutput(w)
	return w, nil
}

// Debugf logs only when debug logging is enabled
func Debugf(format string, args ...any) {
	if debug {
		log.Output(2, fmt.Sprintf("DEBUG "+format, args...))
	}
}

// RotatingWriter appends to a file and shifts it to .1, .2, ... once it
// would grow past maxSize. The oldest archive is discarded.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	archives int
	f        *os.File
}

// NewRotatingWriter opens path for appending, rotating first if it is already too big
func NewRotatingWriter(path string, maxSize int64, archives int) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, maxSize: maxSize, archives: archives}
	w.rotateIfNeeded(0)
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	w.f = f
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, os.ErrClosed
	}
	// naive rotation check per write
	if st, err := w.f.Stat(); err == nil && st.Size() > 0 && st.Size()+int64(len(p)) > w.maxSize {
		_ = w.f.Close()
		w.rotateIfNeeded(len(p))
		if err := w.open(); err != nil {
			w.f = nil
			return 0, err
		}
	}
	return w.f.Write(p)
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingWriter) rotateIfNeeded(incoming int) {
	st, err := os.Stat(w.path)
	if err != nil || st.Size() == 0 || st.Size()+int64(incoming) <= w.maxSize {
		return
	}
	_ = os.Remove(w.archiveName(w.archives))
	for i := w.archives - 1; i >= 1; i-- {
		_ = os.Rename(w.archiveName(i), w.archiveName(i+1))
	}
	_ = os.Rename(w.path, w.archiveName(1))
}

func (w *RotatingWriter) archiveName(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if k == "" {
		return "(none)"
	}
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}
