package persist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"timekeep/logx"
)

const DefaultDebounce = 500 * time.Millisecond

var ErrClosed = errors.New("persist: writer closed")

// Snapshot produces the full serialized state to be written.
// It is called outside the Writer's lock, on the writing goroutine.
type Snapshot func() ([]byte, error)

// Writer debounces and serializes writes to a single file.
//
// Every file has exactly one Writer; two processes sharing a data directory
// are unsupported.
type Writer struct {
	log      logx.Logger
	path     string
	snapshot Snapshot
	debounce time.Duration

	// Throttles repeated write-failure warnings so a full disk doesn't
	// flood the log at the debounce frequency.
	warnLimit *rate.Limiter

	mu      sync.Mutex
	cond    *sync.Cond
	dirty   bool
	writing bool
	closed  bool
	timer   *time.Timer
}

type WriterOption func(*Writer)

// WithDebounce overrides the debounce window. Values <= 0 keep the default.
func WithDebounce(d time.Duration) WriterOption {
	return func(w *Writer) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func WithLogger(log logx.Logger) WriterOption {
	return func(w *Writer) { w.log = log }
}

func NewWriter(path string, snapshot Snapshot, opts ...WriterOption) *Writer {
	w := &Writer{
		path:      path,
		snapshot:  snapshot,
		debounce:  DefaultDebounce,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log.IsZero() {
		w.log = logx.Nop()
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *Writer) Path() string { return w.path }

// MarkDirty records that in-memory state changed and starts the debounce
// window if none is running. It never blocks.
func (w *Writer) MarkDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.dirty = true
	w.armLocked()
}

// armLocked starts the debounce timer unless one is already pending or a write
// is in flight (the finishing write re-arms if needed).
func (w *Writer) armLocked() {
	if w.timer != nil || w.writing {
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.writeDue)
}

func (w *Writer) writeDue() {
	w.mu.Lock()
	w.timer = nil
	if w.closed || w.writing || !w.dirty {
		w.mu.Unlock()
		return
	}
	w.dirty = false
	w.writing = true
	w.mu.Unlock()

	err := w.writeOnce()

	w.mu.Lock()
	w.writing = false
	if err != nil {
		// Keep state dirty so the next cycle retries.
		w.dirty = true
		if w.warnLimit.Allow() {
			w.log.Warn("state write failed; will retry", logx.String("path", w.path), logx.Err(err))
		}
	}
	if w.dirty && !w.closed {
		w.armLocked()
	}
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Flush cancels any pending debounce and writes immediately if the state is
// dirty. It waits for an in-flight debounced write to finish first, so the
// file reflects the in-memory state as of the call.
func (w *Writer) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	for w.writing {
		w.cond.Wait()
	}
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	w.dirty = false
	w.writing = true
	w.mu.Unlock()

	err := w.writeOnce()

	w.mu.Lock()
	w.writing = false
	if err != nil {
		w.dirty = true
	}
	// A mutation that raced the flush re-marks dirty; give it its own cycle.
	if w.dirty && !w.closed {
		w.armLocked()
	}
	w.cond.Broadcast()
	w.mu.Unlock()
	return err
}

// Close flushes pending state and stops the writer. Subsequent MarkDirty
// calls are ignored.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (w *Writer) writeOnce() error {
	data, err := w.snapshot()
	if err != nil {
		return err
	}
	return WriteFileAtomic(w.path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file next to path and renames it over
// path. The rename is what makes the replacement atomic; the temp file must be
// on the same filesystem, hence same-directory placement.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadJSON reads path and unmarshals it into v.
// A missing file is not an error: it returns (false, nil) and leaves v untouched.
func LoadJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, err
	}
	return true, nil
}
