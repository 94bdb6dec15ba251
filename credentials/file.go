package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// credentialsFile is the on-disk JSON shape.
type credentialsFile struct {
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// File serves credentials from a JSON file and hot-reloads on change, so key
// rotation via a secrets mount or a manual edit takes effect without a
// restart. The watch covers the parent directory because rewrites commonly
// arrive as a rename of a temp file over the target.
type File struct {
	path string
	log  *slog.Logger

	mu      sync.RWMutex
	current Credentials

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFile loads the file once and starts watching it. The initial load must
// succeed; later reload failures keep the last good credentials.
func NewFile(path string, log *slog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	f := &File{
		path: abs,
		log:  log,
		done: make(chan struct{}),
	}
	if err := f.reload(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.watch(ctx)

	return f, nil
}

var _ Provider = (*File)(nil)

func (f *File) Credentials(ctx context.Context) (Credentials, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current.APIKey == "" {
		return Credentials{}, fmt.Errorf("%s has no apiKey: %w", f.path, ErrNoCredentials)
	}
	return f.current, nil
}

// Close stops the watcher.
func (f *File) Close() error {
	f.cancel()
	<-f.done
	return nil
}

func (f *File) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", f.path, err)
	}
	var parsed credentialsFile
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.current = Credentials{APIKey: parsed.APIKey, BaseURL: parsed.BaseURL}
	f.mu.Unlock()
	return nil
}

func (f *File) watch(ctx context.Context) {
	defer close(f.done)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.log.Debug("fsnotify unavailable, credentials file will not hot-reload", slog.String("err", err.Error()))
		return
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		f.log.Debug("fsnotify watch failed", slog.String("err", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the last good credentials.
				f.log.Warn("credentials reload failed", slog.String("err", err.Error()))
				continue
			}
			f.log.Debug("credentials reloaded", slog.String("path", f.path))
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.log.Debug("fsnotify error", slog.String("err", err.Error()))
		}
	}
}
