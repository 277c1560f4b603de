package surge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FileStore is a Store backed by a single file. Values are wrapped in
// StoredValue and serialized with the configured codec (JSON by default;
// loads auto-detect JSON or YAML). Saves go through a temp file and rename
// so readers never observe a partial write.
type FileStore[V any] struct {
	path  string
	codec Codec
}

// fileStoreConfig holds construction options for a FileStore.
type fileStoreConfig struct {
	codec Codec
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*fileStoreConfig)

// WithCodec sets the codec used for saving and loading. Default: JSONCodec
// for saves, auto-detection for loads.
func WithCodec(c Codec) FileStoreOption {
	return func(cfg *fileStoreConfig) {
		cfg.codec = c
	}
}

// NewFileStore creates a file-backed store at the given path. The file need
// not exist yet; Load reports not-found until the first Save.
func NewFileStore[V any](path string, opts ...FileStoreOption) *FileStore[V] {
	cfg := &fileStoreConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &FileStore[V]{path: path, codec: cfg.codec}
}

// Load reads and deserializes the persisted value. A missing file is
// not-found, not an error.
func (s *FileStore[V]) Load(_ context.Context) (StoredValue[V], bool, error) {
	var stored StoredValue[V]

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return stored, false, nil
		}
		return stored, false, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	if s.codec != nil {
		err = s.codec.Unmarshal(data, &stored)
	} else {
		err = detectUnmarshal(data, &stored)
	}
	if err != nil {
		return stored, false, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return stored, true, nil
}

// Save serializes the value and atomically replaces the file.
func (s *FileStore[V]) Save(_ context.Context, v StoredValue[V]) error {
	codec := s.codec
	if codec == nil {
		codec = JSONCodec{}
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Clear removes the backing file. A missing file is not an error.
func (s *FileStore[V]) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	return nil
}

// Watch begins observing the backing file and returns a channel that ticks
// whenever it is written or created. The parent directory is watched rather
// than the file itself, since atomic saves replace the inode.
func (s *FileStore[V]) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				// Only emit on write, create, or rename of our file
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}

				select {
				case out <- struct{}{}:
				default:
					// A tick is already pending; coalesce.
				}

			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Continue watching despite errors
			}
		}
	}()

	return out, nil
}

// Ensure FileStore implements WatchableStore.
var _ WatchableStore[int] = (*FileStore[int])(nil)
