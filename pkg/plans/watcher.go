package plans

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/careerforge/creditd/pkg/observability"
)

// Watcher reloads the catalog when its override file changes on disk.
// Editors and config-management tools often write via rename, so the watch
// is on the parent directory rather than the file itself.
type Watcher struct {
	catalog *Catalog
	path    string
	watcher *fsnotify.Watcher
	logger  *observability.Logger
}

// NewWatcher creates a watcher for a catalog override file
func NewWatcher(catalog *Catalog, path string, logger *observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	return &Watcher{
		catalog: catalog,
		path:    path,
		watcher: fw,
		logger:  logger.WithComponent("plans.watcher"),
	}, nil
}

// Run blocks until ctx is cancelled, reloading the catalog on file changes.
// A reload failure keeps the previous catalog; credit checks never see a
// half-applied cost table.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if err := w.catalog.LoadFile(w.path); err != nil {
				w.logger.WithError(err).Error("Catalog reload failed, keeping previous catalog")
				continue
			}
			w.logger.Infof("Catalog reloaded from %s", w.path)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Catalog watcher error")
		}
	}
}
