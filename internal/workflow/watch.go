package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// readDirNames returns the absolute paths of dir's immediate
// subdirectories.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Watch hot-reloads the registry whenever a workflow.yaml/.yml under dir
// is created, written, renamed, or removed, calling LoadDir to rebuild
// the whole index. Grounded on the teacher's own fsnotify dependency for
// config hot-reload (internal/config), generalized here from config
// files to workflow definition files. The returned stop function closes
// the underlying watcher; it is safe to call once.
func (r *Registry) Watch(ctx context.Context, dir string, logger *slog.Logger) (stop func() error, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := addRecursive(watcher, dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isWorkflowFile(event.Name) {
					continue
				}
				if err := r.LoadDir(dir); err != nil {
					logger.Error("workflow: hot-reload failed", "dir", dir, "error", err)
					continue
				}
				logger.Info("workflow: reloaded after change", "path", event.Name, "op", event.Op.String())
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("workflow: watcher error", "error", watchErr)
			}
		}
	}()

	return watcher.Close, nil
}

func isWorkflowFile(name string) bool {
	for _, candidate := range workflowFileCandidates {
		if len(name) >= len(candidate) && name[len(name)-len(candidate):] == candidate {
			return true
		}
	}
	return false
}

// addRecursive registers dir and its immediate subdirectories with the
// watcher; fsnotify does not watch recursively on its own, and a
// workflow directory layout is never more than one level deep
// (workflowsDir/<workflow-id>/workflow.yaml).
func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	if err := watcher.Add(dir); err != nil {
		return err
	}
	entries, err := readDirNames(dir)
	if err != nil {
		return nil // dir may not exist yet; top-level watch still catches its creation
	}
	for _, sub := range entries {
		_ = watcher.Add(sub)
	}
	return nil
}
