package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// watchPaths signals on out whenever one of paths is created, written,
// replaced or removed. Bursts are collapsed into one signal.
//
// Parent directories are watched rather than the files themselves because
// network managers usually replace these files by rename.
func watchPaths(ctx context.Context, paths []string, logger *slog.Logger, out chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	wanted := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("netmon: resolve %s: %w", p, err)
		}
		wanted[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	added := 0
	for d := range dirs {
		if err := w.Add(d); err != nil {
			logger.Warn("netmon: cannot watch dir", slog.String("dir", d), slog.String("error", err.Error()))
			continue
		}
		added++
	}
	if added == 0 {
		return fmt.Errorf("netmon: no watchable paths")
	}

	logger.Info("netmon: watching", slog.Int("paths", len(wanted)))

	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(watchDebounce)
			timerCh = timer.C
		} else {
			timer.Reset(watchDebounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case out <- struct{}{}:
			default:
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, hit := wanted[filepath.Clean(ev.Name)]; !hit {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("netmon: watcher error", slog.String("error", err.Error()))
		}
	}
}
