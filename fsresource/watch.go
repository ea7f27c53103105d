package fsresource

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// UpdateFunc receives the URI of a file whose content changed or that was
// created.
type UpdateFunc func(ctx context.Context, uri string)

// Watch reports file updates to fn until ctx is done. OS directories are
// watched with fsnotify; generic file systems are rescanned every poll
// interval. Updates to the same URI within the debounce interval are merged.
// Watch returns nil when ctx ends and an error only when the watcher cannot
// be started.
func (d *Dir) Watch(ctx context.Context, fn UpdateFunc) error {
	u := &updater{d: d, fn: fn, ctx: ctx, debouncers: make(map[string]*debouncer)}
	defer u.stop()

	if d.osRoot != "" {
		return d.runFsnotify(ctx, u)
	}
	return d.runPoller(ctx, u)
}

// updater fans debounced per-URI updates into the callback.
type updater struct {
	d   *Dir
	fn  UpdateFunc
	ctx context.Context

	mu         sync.Mutex
	debouncers map[string]*debouncer
}

func (u *updater) markUpdated(uri string) {
	u.mu.Lock()
	db, ok := u.debouncers[uri]
	if !ok {
		db = &debouncer{interval: u.d.updateDebounce, fire: func() {
			if u.ctx.Err() != nil {
				return
			}
			u.d.log.DebugContext(u.ctx, "fsresource.updated", slog.String("uri", uri))
			u.fn(u.ctx, uri)
		}}
		u.debouncers[uri] = db
	}
	u.mu.Unlock()
	db.trigger()
}

func (u *updater) stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, db := range u.debouncers {
		db.stop()
	}
}

func (d *Dir) runPoller(ctx context.Context, u *updater) error {
	lastSnap, err := d.snapshot(ctx)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			curSnap, err := d.snapshot(ctx)
			if err != nil {
				d.log.DebugContext(ctx, "fsresource.poll.fail", slog.String("err", err.Error()))
				continue
			}
			for p, cur := range curSnap {
				if prev, ok := lastSnap[p]; !ok || !prev.eq(cur) {
					u.markUpdated(d.relToURI(p))
				}
			}
			lastSnap = curSnap
		}
	}
}

// runFsnotify watches the OS directory tree rooted at osRoot, adding watches
// for directories created after startup.
func (d *Dir) runFsnotify(ctx context.Context, u *updater) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		// Best-effort watcher close; no actionable error handling path.
		_ = w.Close()
	}()

	err = filepath.WalkDir(d.osRoot, func(p string, de fs.DirEntry, err error) error {
		if err != nil || !de.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		return err
	}
	d.log.InfoContext(ctx, "fsresource.watch.start", slog.String("root", d.osRoot))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			fi, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if fi.IsDir() {
				if ev.Has(fsnotify.Create) {
					_ = w.Add(ev.Name)
				}
				continue
			}
			if !fi.Mode().IsRegular() {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !within(abs, d.osRoot) {
				continue
			}
			rel, err := filepath.Rel(d.osRoot, abs)
			if err != nil {
				continue
			}
			u.markUpdated(d.relToURI(filepath.ToSlash(rel)))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			d.log.DebugContext(ctx, "fsresource.watch.error", slog.String("err", err.Error()))
		}
	}
}
