package spoolsync

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch drains the spool whenever new files land in it, plus on a periodic
// rescan so missed filesystem events cannot strand an envelope. It blocks
// until the context is canceled.
func (d *Drainer) Watch(ctx context.Context, rescanInterval time.Duration) error {
	if rescanInterval <= 0 {
		rescanInterval = time.Minute
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(d.spoolDir); err != nil {
		return err
	}

	if err := d.SyncOnce(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	// Writers may emit several events per file; coalesce bursts into one
	// drain with a short debounce timer.
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logf("spool watch error: %v", err)
		case <-debounce.C:
			if err := d.SyncOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logf("spool drain failed: %v", err)
			}
		case <-ticker.C:
			if err := d.SyncOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logf("spool rescan failed: %v", err)
			}
		}
	}
}
