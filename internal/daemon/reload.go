package daemon

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/termcmd/internal/descriptor"
	"github.com/msageha/termcmd/internal/events"
)

// startWatcher watches the directory holding the descriptor file so that
// editors replacing the file by rename are seen too.
func (d *Daemon) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(d.commandsPath())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	d.watcher = watcher

	d.wg.Add(1)
	go d.fsnotifyLoop()
	return nil
}

// reloadDebounce is how long the descriptor file must stay quiet before it
// is loaded again.
const reloadDebounce = 100 * time.Millisecond

// fsnotifyLoop reloads descriptors when the descriptor file changes.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	target := filepath.Clean(d.commandsPath())
	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.logger.Debugf("fsnotify event=%s file=%s", event.Op, event.Name)
				timer.Reset(reloadDebounce)
			}
		case <-timer.C:
			if _, err := d.reloadDescriptors(); err != nil {
				d.logger.Errorf("descriptor reload failed path=%s error=%v", target, err)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorf("fsnotify error=%v", err)
		}
	}
}

// reloadDescriptors replaces the registered descriptors with the file
// contents. Concurrent calls share one load. On error the previous
// descriptors stay registered.
func (d *Daemon) reloadDescriptors() (int, error) {
	v, err, shared := d.reloads.Do("descriptors", func() (any, error) {
		return descriptor.LoadInto(d.store, d.commandsPath())
	})
	if err != nil {
		return 0, err
	}
	n := v.(int)
	if !shared {
		d.logger.Infof("descriptors reloaded path=%s count=%d", d.commandsPath(), n)
		d.bus.Publish(events.EventDescriptorsReloaded, map[string]any{
			"path":  d.commandsPath(),
			"count": n,
		})
	}
	return n, nil
}
