package daemon

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchConfig watches <project>/.consolle.yml and logs a restart
// recommendation when it changes, rather than silently reapplying settings
// mid-session: prompt_pattern/mode/command changes only take effect against
// a freshly spawned child, so hot-applying them would leave the running
// child out of sync with the matcher. Grounded on the teacher's watchConfig
// (fsnotify watcher + debounced reload timer + re-add-on-rename handling for
// editors that write atomically), generalized from "reload in place" to
// "notify the operator a restart is needed."
func (d *Daemon) watchConfig() {
	configPath := filepath.Join(d.cfg.ProjectRoot, ".consolle.yml")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config file watcher", "error", err)
		return
	}

	if err := watcher.Add(configPath); err != nil {
		slog.Debug("not watching project config (may not exist yet)", "error", err, "path", configPath)
		watcher.Close()
		return
	}

	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-d.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				if event.Op&(fsnotify.Rename|fsnotify.Remove|fsnotify.Create) != 0 {
					go reattachWatch(watcher, configPath)
				}

				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}

				debounceMu.Lock()
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(500*time.Millisecond, func() {
					slog.Warn("project configuration changed; restart the daemon to apply it",
						"file", event.Name)
				})
				debounceMu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config file watcher error", "error", err)
			}
		}
	}()

	slog.Info("watching project configuration for changes", "path", configPath)
}

// reattachWatch retries adding the watch after a rename/remove/create event,
// since editors that write atomically briefly drop the path from the
// watch list.
func reattachWatch(watcher *fsnotify.Watcher, configPath string) {
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(10<<uint(attempt-1)) * time.Millisecond)
		}
		watcher.Remove(configPath)
		if err := watcher.Add(configPath); err == nil {
			return
		} else if attempt == 4 {
			slog.Debug("failed to re-add config watch after multiple attempts", "error", err, "path", configPath)
		}
	}
}
