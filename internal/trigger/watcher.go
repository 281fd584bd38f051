package trigger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultRescanInterval bounds the staleness window when an fsnotify
// event is missed.
const DefaultRescanInterval = 5 * time.Second

// Watcher feeds trigger files from the ingestor's directory into
// ProcessFile, combining fsnotify with a periodic sweep so that writes
// lost by the notifier are still picked up.
type Watcher struct {
	ingestor *Ingestor
	rescan   time.Duration
	logger   *log.Entry
}

// NewWatcher returns a watcher over in's directory.
func NewWatcher(in *Ingestor, rescan time.Duration) *Watcher {
	if rescan <= 0 {
		rescan = DefaultRescanInterval
	}
	return &Watcher{
		ingestor: in,
		rescan:   rescan,
		logger:   log.WithField("component", "trigger.watcher"),
	}
}

// Run blocks until ctx is cancelled. It performs an initial sweep, then
// reacts to create/write notifications and re-sweeps on a timer.
func (w *Watcher) Run(ctx context.Context) error {
	var fsw, err = fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.ingestor.dir); err != nil {
		return err
	}
	w.logger.WithField("dir", w.ingestor.dir).Info("watching trigger directory")

	w.sweep()

	var ticker = time.NewTicker(w.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !isTriggerFile(ev.Name) {
				continue
			}
			w.process(ev.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("fsnotify error")

		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep processes every trigger file currently in the directory.
func (w *Watcher) sweep() {
	var entries, err = os.ReadDir(w.ingestor.dir)
	if err != nil {
		w.logger.WithError(err).Warn("trigger directory scan failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isTriggerFile(e.Name()) {
			continue
		}
		w.process(filepath.Join(w.ingestor.dir, e.Name()))
	}
}

func (w *Watcher) process(path string) {
	var res = w.ingestor.ProcessFile(path)
	if res.Status == StatusError {
		w.logger.WithFields(log.Fields{
			"file":   filepath.Base(path),
			"reason": res.Reason,
		}).Warn("trigger processing failed")
	}
}

func isTriggerFile(name string) bool {
	var base = strings.ToLower(filepath.Base(name))
	return strings.HasSuffix(base, ".txt") && !strings.HasSuffix(base, ".processing")
}
