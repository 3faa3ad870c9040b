package card

import (
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to card files in a directory.
type Watcher struct {
	dir      string
	onChange func(path string)
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher for dir. onChange is called with the path of
// every .json file that is written, created, removed or renamed.
func NewWatcher(dir string, onChange func(path string), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins watching. Call Stop() to clean up.
func (cw *Watcher) Start() error {
	if err := os.MkdirAll(cw.dir, 0o755); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(cw.dir); err != nil {
		_ = w.Close()
		return err
	}
	cw.watcher = w

	go cw.loop()
	cw.logger.Debug("card: watching cards directory", "dir", cw.dir)
	return nil
}

// Stop shuts down the watcher.
func (cw *Watcher) Stop() {
	if cw.watcher == nil {
		return
	}
	_ = cw.watcher.Close()
	<-cw.done
}

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

func (cw *Watcher) loop() {
	defer close(cw.done)
	for {
		select {
		case evt, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&watchedOps != 0 && strings.HasSuffix(evt.Name, ".json") {
				cw.onChange(evt.Name)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("card: watcher error", "error", err)
		}
	}
}
