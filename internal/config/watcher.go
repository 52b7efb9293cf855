package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// reloadDelay coalesces the burst of events editors produce on save
const reloadDelay = 200 * time.Millisecond

// Watcher re-reads the config file when it changes and hands the new
// downloader section to a callback.
type Watcher struct {
	path     string
	onChange func(DownloaderConfig)
	logger   *logrus.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// WatchDownloader starts watching configPath. The directory is watched rather
// than the file so that atomic replaces are seen.
func WatchDownloader(configPath string, onChange func(DownloaderConfig), logger *logrus.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		logger:   logger,
		watcher:  fw,
		done:     make(chan struct{}),
	}
	go w.watch()

	logger.WithField("config_path", abs).Info("Config watcher started")
	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDelay, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	d, err := readDownloader(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring config change")
		return
	}
	w.logger.WithFields(logrus.Fields{
		"thread_count": d.ThreadCount,
		"mask":         d.TrackNameMask,
	}).Info("Downloader settings reloaded")
	w.onChange(d)
}

func readDownloader(path string) (DownloaderConfig, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return DownloaderConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Downloader.Validate(); err != nil {
		return DownloaderConfig{}, err
	}
	return cfg.Downloader, nil
}

// Close stops the watcher (idempotent).
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}
