package keeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher mirrors a directory into the store. File creates and writes become
// Puts (the stat fast path makes redundant events cheap), deletes remove the
// document, and changed content is queued for background analysis.
type Watcher struct {
	keeper             *Keeper
	queue              *AnalyzeQueue
	watcher            *fsnotify.Watcher
	root               string
	stabilityThreshold time.Duration
	done               chan struct{}
	debounceTimers     map[string]*time.Timer
	debounceMu         sync.Mutex
	stopOnce           sync.Once
	logger             zerolog.Logger
}

// WatcherConfig holds configuration for the directory watcher
type WatcherConfig struct {
	Root               string
	StabilityThreshold time.Duration
	Queue              *AnalyzeQueue
	Logger             zerolog.Logger
}

// NewWatcher creates a watcher over a directory tree. Queue is optional;
// without it changed files are stored but not analyzed.
func NewWatcher(k *Keeper, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if config.StabilityThreshold == 0 {
		config.StabilityThreshold = 100 * time.Millisecond
	}

	return &Watcher{
		keeper:             k,
		queue:              config.Queue,
		watcher:            fsw,
		root:               config.Root,
		stabilityThreshold: config.StabilityThreshold,
		done:               make(chan struct{}),
		debounceTimers:     make(map[string]*time.Timer),
		logger:             config.Logger.With().Str("component", "watcher").Logger(),
	}, nil
}

// Start begins watching the directory tree
func (w *Watcher) Start() error {
	if err := w.addDirectoryRecursive(w.root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.root).Msg("Directory watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.debounceMu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	clear(w.debounceTimers)
	w.debounceMu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.logger.Info().Msg("Directory watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldIgnore(event.Name) {
				continue
			}
			w.debounceEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.done:
			return
		}
	}
}

// debounceEvent coalesces rapid events on the same path behind a timer
func (w *Watcher) debounceEvent(event fsnotify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.debounceTimers[event.Name]; exists {
		timer.Stop()
	}

	eventCopy := event
	w.debounceTimers[event.Name] = time.AfterFunc(w.stabilityThreshold, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, eventCopy.Name)
		w.debounceMu.Unlock()

		select {
		case <-w.done:
			return
		default:
			w.processEvent(eventCopy)
		}
	})
}

func (w *Watcher) processEvent(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addDirectoryRecursive(event.Name)
			return
		}
		w.storeFile(event.Name)

	case event.Op&fsnotify.Write == fsnotify.Write:
		w.storeFile(event.Name)

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		// Rename delivers a create for the new name separately
		w.removeFile(event.Name)
	}
}

func (w *Watcher) storeFile(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	uri := "file://" + path
	item, err := w.keeper.Put(ctx, PutRequest{URI: uri})
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to store watched file")
		if item == nil {
			return
		}
	}
	if !item.Changed || w.queue == nil {
		return
	}

	if _, err := w.queue.Enqueue(ctx, item.ID, false); err != nil {
		w.logger.Warn().Err(err).Str("id", item.ID).Msg("Failed to queue analysis")
	}
}

func (w *Watcher) removeFile(path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := w.keeper.Delete(ctx, "file://"+path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("Failed to delete watched file")
		return
	}
	if removed {
		w.logger.Debug().Str("path", path).Msg("Watched file removed from store")
	}
}

func (w *Watcher) addDirectoryRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if w.shouldIgnore(walkPath) {
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if err := w.watcher.Add(walkPath); err != nil {
			w.logger.Warn().Err(err).Str("path", walkPath).Msg("Failed to watch path")
		}
		return nil
	})
}

func (w *Watcher) shouldIgnore(path string) bool {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if len(part) > 0 && part[0] == '.' {
			return true
		}
	}
	if strings.Contains(path, "node_modules") {
		return true
	}
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".swp") {
		return true
	}
	return false
}
