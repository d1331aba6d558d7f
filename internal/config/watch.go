package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchProviders calls onChange with freshly parsed seeds whenever the provider
// file is written or created. The parent directory is watched so editors that
// replace the file atomically are still observed. Blocks until ctx is done.
func WatchProviders(ctx context.Context, path string, onChange func([]ProviderSeed)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config.WatchProviders: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config.WatchProviders: watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce = time.After(250 * time.Millisecond)
			}
		case <-debounce:
			debounce = nil
			seeds, err := LoadProviders(path)
			if err != nil {
				log.Printf("config: reload providers: %v", err)
				continue
			}
			log.Printf("config: %s changed, %d provider(s) loaded", path, len(seeds))
			onChange(seeds)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
