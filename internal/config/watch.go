package config

import (
	"context"
	"os"
	"time"
)

// WatchTemplates reloads templates.yaml on change and calls handler with the
// latest catalog. It performs an initial load before entering the watch loop.
func WatchTemplates(ctx context.Context, path string, interval time.Duration, onUpdate func(*TemplateCatalog)) error {
	if path == "" {
		path = "configs/templates.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	catalog, err := LoadTemplateCatalog(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(catalog)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue // transient errors
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				catalog, err := LoadTemplateCatalog(path)
				if err != nil {
					continue
				}
				lastMod = info.ModTime()
				if onUpdate != nil {
					onUpdate(catalog)
				}
			}
		}
	}()

	return nil
}
