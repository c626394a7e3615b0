package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"
)

// providersFile remembers what was last read from providers.yaml so a
// reload only parses when the file actually changed.
type providersFile struct {
	path    string
	modTime time.Time
	data    []byte
}

func newProvidersFile(path string) *providersFile {
	if path == "" {
		path = "configs/providers.yaml"
	}
	return &providersFile{path: path}
}

// load reads the file if its modtime moved since the last read. changed is
// false when the file was not touched or was touched without edits. A file
// that fails to parse is still remembered, so the same bad content is
// reported once.
func (f *providersFile) load() (cfg *ProvidersConfig, changed bool, err error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return nil, false, fmt.Errorf("read providers config: %w", err)
	}
	if f.data != nil && !info.ModTime().After(f.modTime) {
		return nil, false, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, false, fmt.Errorf("read providers config: %w", err)
	}
	f.modTime = info.ModTime()
	if f.data != nil && bytes.Equal(data, f.data) {
		return nil, false, nil
	}
	f.data = data

	cfg, err = parseProvidersConfig(data)
	if err != nil {
		return nil, true, err
	}
	return cfg, true, nil
}

// WatchProviders loads providers.yaml, passes it to onUpdate, then polls
// every interval until ctx ends. Edits that fail validation go to onError
// and the previous config stays in effect.
func WatchProviders(
	ctx context.Context,
	path string,
	interval time.Duration,
	onUpdate func(*ProvidersConfig),
	onError func(error),
) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	file := newProvidersFile(path)
	cfg, _, err := file.load()
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cfg, changed, err := file.load()
			switch {
			case err != nil && changed:
				if onError != nil {
					onError(err)
				}
			case err != nil:
				// Missing mid-rename; try again next tick.
			case changed && onUpdate != nil:
				onUpdate(cfg)
			}
		}
	}()

	return nil
}
