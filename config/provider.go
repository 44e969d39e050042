package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Provider hands out the current settings. Engines call Settings at the
// start of every operation.
type Provider interface {
	Settings() Settings
}

// Static is a Provider that never changes.
type Static Settings

// Settings implements Provider.
func (s Static) Settings() Settings {
	return Settings(s)
}

// FileProvider reloads its settings whenever the config file changes. A
// file that fails to load leaves the previous settings in place.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	settings Settings
	reloads  int

	wg sync.WaitGroup
}

// NewFileProvider loads cfgPath and starts watching it.
func NewFileProvider(cfgPath string, logger *slog.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	settings, err := Load(cfgPath)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "resolve config path failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create config watcher failed")
	}
	// Editors replace files by rename, so the directory is watched.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "watch config directory failed")
	}

	p := &FileProvider{path: abs, logger: logger, watcher: watcher, settings: settings}
	p.wg.Add(1)
	go p.loop()
	return p, nil
}

// Settings implements Provider.
func (p *FileProvider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.settings
}

// Reloads returns how many times the settings were replaced.
func (p *FileProvider) Reloads() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.reloads
}

// Close stops watching the file.
func (p *FileProvider) Close() error {
	err := p.watcher.Close()
	p.wg.Wait()
	return err
}

func (p *FileProvider) loop() {
	defer p.wg.Done()
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.reload()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("Config watcher error", "error", err)
		}
	}
}

func (p *FileProvider) reload() {
	settings, err := Load(p.path)
	if err != nil {
		p.logger.Warn("Config reload failed, keeping previous settings",
			"path", p.path,
			"error", err)
		return
	}
	p.mu.Lock()
	p.settings = settings
	p.reloads++
	p.mu.Unlock()
	p.logger.Info("Config reloaded", "path", p.path)
}
