package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"courseframework/pkg/access"
	"courseframework/pkg/plugin"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PolicyFile represents the policy.yaml structure
type PolicyFile struct {
	// Components maps a component name to the permissions it requires.
	Components map[string][]string `yaml:"components"`
	// Plugins maps a plugin id to its configuration.
	Plugins map[string]map[string]any `yaml:"plugins"`
	Theme   string                    `yaml:"theme"`
}

// Loader manages policy and plugin configuration loading and reloading
type Loader struct {
	policyPath string
	pluginDir  string
	logger     *zap.Logger

	mu      sync.RWMutex
	policy  *PolicyFile
	plugins map[string]plugin.Config

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}
}

// NewLoader creates a new configuration loader. Either path may be empty.
func NewLoader(policyPath, pluginDir string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policyPath != "" {
		if abs, err := filepath.Abs(policyPath); err == nil {
			policyPath = abs
		}
	}
	return &Loader{
		policyPath: policyPath,
		pluginDir:  pluginDir,
		logger:     logger.Named("config"),
		policy:     &PolicyFile{},
		plugins:    map[string]plugin.Config{},
	}
}

// LoadAll loads the policy file and the plugin config directory
func (l *Loader) LoadAll() error {
	policy := &PolicyFile{}
	if l.policyPath != "" {
		l.logger.Debug("Loading policy file", zap.String("path", l.policyPath))
		data, err := os.ReadFile(l.policyPath)
		if err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		if err := yaml.Unmarshal(data, policy); err != nil {
			return fmt.Errorf("failed to parse policy file: %w", err)
		}
	}

	plugins := make(map[string]plugin.Config, len(policy.Plugins))
	for id, cfg := range policy.Plugins {
		plugins[id] = plugin.Config(cfg)
	}

	if l.pluginDir != "" {
		fromDir, err := l.loadPluginDir()
		if err != nil {
			return err
		}
		for id, cfg := range fromDir {
			plugins[id] = cfg
		}
	}

	l.mu.Lock()
	l.policy = policy
	l.plugins = plugins
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.Int("component_rules", len(policy.Components)),
		zap.Int("plugin_configs", len(plugins)))
	return nil
}

// loadPluginDir reads <dir>/<plugin-id>.yaml files. A file replaces the
// policy file's entry for the same plugin.
func (l *Loader) loadPluginDir() (map[string]plugin.Config, error) {
	matches, err := filepath.Glob(filepath.Join(l.pluginDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin configs: %w", err)
	}

	out := make(map[string]plugin.Config, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read plugin config %s: %w", path, err)
		}
		cfg := plugin.Config{}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse plugin config %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".yaml")
		out[id] = cfg
		l.logger.Debug("Plugin config loaded", zap.String("plugin", id), zap.String("path", path))
	}
	return out, nil
}

// Policy returns the component permission table. Without a policy file,
// or when the file lists no components, the built-in table is used.
func (l *Loader) Policy() *access.Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.policy.Components) == 0 {
		return access.DefaultPolicy()
	}
	return access.NewPolicy(l.policy.Components)
}

// PluginConfigs returns a copy of the per-plugin configuration map.
func (l *Loader) PluginConfigs() map[string]plugin.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]plugin.Config, len(l.plugins))
	for id, cfg := range l.plugins {
		out[id] = cfg
	}
	return out
}

// Theme returns the theme named in the policy file, or "".
func (l *Loader) Theme() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy.Theme
}

// Watch reloads the policy file whenever it changes and calls onChange after
// every successful reload. The parent directory is watched so editors that
// replace the file atomically are picked up.
func (l *Loader) Watch(onChange func(*Loader)) error {
	if l.policyPath == "" {
		return fmt.Errorf("no policy file to watch")
	}

	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.policyPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(l.policyPath), err)
	}

	l.watcher = watcher
	l.stopChan = make(chan struct{})
	l.done = make(chan struct{})

	l.logger.Info("Watching policy file", zap.String("path", l.policyPath))
	go l.processEvents(watcher, l.stopChan, l.done, onChange)
	return nil
}

func (l *Loader) processEvents(w *fsnotify.Watcher, stop, done chan struct{}, onChange func(*Loader)) {
	defer close(done)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != l.policyPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if _, err := os.Stat(l.policyPath); err != nil {
				continue
			}

			l.logger.Info("Policy file changed, reloading")
			if err := l.LoadAll(); err != nil {
				l.logger.Error("Failed to reload configuration", zap.Error(err))
				continue
			}
			if onChange != nil {
				onChange(l)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error("Policy watcher error", zap.Error(err))

		case <-stop:
			return
		}
	}
}

// Stop stops watching. Safe to call when Watch was never called.
func (l *Loader) Stop() {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.watcher == nil {
		return
	}
	close(l.stopChan)
	l.watcher.Close()
	<-l.done
	l.watcher = nil
	l.logger.Info("Stopped watching policy file")
}
