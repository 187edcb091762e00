// Package config provides configuration loading and hot reload.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Holder provides thread-safe access to configuration with hot reload support.
// Only the plan catalog, the add-on catalog and the log level take effect
// without a restart; see ReloadableFields.
type Holder struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	onError  []func(error)
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHolder creates a new config holder and loads the initial configuration.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config: cfg,
		path:   absPath,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Reload re-reads the configuration file. An invalid file is reported to
// the OnError listeners and the previous configuration stays active.
func (h *Holder) Reload() error {
	newCfg, err := Load(h.path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping previous config")
		h.mu.RLock()
		listeners := append([]func(error){}, h.onError...)
		h.mu.RUnlock()
		for _, fn := range listeners {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	h.config = newCfg
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	for _, fn := range listeners {
		fn(newCfg)
	}
	return nil
}

// OnChange registers a callback invoked with every successfully reloaded config.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback for failed reloads.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// WatchFile reloads whenever the config file is written or replaced.
// The parent directory is watched so atomic saves (rename over) are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals reloads on SIGHUP until Stop is called.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop stops watching for file changes and signals. It is safe to call twice.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (h *Holder) logChanges(old, new *Config) {
	added, removed, changed := diffPlans(old.Plans, new.Plans)
	h.logger.Info().
		Strs("plans_added", added).
		Strs("plans_removed", removed).
		Strs("plans_changed", changed).
		Bool("addons_changed", !reflect.DeepEqual(old.Addons, new.Addons)).
		Str("log_level", new.Logging.Level).
		Msg("configuration reloaded")

	for _, name := range restartRequired(old, new) {
		h.logger.Warn().Str("field", name).Msg("changed field requires a restart to take effect")
	}
}

// diffPlans reports plan ids present only in new, only in old, and in
// both with different settings.
func diffPlans(old, new []PlanConfig) (added, removed, changed []string) {
	before := make(map[string]PlanConfig, len(old))
	for _, p := range old {
		before[p.ID] = p
	}
	seen := make(map[string]bool, len(new))
	for _, p := range new {
		seen[p.ID] = true
		prev, ok := before[p.ID]
		switch {
		case !ok:
			added = append(added, p.ID)
		case !reflect.DeepEqual(prev, p):
			changed = append(changed, p.ID)
		}
	}
	for _, p := range old {
		if !seen[p.ID] {
			removed = append(removed, p.ID)
		}
	}
	return added, removed, changed
}

// staticFields are read once at startup; changing them needs a restart.
var staticFields = []struct {
	name    string
	differs func(old, new *Config) bool
}{
	{"server.host", func(o, n *Config) bool { return o.Server.Host != n.Server.Host }},
	{"server.port", func(o, n *Config) bool { return o.Server.Port != n.Server.Port }},
	{"server.trusted_proxies", func(o, n *Config) bool { return !reflect.DeepEqual(o.Server.TrustedProxies, n.Server.TrustedProxies) }},
	{"storage.driver", func(o, n *Config) bool { return o.Storage.Driver != n.Storage.Driver }},
	{"storage.dsn", func(o, n *Config) bool { return o.Storage.DSN != n.Storage.DSN }},
	{"redis.addr", func(o, n *Config) bool { return o.Redis.Addr != n.Redis.Addr }},
	{"engine.mode", func(o, n *Config) bool { return o.Engine.Mode != n.Engine.Mode }},
	{"engine.url", func(o, n *Config) bool { return o.Engine.URL != n.Engine.URL }},
	{"guest.daily_limit", func(o, n *Config) bool { return o.Guest.DailyLimit != n.Guest.DailyLimit }},
	{"quota.api_mode", func(o, n *Config) bool { return o.Quota.APIMode != n.Quota.APIMode }},
}

// restartRequired lists the static fields that differ.
func restartRequired(old, new *Config) []string {
	var out []string
	for _, f := range staticFields {
		if f.differs(old, new) {
			out = append(out, f.name)
		}
	}
	return out
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"plans",
		"addons.cap",
		"addons.bundles",
		"logging.level",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	out := make([]string, len(staticFields))
	for i, f := range staticFields {
		out[i] = f.name
	}
	return out
}
