// Package config loads tether configuration.
//
// Values come from a YAML file and TETHER_* environment variables through
// viper, and every decoded document is checked against an embedded CUE
// schema before it is handed out. Watch re-reads the file on change and
// delivers each valid revision; invalid revisions are logged and dropped
// so the previous limits stay in force.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/roach88/tether/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override, e.g.
// TETHER_LIMITS_MAX_EFFECT_BLOCKS.
const EnvPrefix = "TETHER"

// ErrInvalid wraps schema violations.
var ErrInvalid = errors.New("config: invalid")

// Config is the full configuration of a tether process.
type Config struct {
	Limits engine.Limits `json:"limits"`

	// Tick is the period of the advance signal.
	Tick time.Duration `json:"tick"`
	// Pace is the period of the pacing signal; 0 disables it.
	Pace time.Duration `json:"pace"`

	// Listen is the HTTP address of the serve command.
	Listen string `json:"listen"`
	// StorePath is the journal database path; empty disables the journal.
	StorePath string `json:"store_path,omitempty"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Limits:   engine.DefaultLimits(),
		Tick:     16 * time.Millisecond,
		Pace:     time.Second,
		Listen:   "127.0.0.1:9464",
		LogLevel: "info",
	}
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("limits.max_time", d.Limits.MaxTime)
	v.SetDefault("limits.max_resource_blocks", d.Limits.MaxResourceBlocks)
	v.SetDefault("limits.max_effect_blocks", d.Limits.MaxEffectBlocks)
	v.SetDefault("limits.max_resource_cleanups", d.Limits.MaxResourceCleanups)
	v.SetDefault("limits.max_effect_cleanups", d.Limits.MaxEffectCleanups)
	v.SetDefault("limits.max_ticks_behind_pacing", d.Limits.MaxTicksBehindPacing)
	v.SetDefault("scheduler.tick", d.Tick)
	v.SetDefault("scheduler.pace", d.Pace)
	v.SetDefault("serve.listen", d.Listen)
	v.SetDefault("store.path", d.StorePath)
	v.SetDefault("log.level", d.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
	return v
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	cfg := Config{
		Limits: engine.Limits{
			MaxTime:              v.GetDuration("limits.max_time"),
			MaxResourceBlocks:    v.GetInt("limits.max_resource_blocks"),
			MaxEffectBlocks:      v.GetInt("limits.max_effect_blocks"),
			MaxResourceCleanups:  v.GetInt("limits.max_resource_cleanups"),
			MaxEffectCleanups:    v.GetInt("limits.max_effect_cleanups"),
			MaxTicksBehindPacing: v.GetInt("limits.max_ticks_behind_pacing"),
		},
		Tick:      v.GetDuration("scheduler.tick"),
		Pace:      v.GetDuration("scheduler.pace"),
		Listen:    v.GetString("serve.listen"),
		StorePath: v.GetString("store.path"),
		LogLevel:  strings.ToLower(v.GetString("log.level")),
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	doc := ctx.Encode(document(cfg))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// document is the schema-shaped view of cfg.
func document(cfg Config) map[string]any {
	return map[string]any{
		"limits": map[string]any{
			"max_time":                int64(cfg.Limits.MaxTime),
			"max_resource_blocks":     cfg.Limits.MaxResourceBlocks,
			"max_effect_blocks":       cfg.Limits.MaxEffectBlocks,
			"max_resource_cleanups":   cfg.Limits.MaxResourceCleanups,
			"max_effect_cleanups":     cfg.Limits.MaxEffectCleanups,
			"max_ticks_behind_pacing": cfg.Limits.MaxTicksBehindPacing,
		},
		"scheduler": map[string]any{
			"tick": int64(cfg.Tick),
			"pace": int64(cfg.Pace),
		},
		"serve": map[string]any{
			"listen": cfg.Listen,
		},
		"store": map[string]any{
			"path": cfg.StorePath,
		},
		"log": map[string]any{
			"level": cfg.LogLevel,
		},
	}
}

// Watcher re-reads a configuration file whenever it changes.
type Watcher struct {
	v        *viper.Viper
	path     string
	logger   *slog.Logger
	onChange func(Config)

	mu      sync.Mutex
	current Config
}

// Watch loads path and calls onChange with every later valid revision.
// onChange runs on the file watcher's goroutine.
func Watch(path string, logger *slog.Logger, onChange func(Config)) (*Watcher, error) {
	w, err := newWatcher(path, logger, onChange)
	if err != nil {
		return nil, err
	}
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.logger.Debug("config file changed", "path", e.Name, "op", e.Op.String())
		w.reload()
	})
	w.v.WatchConfig()
	return w, nil
}

func newWatcher(path string, logger *slog.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		v:        v,
		path:     path,
		logger:   logger,
		onChange: onChange,
		current:  cfg,
	}
	return w, nil
}

// Current returns the last valid configuration.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// reload re-reads the file and publishes it if it is valid.
func (w *Watcher) reload() {
	if err := w.v.ReadInConfig(); err != nil {
		w.logger.Warn("config reload failed; keeping previous", "path", w.path, "error", err)
		return
	}
	cfg, err := decode(w.v)
	if err != nil {
		w.logger.Warn("config reload rejected; keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
