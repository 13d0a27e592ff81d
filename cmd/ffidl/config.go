package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// defaultConfigName is picked up from the working directory when --config
// is not given.
const defaultConfigName = "ffidl.toml"

type config struct {
	Engine  engineConfig  `toml:"engine"`
	Log     logConfig     `toml:"log"`
	Preload preloadConfig `toml:"preload"`

	// path is the file the config was read from, empty for defaults.
	path string
}

type engineConfig struct {
	Name             string `toml:"name"`
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
}

type logConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type preloadConfig struct {
	Libraries []string `toml:"libraries"`
	Scripts   []string `toml:"scripts"`
	Types     string   `toml:"types"`
}

func defaultConfig() config {
	return config{
		Engine: engineConfig{Name: "wazero"},
		Log:    logConfig{Level: "warn"},
	}
}

// findConfig returns the config path to use. An explicit path must exist;
// otherwise ffidl.toml in dir is used when present.
func findConfig(explicit, dir string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	candidate := filepath.Join(dir, defaultConfigName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %q: %w", candidate, err)
	}
	return "", nil
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults. Relative preload paths are resolved against the config file's
// directory.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.path = path

	root := filepath.Dir(path)
	for i, lib := range cfg.Preload.Libraries {
		cfg.Preload.Libraries[i] = resolveLibrary(root, lib)
	}
	for i, script := range cfg.Preload.Scripts {
		cfg.Preload.Scripts[i] = resolveFile(root, script)
	}
	cfg.Preload.Types = resolveFile(root, cfg.Preload.Types)

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func resolveFile(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// resolveLibrary leaves bare names such as libm.so.6 alone so the dynamic
// loader searches for them. Wasm libraries are always files.
func resolveLibrary(root, p string) string {
	if !strings.ContainsRune(p, filepath.Separator) && filepath.Ext(p) != ".wasm" {
		return p
	}
	return resolveFile(root, p)
}

func (c *config) validate() error {
	switch c.Engine.Name {
	case "wazero", "libffi":
	default:
		return fmt.Errorf("unknown engine %q (want wazero or libffi)", c.Engine.Name)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}
