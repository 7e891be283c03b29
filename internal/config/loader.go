package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// maxUpwardSearchLevels limits how far up the directory tree to search for
// config files.
const maxUpwardSearchLevels = 10

var configFileNames = []string{"fieldtrace.yaml", "fieldtrace.yml"}

// Package-level config file and loaded-config tracking.
var (
	configFileUsed string
	currentConfig  *Config
)

// loggerKey stores the logger in the command context. Commands retrieve it
// through GetLogger without importing the cli package.
type loggerKey struct{}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// configExistsIn checks if a fieldtrace config file exists in the directory.
func configExistsIn(dir string) bool {
	for _, name := range configFileNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// findProjectRootUpward searches upward from startDir for a fieldtrace config
// file. Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root.
// Priority:
//  1. Directory of an explicit --config file
//  2. Search upward from CWD for fieldtrace.yaml
//  3. Current working directory
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		if root := findProjectRootUpward(cwd); root != "" {
			return root
		}
	}
	cwd, _ := os.Getwd()
	if cwd == "" {
		cwd = "."
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not
// absolute. Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Load loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile)

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"exports_dir":        DefaultExportsDir,
		"hop_limit":          DefaultHopLimit,
		"workers":            DefaultWorkers,
		"verbose":            false,
		"output":             DefaultOutput,
		"catalog.platform":   DefaultPlatform,
		"catalog.env":        DefaultEnv,
		"catalog.batch_size": DefaultBatchSize,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file: explicit path, otherwise first match in project root.
	if cfgFile == "" {
		for _, name := range configFileNames {
			candidate := filepath.Join(projectRoot, name)
			if _, err := os.Stat(candidate); err == nil {
				cfgFile = candidate
				break
			}
		}
	}
	configFileUsed = cfgFile
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment variables (FIELDTRACE_ prefix).
	// Transform: FIELDTRACE_CATALOG__SERVER -> catalog.server
	if err := k.Load(env.Provider("FIELDTRACE_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "FIELDTRACE_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority). Only flags explicitly set are applied.
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case for config keys.
			key := strings.ReplaceAll(f.Name, "-", "_")

			// The CLI uses --server/--token for brevity; the config nests
			// them under the catalog section.
			switch key {
			case "server":
				return "catalog.server", posflag.FlagVal(flags, f)
			case "token":
				return "catalog.token", posflag.FlagVal(flags, f)
			case "platform":
				return "catalog.platform", posflag.FlagVal(flags, f)
			case "env":
				return "catalog.env", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct.
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.ProjectRoot = projectRoot
	cfg.ExportsDir = resolvePathRelativeTo(cfg.ExportsDir, projectRoot)

	if cfg.Catalog == nil {
		cfg.Catalog = &CatalogConfig{
			Platform:  DefaultPlatform,
			Env:       DefaultEnv,
			BatchSize: DefaultBatchSize,
		}
	}
	cfg.Catalog.Token = expandEnvVars(cfg.Catalog.Token)

	currentConfig = &cfg

	return &cfg, nil
}

// ConfigFileUsed returns the path to the config file being used, if any.
func ConfigFileUsed() string {
	return configFileUsed
}

// Current returns the most recently loaded configuration, or a default
// configuration when Load has not run.
func Current() *Config {
	if currentConfig != nil {
		return currentConfig
	}
	return &Config{
		ExportsDir: DefaultExportsDir,
		HopLimit:   DefaultHopLimit,
		Workers:    DefaultWorkers,
		Output:     DefaultOutput,
		Catalog: &CatalogConfig{
			Platform:  DefaultPlatform,
			Env:       DefaultEnv,
			BatchSize: DefaultBatchSize,
		},
	}
}

// Reset clears the loaded configuration. Used for testing.
func Reset() {
	configFileUsed = ""
	currentConfig = nil
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}
