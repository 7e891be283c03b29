// Package config loads fieldtrace configuration from files, environment
// variables, and CLI flags using koanf.
package config

// CatalogConfig holds connection settings for the metadata catalog service.
type CatalogConfig struct {
	Server    string `koanf:"server"`     // base URL, e.g. http://localhost:8080
	Token     string `koanf:"token"`      // optional bearer token
	Platform  string `koanf:"platform"`   // dataset platform name for URNs
	Env       string `koanf:"env"`        // fabric/environment qualifier for URNs
	BatchSize int    `koanf:"batch_size"` // proposals per ingest request
}

// Config is the root fieldtrace configuration.
type Config struct {
	// ProjectRoot is the resolved project root directory.
	// Set automatically during loading, not from the config file.
	ProjectRoot string `koanf:"-"`

	// ExportsDir is where exported mapping/jil/calc files live.
	ExportsDir string `koanf:"exports_dir"`

	// HopLimit bounds how many hops a single field trace may walk.
	HopLimit int `koanf:"hop_limit"`

	// Workers is the number of concurrent per-field tracers.
	Workers int `koanf:"workers"`

	Verbose bool   `koanf:"verbose"`
	Output  string `koanf:"output"` // "table" or "json"

	Catalog *CatalogConfig `koanf:"catalog"`
}

// Default values applied before any config file, env var, or flag is read.
const (
	DefaultExportsDir = "exports"
	DefaultHopLimit   = 64
	DefaultWorkers    = 8
	DefaultOutput     = "table"
	DefaultPlatform   = "oracle"
	DefaultEnv        = "PROD"
	DefaultBatchSize  = 50
)
