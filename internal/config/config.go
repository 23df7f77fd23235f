package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the chunkdex engine configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Auth      AuthConfig      `yaml:"auth"`
	Schema    SchemaConfig    `yaml:"schema"`
	Index     IndexConfig     `yaml:"index"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Limits    LimitsConfig    `yaml:"limits"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// SchemaConfig holds the chunk schema settings.
type SchemaConfig struct {
	Dimensions  int    `yaml:"dimensions"`
	RankProfile string `yaml:"rank_profile"`
}

// IndexConfig holds HNSW index tuning.
type IndexConfig struct {
	MaxLinksPerNode            int `yaml:"max_links_per_node"`
	NeighborsToExploreAtInsert int `yaml:"neighbors_to_explore_at_insert"`
	EfSearch                   int `yaml:"ef_search"`
}

// ClusterConfig holds the node topology.
type ClusterConfig struct {
	Nodes      []NodeConfig `yaml:"nodes"`
	Redundancy int          `yaml:"redundancy"`
}

// NodeConfig describes one node of the topology.
type NodeConfig struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"` // container, content
}

// LimitsConfig holds write admission thresholds as usage ratios.
type LimitsConfig struct {
	DiskRatio float64 `yaml:"disk_ratio"`
	MemRatio  float64 `yaml:"mem_ratio"`
}

// EmbeddingConfig holds embedding provider and cache settings.
type EmbeddingConfig struct {
	Provider ProviderConfig `yaml:"provider"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ProviderConfig holds the embedding API settings.
type ProviderConfig struct {
	APIKey  string       `yaml:"api_key"`
	BaseURL string       `yaml:"base_url"`
	Model   string       `yaml:"model"`
	Budget  BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// CacheConfig holds the embedding cache (Redis) settings. Empty addrs
// disables caching.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
}

// StorageConfig holds snapshot persistence settings.
type StorageConfig struct {
	SnapshotPath string `yaml:"snapshot_path"` // empty disables snapshots
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Schema.Dimensions <= 0 {
		c.Schema.Dimensions = 3072
	}
	if c.Schema.RankProfile == "" {
		c.Schema.RankProfile = "closeness"
	}
	if c.Index.MaxLinksPerNode <= 0 {
		c.Index.MaxLinksPerNode = 16
	}
	if c.Index.NeighborsToExploreAtInsert <= 0 {
		c.Index.NeighborsToExploreAtInsert = 200
	}
	if c.Index.EfSearch <= 0 {
		c.Index.EfSearch = 100
	}
	if len(c.Cluster.Nodes) == 0 {
		c.Cluster.Nodes = []NodeConfig{{ID: "local", Role: "content"}}
	}
	if c.Cluster.Redundancy <= 0 {
		c.Cluster.Redundancy = 1
	}
	if c.Limits.DiskRatio <= 0 {
		c.Limits.DiskRatio = 0.99
	}
	if c.Limits.MemRatio <= 0 {
		c.Limits.MemRatio = 0.90
	}
	if c.Embedding.Provider.Model == "" {
		c.Embedding.Provider.Model = "text-embedding-3-large"
	}
	if c.Embedding.Cache.TTLSec <= 0 {
		c.Embedding.Cache.TTLSec = 86400
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Limits.DiskRatio > 1 {
		return fmt.Errorf("limits.disk_ratio must be at most 1, got %g", c.Limits.DiskRatio)
	}
	if c.Limits.MemRatio > 1 {
		return fmt.Errorf("limits.mem_ratio must be at most 1, got %g", c.Limits.MemRatio)
	}
	content := 0
	for i, n := range c.Cluster.Nodes {
		switch n.Role {
		case "content":
			content++
		case "container":
		default:
			return fmt.Errorf("cluster.nodes[%d].role must be \"container\" or \"content\", got %q", i, n.Role)
		}
	}
	if content < c.Cluster.Redundancy {
		return fmt.Errorf("cluster needs at least %d content nodes, got %d", c.Cluster.Redundancy, content)
	}
	switch c.Embedding.Provider.Budget.Action {
	case "", "warn", "reject":
	default:
		return fmt.Errorf("embedding.provider.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Provider.Budget.Action)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
