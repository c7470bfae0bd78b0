package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// NodeConfig configures an oan-node. Values come from the YAML file; the
// OAN_* environment variables override the fields that carry an env tag.
type NodeConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Keys     KeysConfig     `yaml:"keys"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Matching MatchingConfig `yaml:"matching"`
	Cache    CacheConfig    `yaml:"cache"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Listen                 string `yaml:"listen" env:"OAN_LISTEN"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `yaml:"max_body_bytes"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"OAN_STORAGE_DRIVER"`
	PostgresDSN string `yaml:"postgres_dsn" env:"OAN_POSTGRES_DSN"`
	SQLitePath  string `yaml:"sqlite_path" env:"OAN_SQLITE_PATH"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
}

type KeysConfig struct {
	// KeystorePath is the sealed keystore file. Empty keeps keys in memory.
	KeystorePath string `yaml:"keystore_path" env:"OAN_KEYSTORE_PATH"`
	MasterKey    string `yaml:"master_key" env:"OAN_MASTER_KEY"`
	// NodeSignerID signs checkpoints and is created on first start.
	NodeSignerID string   `yaml:"node_signer_id"`
	Actors       []string `yaml:"actors"`
	// Imports brings externally issued key pairs into the keystore.
	Imports []KeyImport `yaml:"imports"`
}

type KeyImport struct {
	ActorID        string `yaml:"actor_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
}

type LedgerConfig struct {
	AppendTimeoutMS   int   `yaml:"append_timeout_ms"`
	MaxAppendAttempts int   `yaml:"max_append_attempts"`
	VerifySignatures  *bool `yaml:"verify_signatures"`
}

type MatchingConfig struct {
	Mode              string           `yaml:"mode" env:"OAN_MATCHING_MODE"`
	NormMin           int64            `yaml:"norm_min"`
	NormMax           int64            `yaml:"norm_max"`
	ProgramDifficulty int64            `yaml:"program_difficulty"`
	SubjectWeights    map[string]int64 `yaml:"subject_weights"`
	Workers           int              `yaml:"workers"`
}

type CacheConfig struct {
	// RedisAddr is host:port or a redis:// URL. Empty uses an in-process cache.
	RedisAddr  string `yaml:"redis_addr" env:"OAN_REDIS_ADDR"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type SecurityConfig struct {
	WriteToken       string `yaml:"write_token" env:"OAN_WRITE_TOKEN"`
	EnforceSecureTLS *bool  `yaml:"enforce_secure_transport"`
}

type LoggingConfig struct {
	Service string `yaml:"service"`
	Version string `yaml:"version"`
	Commit  string `yaml:"commit"`
	Region  string `yaml:"region"`
	NodeID  string `yaml:"node_id" env:"OAN_NODE_ID"`
	Level   string `yaml:"level" env:"OAN_LOG_LEVEL"`
}

func LoadNode(path string) (*NodeConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node config: %w", err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse node config yaml: %w", err)
	}
	cfg.expandEnv()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse node config env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NodeConfig) AppendTimeout() time.Duration {
	return time.Duration(c.Ledger.AppendTimeoutMS) * time.Millisecond
}

func (c *NodeConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *NodeConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8400"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 20
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 2 << 20
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 15
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Keys.NodeSignerID == "" {
		c.Keys.NodeSignerID = "oan-node"
	}
	if c.Ledger.AppendTimeoutMS <= 0 {
		c.Ledger.AppendTimeoutMS = 5000
	}
	if c.Ledger.MaxAppendAttempts <= 0 {
		c.Ledger.MaxAppendAttempts = 5
	}
	if c.Ledger.VerifySignatures == nil {
		c.Ledger.VerifySignatures = boolPtr(true)
	}
	c.Matching.Mode = strings.ToLower(strings.TrimSpace(c.Matching.Mode))
	if c.Matching.Mode == "" {
		c.Matching.Mode = "fixed"
	}
	if c.Matching.NormMax == 0 && c.Matching.NormMin == 0 {
		c.Matching.NormMax = 400
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 600
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "oan-node"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *NodeConfig) validate() error {
	secure := *c.Security.EnforceSecureTLS
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
		if secure && dsnUsesInsecureSSL(c.Storage.PostgresDSN) && !isLoopbackHost(dsnHost(c.Storage.PostgresDSN)) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
		}
	default:
		return errors.New("storage.driver must be one of memory|sqlite|postgres")
	}
	if c.Storage.MinConns > c.Storage.MaxConns {
		return errors.New("storage.min_conns must not exceed storage.max_conns")
	}
	if c.Keys.KeystorePath != "" && c.Keys.MasterKey == "" {
		return errors.New("keys.master_key is required with keys.keystore_path")
	}
	for i, imp := range c.Keys.Imports {
		if imp.ActorID == "" || imp.PrivateKeyPath == "" || imp.PublicKeyPath == "" {
			return fmt.Errorf("keys.imports[%d] requires actor_id, private_key_path and public_key_path", i)
		}
	}
	switch c.Matching.Mode {
	case "fixed", "advanced":
	default:
		return errors.New("matching.mode must be one of fixed|advanced")
	}
	if c.Matching.NormMax <= c.Matching.NormMin {
		return errors.New("matching.norm_max must be greater than matching.norm_min")
	}
	if c.Matching.Workers < 0 {
		return errors.New("matching.workers must not be negative")
	}
	if secure && c.Cache.RedisAddr != "" && hasScheme(c.Cache.RedisAddr, "redis") && !isLoopbackHost(dsnHost(c.Cache.RedisAddr)) {
		return errors.New("cache.redis_addr must use rediss:// when enforce_secure_transport is enabled")
	}
	if c.Security.WriteToken == "" {
		return errors.New("security.write_token is required")
	}
	return nil
}

func (c *NodeConfig) expandEnv() {
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Storage.SQLitePath = os.ExpandEnv(strings.TrimSpace(c.Storage.SQLitePath))
	c.Keys.KeystorePath = os.ExpandEnv(strings.TrimSpace(c.Keys.KeystorePath))
	c.Keys.MasterKey = os.ExpandEnv(strings.TrimSpace(c.Keys.MasterKey))
	for i := range c.Keys.Imports {
		imp := &c.Keys.Imports[i]
		imp.ActorID = strings.TrimSpace(imp.ActorID)
		imp.PrivateKeyPath = os.ExpandEnv(strings.TrimSpace(imp.PrivateKeyPath))
		imp.PublicKeyPath = os.ExpandEnv(strings.TrimSpace(imp.PublicKeyPath))
	}
	c.Cache.RedisAddr = os.ExpandEnv(strings.TrimSpace(c.Cache.RedisAddr))
	c.Security.WriteToken = os.ExpandEnv(strings.TrimSpace(c.Security.WriteToken))
}

func boolPtr(v bool) *bool { return &v }
