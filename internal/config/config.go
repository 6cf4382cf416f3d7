// Package config loads the vault configuration from a YAML file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rajnish8869/SecureVault-Manager/internal/crypto"
)

type KDFConfig struct {
	MemoryKiB uint32 `yaml:"memory_kib"`
	Passes    uint32 `yaml:"passes"`
	Lanes     uint8  `yaml:"lanes"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type Config struct {
	VaultDir       string        `yaml:"vault_dir"`
	RegistryPath   string        `yaml:"registry_path"`
	KDF            KDFConfig     `yaml:"kdf"`
	MetaBoundBytes   int         `yaml:"meta_bound_bytes"`
	RotateRetries    int         `yaml:"rotate_retries"`
	UnlockIntervalMS int64       `yaml:"unlock_interval_ms"`
	UnlockBurst      int         `yaml:"unlock_burst"`
	Mongo            MongoConfig `yaml:"mongo"`
}

// Load reads the configuration file at path. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	var c Config
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.setDefaults()
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.VaultDir == "" {
		c.VaultDir = "./vault"
	}
	if c.RegistryPath == "" {
		c.RegistryPath = c.VaultDir + "/auth.json"
	}
	def := crypto.DefaultKDF()
	if c.KDF.MemoryKiB == 0 {
		c.KDF.MemoryKiB = def.M
	}
	if c.KDF.Passes == 0 {
		c.KDF.Passes = def.T
	}
	if c.KDF.Lanes == 0 {
		c.KDF.Lanes = def.P
	}
	if c.MetaBoundBytes <= 0 {
		c.MetaBoundBytes = 4 << 20
	}
	if c.RotateRetries <= 0 {
		c.RotateRetries = 3
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "securevault"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "objects"
	}
}

// KDFParams converts the configured costs to crypto parameters.
func (c *Config) KDFParams() crypto.KDFParams {
	return crypto.KDFParams{M: c.KDF.MemoryKiB, T: c.KDF.Passes, P: c.KDF.Lanes}
}

// UnlockInterval returns the configured unlock throttle interval.
func (c *Config) UnlockInterval() time.Duration {
	return time.Duration(c.UnlockIntervalMS) * time.Millisecond
}
