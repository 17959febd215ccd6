// Copyright (c) 2026 Michael D Henderson. All rights reserved.

package sqlitestore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values loaded by LoadConfig.
const (
	EnvPath          = "SQLITESTORE_PATH"
	EnvEncryptionKey = "SQLITESTORE_ENCRYPTION_KEY"
)

// fileConfig is the YAML form of Config.
//
//	path: data/app.db
//	encryption_key: secret
//	busy_timeout: 5s
//	migrate:
//	  migrations_path: migrations
//	  table: migrations
//	  reapply_last: false
//
// migrate may also be a boolean: false disables migration, true uses the
// defaults.
type fileConfig struct {
	Path          string        `yaml:"path"`
	EncryptionKey string        `yaml:"encryption_key"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
	Migrate       migrateOption `yaml:"migrate"`
}

type migrateOption struct {
	cfg *MigrateConfig
}

// UnmarshalYAML accepts either a boolean or a mapping.
func (o *migrateOption) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!bool" {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return err
		}
		o.cfg = nil
		if enabled {
			o.cfg = &MigrateConfig{}
		}
		return nil
	}

	var m struct {
		MigrationsPath string   `yaml:"migrations_path"`
		Migrations     []string `yaml:"migrations"`
		Table          string   `yaml:"table"`
		ReapplyLast    bool     `yaml:"reapply_last"`
	}
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	o.cfg = &MigrateConfig{
		MigrationsPath: m.MigrationsPath,
		Migrations:     m.Migrations,
		Table:          m.Table,
		ReapplyLast:    m.ReapplyLast,
	}
	return nil
}

// LoadConfig reads a YAML configuration file and applies the SQLITESTORE_*
// environment overrides. The returned Config has no Logger set.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// parseConfig decodes YAML, rejecting unknown keys.
func parseConfig(data []byte) (Config, error) {
	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Config{
		Path:          fc.Path,
		EncryptionKey: fc.EncryptionKey,
		BusyTimeout:   fc.BusyTimeout,
		Migrate:       fc.Migrate.cfg,
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPath); v != "" {
		cfg.Path = v
	}
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		cfg.EncryptionKey = v
	}
}

// Validate checks the configuration for errors Open would otherwise report
// late.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("busy_timeout must not be negative"))
	}
	if mc := cfg.Migrate; mc != nil {
		if !isIdentifier(mc.table()) {
			errs = append(errs, fmt.Errorf("migrate.table %q is not a valid identifier", mc.table()))
		}
		sources := 0
		for _, set := range []bool{mc.MigrationsPath != "", mc.FS != nil, mc.Migrations != nil} {
			if set {
				sources++
			}
		}
		if sources > 1 {
			errs = append(errs, fmt.Errorf("migrate: only one migration source may be set"))
		}
	}
	return errors.Join(errs...)
}
