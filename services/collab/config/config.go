// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the collab server configuration.
//
// # Description
//
// Configuration comes from three layers, later ones winning:
//  1. DefaultConfig
//  2. An optional YAML file
//  3. Environment overrides (COLLAB_PORT, COLLAB_LOG_LEVEL,
//     COLLAB_REDIS_ADDR, COLLAB_DATABASE_URL, OTEL_EXPORTER_OTLP_ENDPOINT)
//
// Setting a backend's address in the environment also selects that
// backend, so a container needs no config file.
//
// The merged result is validated with struct tags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianCollab/services/collab/handlers"
	"github.com/AleutianAI/AleutianCollab/services/collab/manager"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage"
	"github.com/AleutianAI/AleutianCollab/services/collab/storage/badger"
	"github.com/AleutianAI/AleutianCollab/services/collab/telemetry"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreBadger   = "badger"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreNone     = "none"
)

// Environment variables read by ApplyEnv.
const (
	EnvPort         = "COLLAB_PORT"
	EnvLogLevel     = "COLLAB_LOG_LEVEL"
	EnvRedisAddr    = "COLLAB_REDIS_ADDR"
	EnvDatabaseURL  = "COLLAB_DATABASE_URL"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig      `yaml:"server"`
	Log       LogConfig         `yaml:"log"`
	Manager   manager.Config    `yaml:"manager"`
	WebSocket handlers.WSConfig `yaml:"websocket"`
	Storage   StorageConfig     `yaml:"storage"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig controls the default slog handler.
//
// Format "auto" picks text on a terminal and JSON otherwise.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto json text"`
}

// StorageConfig selects and configures the snapshot and operation stores.
type StorageConfig struct {
	Snapshots   string            `yaml:"snapshots" validate:"oneof=memory badger postgres"`
	Operations  string            `yaml:"operations" validate:"oneof=none memory badger redis"`
	Retention   storage.Retention `yaml:"retention"`
	Badger      badger.Config     `yaml:"badger"`
	PostgresURL string            `yaml:"postgres_url" validate:"required_if=Snapshots postgres"`
	Redis       RedisConfig       `yaml:"redis"`
}

// RedisConfig addresses the Redis operation store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

// DefaultConfig returns a self-contained in-memory setup on port 12300.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            12300,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Manager:   manager.DefaultConfig(),
		WebSocket: handlers.DefaultWSConfig(),
		Storage: StorageConfig{
			Snapshots:  StoreMemory,
			Operations: StoreMemory,
			Retention:  storage.DefaultRetention(),
			Badger:     badger.DefaultConfig(),
			Redis:      RedisConfig{Addr: "localhost:6379"},
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = validator.New()

// Validate checks every field against its tags and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Operations == StoreRedis && c.Storage.Redis.Addr == "" {
		return errors.New("invalid config: storage.redis.addr is required for the redis operation store")
	}
	if c.Storage.Snapshots == StoreBadger || c.Storage.Operations == StoreBadger {
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
			return errors.New("invalid config: storage.badger.path is required")
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the process environment.
//
// # Outputs
//
//   - Config: The validated configuration.
//   - error: Read, parse, override or validation failure.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read the config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment overrides onto cfg. Setting
// COLLAB_REDIS_ADDR selects the redis operation store and setting
// COLLAB_DATABASE_URL selects the postgres snapshot store.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvPort, v, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		cfg.Storage.Redis.Addr = v
		cfg.Storage.Operations = StoreRedis
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		cfg.Storage.PostgresURL = v
		cfg.Storage.Snapshots = StorePostgres
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.TraceExporter = telemetry.ExporterOTLP
	}
	return nil
}

// ParseLevel maps a config level name to a slog.Level. Unknown names map
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Save writes cfg as YAML, for `collab config init`.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write the config file %s: %w", path, err)
	}
	return nil
}
