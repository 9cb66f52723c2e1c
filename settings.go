// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package biofhe

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Settings holds the run settings shared by the commands. It is decoded from a
// TOML file and then treated as read-only.
type Settings struct {
	DataDir   string
	Dataset   string
	Strategy  string
	Workers   int
	EarlyStop bool
	Lenient   bool

	Storage StorageSettings
	Redis   RedisSettings

	// RateLimit is the number of authentications a worker admits per second.
	// Zero disables throttling.
	RateLimit float64
	Burst     int
}

// StorageSettings selects the ciphertext storage backend.
type StorageSettings struct {
	Backend  string // memory, file or minio
	Dir      string
	Capacity int // megabytes, memory backend only
	Compress bool

	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// RedisSettings configures the authentication job queue.
type RedisSettings struct {
	Addr     string
	Password string
	DB       int
}

// DefaultSettings returns settings for a local run over the BMDB2 preset.
func DefaultSettings() Settings {
	return Settings{
		DataDir:  "data",
		Dataset:  "BMDB2",
		Strategy: "classic-cpu",
		Storage: StorageSettings{
			Backend:  "memory",
			Capacity: 10000,
			Compress: true,
		},
		Redis: RedisSettings{Addr: "localhost:6379"},
		Burst: 1,
	}
}

// DecodeSettings parses TOML over the defaults.
func DecodeSettings(data string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.Decode(data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: decode settings: %v", ErrInvalidConfig, err)
	}
	if _, err := s.Config(); err != nil {
		return Settings{}, err
	}
	if _, err := s.ParsedStrategy(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads a TOML settings file. An empty path yields the defaults.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, &MalformedInputError{Source: path, Err: err}
	}
	return DecodeSettings(string(data))
}

// Config resolves the dataset preset.
func (s Settings) Config() (Config, error) {
	return Preset(s.Dataset)
}

// ParsedStrategy resolves the named strategy and applies the worker count.
func (s Settings) ParsedStrategy() (Strategy, error) {
	st, err := ParseStrategy(s.Strategy)
	if err != nil {
		return Strategy{}, err
	}
	if s.Workers > 0 {
		st.Workers = s.Workers
	}
	return st, nil
}
