// Copyright 2024 Harith Kavish
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the TOML configuration file.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/harithkavish/drivechat/internal/homedir"
	"github.com/harithkavish/drivechat/internal/session"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Duration decodes TOML duration strings such as "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the program configuration.
type Config struct {
	// ClientID and ClientSecret identify this program to the
	// identity provider. ClientID is required.
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`

	// StorePath is the sqlite database holding the local store.
	StorePath string `toml:"store_path"`

	// RemoteFile is the name of the application-data file that
	// mirrors the message map.
	RemoteFile string `toml:"remote_file"`

	// SafetyWindow is the margin before credential expiry at which
	// the credential is treated as already expired.
	SafetyWindow Duration `toml:"safety_window"`

	LogLevel string `toml:"log_level"`
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return filepath.Join(homedir.Get(), ".drivechat.toml")
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return &Config{
		StorePath:    filepath.Join(homedir.Get(), ".drivechat.db"),
		RemoteFile:   "chat_history.json",
		SafetyWindow: Duration{session.DefaultSafetyWindow},
		LogLevel:     "info",
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// is not an error; the defaults are returned as-is and Validate
// reports what is still required.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Validate reports required fields that are unset.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.SafetyWindow.Duration < 0 {
		return errors.New("safety_window must not be negative")
	}
	return nil
}
