// config.go - server configuration
// Copyright (C) 2026  The dotmap authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config provides the dotmap server configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress          = "0.0.0.0:1984"
	defaultSnapshotFile     = "store.cbor"
	defaultSnapshotInterval = 3
	defaultLogLevel         = "NOTICE"
)

// Server is the main server configuration.
type Server struct {
	// Address is the TCP bind address.
	Address string

	// DataDir is the absolute path to the server's state directory.
	DataDir string
}

func (sCfg *Server) validate() error {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if sCfg.DataDir == "" {
		return errors.New("config: Server: DataDir is not set")
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	return nil
}

// Store is the data store configuration.
type Store struct {
	// SnapshotFile is the snapshot file name, relative to DataDir.
	SnapshotFile string

	// SnapshotInterval is the snapshot throttle in seconds.
	SnapshotInterval int
}

func (stCfg *Store) validate() error {
	if stCfg.SnapshotFile == "" {
		stCfg.SnapshotFile = defaultSnapshotFile
	}
	if stCfg.SnapshotInterval == 0 {
		stCfg.SnapshotInterval = defaultSnapshotInterval
	}
	if stCfg.SnapshotInterval < 0 {
		return fmt.Errorf("config: Store: SnapshotInterval %d is negative", stCfg.SnapshotInterval)
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File is the log file; logs go to stderr when empty.
	File string

	// Level is one of ERROR, WARNING, NOTICE, INFO, DEBUG.
	Level string
}

func (lCfg *Logging) validate() error {
	switch lCfg.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lCfg.Level = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: invalid Level '%v'", lCfg.Level)
	}
	return nil
}

// Config is the top level configuration.
type Config struct {
	Server  *Server
	Store   *Store
	Logging *Logging
}

// FixupAndValidate applies defaults and validates the configuration.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		return errors.New("config: no Server block")
	}
	if cfg.Store == nil {
		cfg.Store = &Store{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Store.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// SnapshotPath returns the absolute snapshot file path.
func (cfg *Config) SnapshotPath() string {
	return filepath.Join(cfg.Server.DataDir, cfg.Store.SnapshotFile)
}

// Load parses and validates a configuration from b.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates a configuration file.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
