// main.go - dotmap server daemon
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

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dotmap/dotmap/server"
	"github.com/dotmap/dotmap/server/config"
)

func main() {
	cfgFile := flag.String("f", "", "Path to the configuration file")
	addr := flag.String("a", "0.0.0.0:1984", "Bind address")
	dataDir := flag.String("d", "data", "Data directory")
	throttle := flag.Int("t", 3, "Snapshot throttle in seconds")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *cfgFile != "" {
		cfg, err = config.LoadFile(*cfgFile)
	} else {
		var abs string
		if abs, err = filepath.Abs(*dataDir); err == nil {
			cfg = &config.Config{
				Server: &config.Server{Address: *addr, DataDir: abs},
				Store:  &config.Store{SnapshotInterval: *throttle},
			}
			err = cfg.FixupAndValidate()
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(-1)
	}

	s, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(-1)
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		s.Shutdown()
	}()

	s.Wait()
}
