// snapshot.go - throttled store persistence worker
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

//go:build linux

package server

import (
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/server/internal/instrument"
)

// snapshotWorker persists the store map to a single opaque CBOR blob,
// at most once per throttle interval and only when the store is dirty.
// Persistence failures are logged and retried on the next tick; they
// never surface to clients.
type snapshotWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	path     string
	interval time.Duration
}

func newSnapshotWorker(s *Server) *snapshotWorker {
	return &snapshotWorker{
		s:        s,
		log:      s.logBackend.GetLogger("snapshot"),
		path:     s.cfg.SnapshotPath(),
		interval: time.Duration(s.cfg.Store.SnapshotInterval) * time.Second,
	}
}

// load installs the snapshot file into the store, if there is one.  A
// missing or empty file is a fresh start; a corrupt blob is logged and
// ignored.
func (w *snapshotWorker) load() error {
	blob, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(blob) == 0 {
		return nil
	}

	var m map[string][]byte
	if err = cbor.Unmarshal(blob, &m); err != nil {
		w.log.Errorf("Ignoring corrupt snapshot %v: %v", w.path, err)
		return nil
	}
	w.s.store.install(m)
	w.log.Noticef("Loaded %d keys from %v", len(m), w.path)
	return nil
}

func (w *snapshotWorker) worker() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.HaltCh():
			w.maybeSave()
			return
		case <-ticker.C:
			w.maybeSave()
		}
	}
}

func (w *snapshotWorker) maybeSave() {
	if !w.s.store.dirty.Swap(false) {
		return
	}
	if err := w.save(); err != nil {
		w.log.Errorf("Failed to save snapshot: %v", err)
		return
	}
	instrument.SnapshotSaved()
}

// save writes the blob through a temporary file and renames it into
// place, so a crash mid-write never clobbers the previous snapshot.
func (w *snapshotWorker) save() error {
	m := w.s.store.snapshotMap()
	blob, err := cbor.Marshal(m)
	if err != nil {
		return err
	}

	tmp := w.path + ".tmp"
	if err = os.WriteFile(tmp, blob, 0600); err != nil {
		return err
	}
	if err = os.Rename(tmp, w.path); err != nil {
		return err
	}
	w.log.Debugf("Saved %d keys to %v", len(m), w.path)
	return nil
}
