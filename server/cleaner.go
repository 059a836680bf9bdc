// cleaner.go - connection teardown worker
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
	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/server/internal/instrument"
)

type dropCmd struct {
	id int
}

// cleanerWorker tears a connection down: both registry entries go, the
// poller registrations go, the subscriptions are purged and the id
// returns to the free pool.  A second drop of the same id is a no-op.
type cleanerWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in *channels.InfiniteChannel
}

func newCleanerWorker(s *Server) *cleanerWorker {
	return &cleanerWorker{
		s:   s,
		log: s.logBackend.GetLogger("cleaner"),
		in:  channels.NewInfiniteChannel(),
	}
}

func (cl *cleanerWorker) drop(id int) {
	cl.in.In() <- dropCmd{id: id}
}

func (cl *cleanerWorker) worker() {
	for {
		select {
		case <-cl.HaltCh():
			return
		case v, ok := <-cl.in.Out():
			if !ok {
				return
			}
			cl.handleDrop(v.(dropCmd).id)
		}
	}
}

func (cl *cleanerWorker) handleDrop(id int) {
	rc := cl.s.readers.remove(id)
	wc := cl.s.writers.remove(id)
	if rc == nil && wc == nil {
		return
	}

	if rc != nil {
		_ = cl.s.poller.Delete(rc.FD)
		rc.Close()
	}
	if wc != nil {
		_ = cl.s.poller.Delete(wc.FD)
		wc.Close()
	}

	cl.s.subs.delAll(id)
	cl.s.reader.forget(id)
	cl.s.ids.release(id)
	instrument.ConnectionDropped()
	cl.log.Debugf("Connection #%d dropped", id)
}
