// heartbeat.go - idle connection sweeper
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
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/server/internal/conn"
	"github.com/dotmap/dotmap/wire"
)

const (
	readerIdleTimeout = 30 * time.Second
	writerIdleTimeout = 60 * time.Second
)

// heartbeatWorker periodically shuts down readers stuck mid-frame and
// pings idle writers with a zero payload frame, which is still a valid
// 6 byte frame on the wire.
type heartbeatWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger
}

func newHeartbeatWorker(s *Server) *heartbeatWorker {
	return &heartbeatWorker{
		s:   s,
		log: s.logBackend.GetLogger("heartbeat"),
	}
}

func (h *heartbeatWorker) worker() {
	ticker := time.NewTicker(readerIdleTimeout)
	defer ticker.Stop()

	ping := false
	for {
		select {
		case <-h.HaltCh():
			return
		case <-ticker.C:
		}

		h.dropIdleReaders()
		if ping {
			h.pingIdleWriters()
		}
		ping = !ping
	}
}

// dropIdleReaders shuts down connections that have been sitting on an
// incomplete frame for too long.  The shutdown wakes the poller, and the
// reader path notices the corpse and drops it.
func (h *heartbeatWorker) dropIdleReaders() {
	now := time.Now()
	h.s.readers.forEach(func(c *conn.Conn) {
		c.Lock()
		if !c.Closed && c.PendingRead && now.Sub(c.LastRead) > readerIdleTimeout {
			c.Closed = true
			c.Shutdown()
			h.log.Infof("Shutting down reader #%d, timed out", c.ID)
		}
		c.Unlock()
	})
}

func (h *heartbeatWorker) pingIdleWriters() {
	now := time.Now()
	var orders []wire.Order
	h.s.writers.forEach(func(c *conn.Conn) {
		c.Lock()
		if !c.Closed && now.Sub(c.LastWrite) > writerIdleTimeout {
			orders = append(orders, wire.Order{To: c.ID})
			h.log.Debugf("Pinging connection #%d", c.ID)
		}
		c.Unlock()
	})
	if len(orders) > 0 {
		h.s.writer.queueAll(orders)
	}
}
