// SPDX-FileCopyrightText: © 2026 The dotmap authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotmap/dotmap/core/log"
	"github.com/dotmap/dotmap/server/config"
	"github.com/dotmap/dotmap/wire"
)

// newTestWorkers builds the worker graph without sockets or goroutines,
// so worker handlers can be driven synchronously.
func newTestWorkers(t *testing.T, dataDir string) *Server {
	lb, err := log.New("", "DEBUG", true)
	require.NoError(t, err)

	cfg := &config.Config{
		Server: &config.Server{Address: "127.0.0.1:0", DataDir: dataDir},
	}
	require.NoError(t, cfg.FixupAndValidate())

	s := &Server{
		cfg:        cfg,
		logBackend: lb,
		readers:    newRegistry(),
		writers:    newRegistry(),
		ids:        newIDPool(),
		haltedCh:   make(chan interface{}),
	}
	s.writer = newWriterWorker(s)
	s.subs = newSubsWorker(s)
	s.store = newStoreWorker(s)
	s.snapshot = newSnapshotWorker(s)
	s.heartbeat = newHeartbeatWorker(s)
	return s
}

// collectOrders drains n orders from the writer inbox.
func collectOrders(t *testing.T, s *Server, n int) []wire.Order {
	var out []wire.Order
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case v := <-s.writer.in.Out():
			switch c := v.(type) {
			case writeQueue:
				out = append(out, c.order)
			case writeQueueAll:
				out = append(out, c.orders...)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d orders, got %d", n, len(out))
		}
	}
	return out
}

// requireNoOrders asserts the writer inbox stays empty for a moment.
func requireNoOrders(t *testing.T, s *Server) {
	select {
	case v := <-s.writer.in.Out():
		t.Fatalf("unexpected writer command: %#v", v)
	case <-time.After(50 * time.Millisecond):
	}
}
