// subs.go - subscription router worker
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
	"github.com/dotmap/dotmap/wire"
)

type (
	subAdd    struct{ key string; id int; kind wire.Op }
	subDel    struct{ key string; id int }
	subDelAll struct{ id int }
	subCall   struct{ key string; val []byte }
)

type subEntry struct {
	id   int
	kind wire.Op
}

// subsWorker owns the key to subscribers registry.  Subscriptions are
// exact-match on key; notifications are delivered verbatim as orders
// stamped from=0, msg_id=0.
type subsWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in       *channels.InfiniteChannel
	registry map[string][]subEntry
}

func newSubsWorker(s *Server) *subsWorker {
	return &subsWorker{
		s:        s,
		log:      s.logBackend.GetLogger("subs"),
		in:       channels.NewInfiniteChannel(),
		registry: make(map[string][]subEntry),
	}
}

func (u *subsWorker) add(key string, id int, kind wire.Op) {
	u.in.In() <- subAdd{key: key, id: id, kind: kind}
}

func (u *subsWorker) del(key string, id int) {
	u.in.In() <- subDel{key: key, id: id}
}

func (u *subsWorker) delAll(id int) {
	u.in.In() <- subDelAll{id: id}
}

func (u *subsWorker) call(key string, val []byte) {
	u.in.In() <- subCall{key: key, val: val}
}

func (u *subsWorker) worker() {
	for {
		select {
		case <-u.HaltCh():
			return
		case v, ok := <-u.in.Out():
			if !ok {
				return
			}
			u.handle(v)
		}
	}
}

func (u *subsWorker) handle(v interface{}) {
	switch c := v.(type) {
	case subAdd:
		entries := u.registry[c.key]
		for _, e := range entries {
			if e.id == c.id {
				return
			}
		}
		u.registry[c.key] = append(entries, subEntry{id: c.id, kind: c.kind})
		u.log.Debugf("Connection #%d subscribed to %q", c.id, c.key)

	case subDel:
		u.registry[c.key] = withoutID(u.registry[c.key], c.id)
		if len(u.registry[c.key]) == 0 {
			delete(u.registry, c.key)
		}

	case subDelAll:
		for key, entries := range u.registry {
			entries = withoutID(entries, c.id)
			if len(entries) == 0 {
				delete(u.registry, key)
			} else {
				u.registry[key] = entries
			}
		}

	case subCall:
		entries := u.registry[c.key]
		if len(entries) == 0 {
			return
		}
		orders := make([]wire.Order, 0, len(entries))
		for _, e := range entries {
			orders = append(orders, wire.Order{To: e.id, Data: c.val})
		}
		u.s.writer.queueAll(orders)
		instrument.SubsNotified(len(orders))
	}
}

func withoutID(entries []subEntry, id int) []subEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
