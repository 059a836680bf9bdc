// store.go - data engine worker
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
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/eapache/channels.v1"
	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/wire"
)

// Store worker commands.  Every parsed command becomes exactly one of
// these, so the store's inbox is the single serialization point for
// replies: a connection's replies reach the writer in the order its
// commands were parsed, asynchronous or not.
type (
	cmdReply     struct{ to int; mid uint16; data []byte }
	cmdSet       struct{ key string; val []byte; from int; mid uint16 }
	cmdSetIfNone struct{ key string; val []byte; from int; mid uint16 }
	cmdSetList   struct{ sepKey string; blob []byte; from int; mid uint16 }
	cmdInc       struct{ key string; from int; mid uint16 }
	cmdAppend    struct{ key string; val []byte; from int; mid uint16 }
	cmdDelete    struct{ key string; from int; mid uint16 }
	cmdGet       struct{ key string; from int; mid uint16 }
	cmdKeyValue  struct{ key string; from int; mid uint16 }
	cmdJtrim     struct{ key string; from int; mid uint16 }
	cmdJson      struct{ key string; from int; mid uint16 }
	cmdSubscribe struct {
		key  string
		kind wire.Op
		val  []byte
		from int
		mid  uint16
	}
	cmdUnsub   struct{ key string; val []byte; from int; mid uint16 }
	cmdSubCall struct{ key string; val []byte; from int; mid uint16 }
)

type pair struct {
	k string
	v []byte
}

// storeWorker owns the sorted key/value map.  All mutations happen on
// its goroutine; the snapshotter only ever takes a copy-on-write clone
// under the brief map lock.
type storeWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in *channels.InfiniteChannel

	mu    sync.Mutex
	m     btree.Map[string, []byte]
	dirty atomic.Bool
}

func newStoreWorker(s *Server) *storeWorker {
	return &storeWorker{
		s:   s,
		log: s.logBackend.GetLogger("store"),
		in:  channels.NewInfiniteChannel(),
	}
}

func (d *storeWorker) submit(cmd interface{}) {
	d.in.In() <- cmd
}

func (d *storeWorker) worker() {
	for {
		select {
		case <-d.HaltCh():
			return
		case v, ok := <-d.in.Out():
			if !ok {
				return
			}
			d.handle(v)
		}
	}
}

func (d *storeWorker) handle(v interface{}) {
	ok := []byte(wire.ReplyOK)

	switch c := v.(type) {
	case cmdReply:
		d.reply(c.to, c.mid, c.data)

	case cmdSet:
		d.set(c.key, c.val)
		d.call(c.key, c.val)
		d.reply(c.from, c.mid, ok)

	case cmdSetIfNone:
		if d.setIfAbsent(c.key, c.val) {
			d.call(c.key, c.val)
		}
		d.reply(c.from, c.mid, ok)

	case cmdSetList:
		sep := c.sepKey[0]
		for _, rec := range bytes.Split(c.blob, []byte{sep}) {
			if len(rec) == 0 {
				continue
			}
			key, val := wire.SplitKV(rec)
			d.set(key, val)
			d.call(key, val)
		}
		d.reply(c.from, c.mid, ok)

	case cmdInc:
		val := d.inc(c.key)
		d.reply(c.from, c.mid, val)
		d.call(c.key, val)

	case cmdAppend:
		val := d.append(c.key, c.val)
		d.reply(c.from, c.mid, val)
		d.call(c.key, val)

	case cmdDelete:
		d.delete(c.key)
		d.reply(c.from, c.mid, ok)

	case cmdGet:
		d.reply(c.from, c.mid, d.get(c.key))

	case cmdKeyValue:
		d.reply(c.from, c.mid, d.keyValue(c.key))

	case cmdJtrim:
		d.reply(c.from, c.mid, d.json(c.key, true))

	case cmdJson:
		d.reply(c.from, c.mid, d.json(c.key, false))

	case cmdSubscribe:
		d.s.subs.add(c.key, c.from, c.kind)
		if len(c.val) > 0 {
			d.call(c.key, c.val)
		}
		d.reply(c.from, c.mid, ok)

	case cmdUnsub:
		if len(c.val) > 0 {
			d.call(c.key, c.val)
		}
		d.s.subs.del(c.key, c.from)
		d.reply(c.from, c.mid, ok)

	case cmdSubCall:
		d.call(c.key, c.val)
		d.reply(c.from, c.mid, ok)
	}
}

func (d *storeWorker) reply(to int, mid uint16, data []byte) {
	d.s.writer.queue(wire.Order{From: uint16(to), To: to, MsgID: mid, Data: data})
}

func (d *storeWorker) call(key string, val []byte) {
	d.s.subs.call(key, val)
}

// set stores val at key and marks the store dirty.
func (d *storeWorker) set(key string, val []byte) {
	d.mu.Lock()
	d.m.Set(key, cloneBytes(val))
	d.mu.Unlock()
	d.dirty.Store(true)
}

// setIfAbsent stores val only when key has no value yet.
func (d *storeWorker) setIfAbsent(key string, val []byte) bool {
	d.mu.Lock()
	_, exists := d.m.Get(key)
	if !exists {
		d.m.Set(key, cloneBytes(val))
	}
	d.mu.Unlock()
	if !exists {
		d.dirty.Store(true)
	}
	return !exists
}

// get returns the value at key, nil when absent.
func (d *storeWorker) get(key string) []byte {
	d.mu.Lock()
	v, _ := d.m.Get(key)
	d.mu.Unlock()
	return v
}

// delete removes key, marking the store dirty only when it was present.
func (d *storeWorker) delete(key string) {
	d.mu.Lock()
	_, existed := d.m.Delete(key)
	d.mu.Unlock()
	if existed {
		d.dirty.Store(true)
	}
}

// inc interprets the value at key as an integer, increments it and
// stores it back as 8 bytes big-endian, returning the stored bytes.
func (d *storeWorker) inc(key string) []byte {
	d.mu.Lock()
	old, _ := d.m.Get(key)
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, bytesToUint64(old)+1)
	d.m.Set(key, val)
	d.mu.Unlock()
	d.dirty.Store(true)
	return val
}

// append extends the value at key, creating it when absent, and returns
// the new value.
func (d *storeWorker) append(key string, data []byte) []byte {
	d.mu.Lock()
	old, _ := d.m.Get(key)
	val := make([]byte, 0, len(old)+len(data))
	val = append(val, old...)
	val = append(val, data...)
	d.m.Set(key, val)
	d.mu.Unlock()
	d.dirty.Store(true)
	return val
}

// keyValue renders the prefix range of key as NUL-separated
// "lastSegment SP value" records.
func (d *storeWorker) keyValue(key string) []byte {
	var out []byte
	for i, p := range d.rangePairs(key) {
		if i > 0 {
			out = append(out, 0)
		}
		out = append(out, lastSegment(p.k)...)
		out = append(out, ' ')
		out = append(out, p.v...)
	}
	return out
}

// json folds the prefix range of key into a nested JSON object by
// dot-path insertion, then navigates to key.  With trim set the subtree
// at key is returned; otherwise the whole object, provided key resolves.
// A non-empty key that does not resolve yields "{}"; an empty key always
// yields the whole object.
func (d *storeWorker) json(key string, trim bool) []byte {
	doc := []byte("{}")
	for _, p := range d.rangePairs(key) {
		if p.k == "" {
			continue
		}
		var err error
		if doc, err = sjson.SetBytes(doc, p.k, string(p.v)); err != nil {
			d.log.Debugf("Skipping unprojectable key %q: %v", p.k, err)
		}
	}
	if key == "" {
		return doc
	}
	res := gjson.GetBytes(doc, key)
	if !res.Exists() {
		return []byte("{}")
	}
	if trim {
		return []byte(res.Raw)
	}
	return doc
}

// rangePairs returns the entries whose keys start with prefix, in key
// order, cloned out of the map under its lock.
func (d *storeWorker) rangePairs(prefix string) []pair {
	var pairs []pair
	d.mu.Lock()
	d.m.Ascend(prefix, func(k string, v []byte) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		pairs = append(pairs, pair{k: k, v: v})
		return true
	})
	d.mu.Unlock()
	return pairs
}

// snapshotMap clones the map for the snapshotter.
func (d *storeWorker) snapshotMap() map[string][]byte {
	d.mu.Lock()
	clone := d.m.Copy()
	d.mu.Unlock()

	out := make(map[string][]byte, clone.Len())
	clone.Scan(func(k string, v []byte) bool {
		out[k] = v
		return true
	})
	return out
}

// install sets every entry of m in the map, used at load time only;
// keys already present and absent from m are kept.
func (d *storeWorker) install(m map[string][]byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range m {
		d.m.Set(k, v)
	}
}

func lastSegment(key string) string {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// bytesToUint64 reads 8 bytes as big-endian; anything else is parsed as
// a decimal string, defaulting to 0.
func bytesToUint64(v []byte) uint64 {
	if len(v) == 8 {
		return binary.BigEndian.Uint64(v)
	}
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func cloneBytes(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
