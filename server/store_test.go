// SPDX-FileCopyrightText: © 2026 The dotmap authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package server

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func be64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func TestStoreSetGetDelete(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())
	d := s.store

	require.Nil(d.get("user.name"))

	d.set("user.name", []byte("ada"))
	require.Equal([]byte("ada"), d.get("user.name"))

	d.set("user.name", []byte("grace"))
	require.Equal([]byte("grace"), d.get("user.name"))

	d.delete("user.name")
	require.Nil(d.get("user.name"))
}

func TestStoreSetIfAbsent(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	require.True(d.setIfAbsent("k", []byte("first")))
	require.False(d.setIfAbsent("k", []byte("second")))
	require.Equal([]byte("first"), d.get("k"))
}

func TestStoreIncSequence(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	// n consecutive increments of an absent key yield n.
	for n := uint64(1); n <= 3; n++ {
		require.Equal(be64(n), d.inc("counter"))
	}
	require.Equal(be64(3), d.get("counter"))
}

func TestStoreIncConversions(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	// Decimal strings are parsed.
	d.set("a", []byte("41"))
	require.Equal(be64(42), d.inc("a"))

	// Anything unparsable counts from zero.
	d.set("b", []byte("not a number"))
	require.Equal(be64(1), d.inc("b"))

	// Stored 8 byte values are read back big-endian.
	d.set("c", be64(99))
	require.Equal(be64(100), d.inc("c"))
}

func TestStoreAppend(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	require.Equal([]byte("hello"), d.append("k", []byte("hello")))
	require.Equal([]byte("hello world"), d.append("k", []byte(" world")))
	require.Equal([]byte("hello world"), d.get("k"))
}

func TestStoreKeyValueProjection(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	d.set("user.x", []byte("1"))
	d.set("user.y", []byte("2"))
	d.set("unrelated", []byte("3"))

	require.Equal([]byte("x 1\x00y 2"), d.keyValue("user."))
	require.Empty(d.keyValue("nope."))

	// Lexicographic order, insertion order does not matter.
	d.set("user.a", []byte("0"))
	require.Equal([]byte("a 0\x00x 1\x00y 2"), d.keyValue("user."))
}

func TestStoreJsonProjection(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	d.set("a.b", []byte("1"))
	d.set("a.c", []byte("2"))

	require.Equal(`{"a":{"b":"1","c":"2"}}`, string(d.json("a", false)))
	require.Equal(`{"b":"1","c":"2"}`, string(d.json("a", true)))
	require.Equal(`"1"`, string(d.json("a.b", true)))

	// A pointer that resolves nothing yields an empty object.
	require.Equal(`{}`, string(d.json("a.missing", true)))
	require.Equal(`{}`, string(d.json("zzz", false)))

	// The empty key always yields the whole object.
	require.Equal(`{"a":{"b":"1","c":"2"}}`, string(d.json("", true)))
	require.Equal(`{"a":{"b":"1","c":"2"}}`, string(d.json("", false)))
}

func TestStoreDirtyFlag(t *testing.T) {
	require := require.New(t)
	d := newTestWorkers(t, t.TempDir()).store

	require.False(d.dirty.Load())

	d.set("k", []byte("v"))
	require.True(d.dirty.Swap(false))

	// Deleting an absent key does not dirty the store.
	d.delete("missing")
	require.False(d.dirty.Load())

	d.delete("k")
	require.True(d.dirty.Load())
}

func TestStoreHandleSetList(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())

	s.store.handle(cmdSetList{
		sepKey: ",",
		blob:   []byte(", somekey value 1, other.key value 2, third 3"),
		from:   4,
		mid:    9,
	})

	require.Equal([]byte("value 1"), s.store.get("somekey"))
	require.Equal([]byte("value 2"), s.store.get("other.key"))
	require.Equal([]byte("3"), s.store.get("third"))

	orders := collectOrders(t, s, 1)
	require.Equal("OK", string(orders[0].Data))
	require.Equal(4, orders[0].To)
	require.Equal(uint16(9), orders[0].MsgID)
}

// Replies must reach the writer in the order the commands entered the
// store, even when they mix synchronous and asynchronous ops.
func TestStoreReplyOrdering(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())

	s.store.handle(cmdInc{key: "n", from: 2, mid: 1})
	s.store.handle(cmdSet{key: "k", val: []byte("v"), from: 2, mid: 2})
	s.store.handle(cmdGet{key: "k", from: 2, mid: 3})
	s.store.handle(cmdReply{to: 2, mid: 4, data: []byte("NOP")})

	orders := collectOrders(t, s, 4)
	require.Equal(be64(1), orders[0].Data)
	require.Equal("OK", string(orders[1].Data))
	require.Equal("v", string(orders[2].Data))
	require.Equal("NOP", string(orders[3].Data))
	for i, o := range orders {
		require.Equal(2, o.To)
		require.Equal(uint16(2), o.From)
		require.Equal(uint16(i+1), o.MsgID)
	}
}

func TestStoreHandleGetAbsent(t *testing.T) {
	s := newTestWorkers(t, t.TempDir())

	s.store.handle(cmdGet{key: "ghost", from: 1, mid: 5})

	orders := collectOrders(t, s, 1)
	require.Len(t, orders[0].Data, 0)
}

// The deterministic fold property: applying a command sequence yields
// the same final store as folding it by hand.
func TestStoreFold(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())
	d := s.store

	d.set("a", []byte("1"))
	d.set("b", []byte("2"))
	d.append("a", []byte("1"))
	d.inc("c")
	d.delete("b")
	d.set("b", []byte("3"))
	d.setIfAbsent("e", []byte("5"))
	d.setIfAbsent("a", []byte("ignored"))

	require.Equal([]byte("11"), d.get("a"))
	require.Equal([]byte("3"), d.get("b"))
	require.Equal(be64(1), d.get("c"))
	require.Equal([]byte("5"), d.get("e"))

	want := bytes.Join([][]byte{
		[]byte("a 11"),
		[]byte("b 3"),
		append([]byte("c "), be64(1)...),
		[]byte("e 5"),
	}, []byte{0})
	require.Equal(want, d.keyValue(""))
}
