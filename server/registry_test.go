// SPDX-FileCopyrightText: © 2026 The dotmap authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotmap/dotmap/server/internal/conn"
)

func TestIDPool(t *testing.T) {
	require := require.New(t)
	p := newIDPool()

	a, ok := p.alloc()
	require.True(ok)
	require.Equal(1, a)
	b, ok := p.alloc()
	require.True(ok)
	require.Equal(2, b)

	// Released ids are reused before the counter grows.
	p.release(a)
	c, ok := p.alloc()
	require.True(ok)
	require.Equal(a, c)

	// The id space is bounded by the u16 from field.
	p.next = maxConnID + 1
	p.free = nil
	_, ok = p.alloc()
	require.False(ok)

	p.release(17)
	d, ok := p.alloc()
	require.True(ok)
	require.Equal(17, d)
}

func TestRegistry(t *testing.T) {
	require := require.New(t)
	r := newRegistry()

	require.Nil(r.get(1))

	c1 := conn.New(1, -1, "peer1")
	c2 := conn.New(2, -1, "peer2")
	r.insert(c1)
	r.insert(c2)
	require.Equal(c1, r.get(1))

	var seen int
	r.forEach(func(*conn.Conn) { seen++ })
	require.Equal(2, seen)

	require.Equal(c1, r.remove(1))
	require.Nil(r.remove(1))
	require.Nil(r.get(1))
}
