// SPDX-FileCopyrightText: © 2026 The dotmap authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package server

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotmap/dotmap/client"
	"github.com/dotmap/dotmap/server/config"
	"github.com/dotmap/dotmap/wire"
)

func startServer(t *testing.T) *Server {
	cfg := &config.Config{
		Server:  &config.Server{Address: "127.0.0.1:0", DataDir: filepath.Join(t.TempDir(), "data")},
		Logging: &config.Logging{Disable: true},
	}
	require.NoError(t, cfg.FixupAndValidate())

	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func dial(t *testing.T, s *Server) *client.Client {
	c, err := client.Dial(s.Addr())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetGet(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	require.NoError(c.Set("user.name", []byte("ada")))
	v, err := c.Get("user.name")
	require.NoError(err)
	require.Equal("ada", string(v))

	// Absent keys yield an empty payload.
	v, err = c.Get("user.ghost")
	require.NoError(err)
	require.Len(v, 0)
}

func TestStackedCommands(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	// Several newline-separated commands in one frame are processed in
	// order; each produces its own reply.
	reply, err := c.Send([]byte("s a 1\ns b 2\ng a"))
	require.NoError(err)
	require.Equal("OK", string(reply))

	v, err := c.Get("b")
	require.NoError(err)
	require.Equal("2", string(v))
}

func TestIncSequence(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	for n := uint64(1); n <= 3; n++ {
		v, err := c.Inc("counter")
		require.NoError(err)
		require.Equal(be64(n), v)
	}

	v, err := c.Get("counter")
	require.NoError(err)
	require.Equal(be64(3), v)
}

func TestKeyValueProjection(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	require.NoError(c.Set("user.x", []byte("1")))
	require.NoError(c.Set("user.y", []byte("2")))

	v, err := c.KeyValue("user.")
	require.NoError(err)
	require.Equal("x 1\x00y 2", string(v))
}

func TestJsonProjections(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	require.NoError(c.Set("a.b", []byte("1")))
	require.NoError(c.Set("a.c", []byte("2")))

	v, err := c.Json("a")
	require.NoError(err)
	require.Equal(`{"a":{"b":"1","c":"2"}}`, string(v))

	v, err = c.Jtrim("a")
	require.NoError(err)
	require.Equal(`{"b":"1","c":"2"}`, string(v))
}

func TestSetList(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	reply, err := c.Send([]byte("sl , k1 v1, nested.k2 v2"))
	require.NoError(err)
	require.Equal("OK", string(reply))

	v, err := c.Get("k1")
	require.NoError(err)
	require.Equal("v1", string(v))
	v, err = c.Get("nested.k2")
	require.NoError(err)
	require.Equal("v2", string(v))
}

func TestSubscribeNotify(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c1 := dial(t, s)
	c2 := dial(t, s)

	require.NoError(c2.Subscribe("score"))
	require.NoError(c1.Set("score", []byte("7")))

	select {
	case f := <-c2.Notifications():
		require.Equal(uint16(0), f.From)
		require.Equal(uint16(0), f.ID)
		require.Equal("7", string(f.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	// The publisher is not subscribed and hears nothing.
	select {
	case f := <-c1.Notifications():
		t.Fatalf("unexpected notification: %q", f.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubCallDoesNotTouchStore(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c1 := dial(t, s)
	c2 := dial(t, s)

	require.NoError(c2.Subscribe("ping"))
	require.NoError(c1.Call("ping", []byte("hello")))

	select {
	case f := <-c2.Notifications():
		require.Equal("hello", string(f.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	v, err := c1.Get("ping")
	require.NoError(err)
	require.Len(v, 0)
}

func TestUnsubscribe(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c1 := dial(t, s)
	c2 := dial(t, s)

	require.NoError(c2.Subscribe("k"))
	require.NoError(c2.Unsubscribe("k"))
	require.NoError(c1.Set("k", []byte("v")))

	select {
	case f := <-c2.Notifications():
		t.Fatalf("unexpected notification: %q", f.Data)
	case <-time.After(200 * time.Millisecond):
	}
}

// An abruptly closed subscriber must not wedge or crash publishers.
func TestSubscriberVanishes(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c1 := dial(t, s)
	c2 := dial(t, s)

	require.NoError(c2.Subscribe("score"))
	c2.Close()
	time.Sleep(100 * time.Millisecond)

	require.NoError(c1.Set("score", []byte("8")))
	v, err := c1.Get("score")
	require.NoError(err)
	require.Equal("8", string(v))
}

func TestMissingKeyReply(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	reply, err := c.Send([]byte("s"))
	require.NoError(err)
	require.Equal("KEY?", string(reply))
}

func TestUnknownOpIsNop(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	c := dial(t, s)

	reply, err := c.Send([]byte("frobnicate a b"))
	require.NoError(err)
	require.Equal("NOP", string(reply))
}

// rawDial connects without the client library, returning the socket and
// the welcome frame.
func rawDial(t *testing.T, s *Server) (net.Conn, *wire.Frame, *wire.Framer) {
	nc, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { nc.Close() })

	fr := new(wire.Framer)
	welcome := readRawFrame(t, nc, fr)
	require.NotZero(t, welcome.From)
	require.Zero(t, welcome.ID)
	require.Empty(t, welcome.Data)
	return nc, welcome, fr
}

func readRawFrame(t *testing.T, nc net.Conn, fr *wire.Framer) *wire.Frame {
	buf := make([]byte, 4096)
	require.NoError(t, nc.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		raw, err := fr.Next()
		require.NoError(t, err)
		if raw != nil {
			f, err := wire.ParseFrame(raw)
			require.NoError(t, err)
			return f
		}
		n, err := nc.Read(buf)
		if n > 0 {
			require.NoError(t, fr.Feed(buf[:n]))
		}
		require.NoError(t, err)
	}
}

// A frame of exactly 6 bytes is a valid empty payload and answers NOP.
func TestEmptyFrameIsNop(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	nc, welcome, fr := rawDial(t, s)

	raw, err := wire.StampHeader(nil, welcome.From, 9)
	require.NoError(err)
	_, err = nc.Write(raw)
	require.NoError(err)

	reply := readRawFrame(t, nc, fr)
	require.Equal(welcome.From, reply.From)
	require.Equal(uint16(9), reply.ID)
	require.Equal("NOP", string(reply.Data))
}

// A from field that does not match the assigned id closes the
// connection without a reply.
func TestFromMismatchCloses(t *testing.T) {
	require := require.New(t)
	s := startServer(t)
	nc, welcome, _ := rawDial(t, s)

	raw, err := wire.StampHeader([]byte("g x"), welcome.From+1, 1)
	require.NoError(err)
	_, err = nc.Write(raw)
	require.NoError(err)

	require.NoError(nc.SetReadDeadline(time.Now().Add(5 * time.Second)))
	buf := make([]byte, 64)
	n, err := nc.Read(buf)
	require.Zero(n)
	require.Equal(io.EOF, err)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	require := require.New(t)

	dir := filepath.Join(t.TempDir(), "data")
	cfg := &config.Config{
		Server:  &config.Server{Address: "127.0.0.1:0", DataDir: dir},
		Store:   &config.Store{SnapshotInterval: 3600},
		Logging: &config.Logging{Disable: true},
	}
	require.NoError(cfg.FixupAndValidate())

	s1, err := New(cfg)
	require.NoError(err)
	c := dial(t, s1)
	require.NoError(c.Set("persisted", []byte("yes")))
	c.Close()
	s1.Shutdown() // a dirty store is flushed on the way out
	s1.Wait()

	s2, err := New(cfg)
	require.NoError(err)
	t.Cleanup(s2.Shutdown)

	c2 := dial(t, s2)
	v, err := c2.Get("persisted")
	require.NoError(err)
	require.Equal("yes", string(v))
}
