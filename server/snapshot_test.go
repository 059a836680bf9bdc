// SPDX-FileCopyrightText: © 2026 The dotmap authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package server

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()

	s1 := newTestWorkers(t, dir)
	s1.store.set("user.name", []byte("ada"))
	s1.store.set("counter", be64(3))
	require.NoError(s1.snapshot.save())

	s2 := newTestWorkers(t, dir)
	require.NoError(s2.snapshot.load())
	require.Equal([]byte("ada"), s2.store.get("user.name"))
	require.Equal(be64(3), s2.store.get("counter"))
}

func TestSnapshotLoadMissing(t *testing.T) {
	s := newTestWorkers(t, t.TempDir())
	require.NoError(t, s.snapshot.load())
}

func TestSnapshotLoadEmpty(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())

	require.NoError(os.WriteFile(s.snapshot.path, nil, 0600))
	require.NoError(s.snapshot.load())
}

// A corrupt blob is logged and ignored; it must never take the server
// down.
func TestSnapshotLoadCorrupt(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())

	require.NoError(os.WriteFile(s.snapshot.path, []byte("definitely not cbor"), 0600))
	require.NoError(s.snapshot.load())
	require.Nil(s.store.get("anything"))
}

func TestSnapshotMaybeSaveOnlyWhenDirty(t *testing.T) {
	require := require.New(t)
	s := newTestWorkers(t, t.TempDir())

	s.snapshot.maybeSave()
	_, err := os.Stat(s.snapshot.path)
	require.True(os.IsNotExist(err))

	s.store.set("k", []byte("v"))
	s.snapshot.maybeSave()
	_, err = os.Stat(s.snapshot.path)
	require.NoError(err)
	require.False(s.store.dirty.Load())
}
