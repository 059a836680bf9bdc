// server.go - dotmap server and reactor
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

// Package server implements the dotmap server: a poll-driven reactor
// feeding a pipeline of single-role workers (reader, parser, store,
// subscriptions, writer) joined by unbounded channels.
package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
	"gopkg.in/op/go-logging.v1"

	"github.com/dotmap/dotmap/core/log"
	"github.com/dotmap/dotmap/core/utils"
	"github.com/dotmap/dotmap/core/worker"
	"github.com/dotmap/dotmap/server/config"
	"github.com/dotmap/dotmap/server/internal/conn"
	"github.com/dotmap/dotmap/server/internal/instrument"
	"github.com/dotmap/dotmap/server/internal/poll"
	"github.com/dotmap/dotmap/wire"
)

// listenerKey is the poller key reserved for the TCP listener.
const listenerKey = 0

// Server is a dotmap server instance.
type Server struct {
	worker.Worker

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	poller    *poll.Poller
	listenFD  int
	boundAddr string

	readers *registry
	writers *registry
	ids     *idPool

	reader    *readerWorker
	parser    *parserWorker
	store     *storeWorker
	subs      *subsWorker
	writer    *writerWorker
	cleaner   *cleanerWorker
	heartbeat *heartbeatWorker
	snapshot  *snapshotWorker

	haltOnce sync.Once
	haltedCh chan interface{}
}

// New constructs and starts a Server from a validated configuration.
// Binding failures are returned to the caller.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: nil config")
	}

	s := &Server{
		cfg:      cfg,
		readers:  newRegistry(),
		writers:  newRegistry(),
		ids:      newIDPool(),
		haltedCh: make(chan interface{}),
	}

	var err error
	if s.logBackend, err = log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable); err != nil {
		return nil, err
	}
	s.log = s.logBackend.GetLogger("server")

	if err = utils.MkDataDir(cfg.Server.DataDir); err != nil {
		return nil, err
	}

	if s.poller, err = poll.New(); err != nil {
		return nil, err
	}
	if s.listenFD, s.boundAddr, err = listen(cfg.Server.Address); err != nil {
		s.poller.Close()
		return nil, err
	}

	s.writer = newWriterWorker(s)
	s.subs = newSubsWorker(s)
	s.store = newStoreWorker(s)
	s.parser = newParserWorker(s)
	s.reader = newReaderWorker(s)
	s.cleaner = newCleanerWorker(s)
	s.heartbeat = newHeartbeatWorker(s)
	s.snapshot = newSnapshotWorker(s)

	if err = s.snapshot.load(); err != nil {
		s.log.Errorf("Failed to load snapshot: %v", err)
	}

	if err = s.poller.Add(s.listenFD, poll.Event{Key: listenerKey, Readable: true}); err != nil {
		unix.Close(s.listenFD)
		s.poller.Close()
		return nil, err
	}

	s.writer.Go(s.writer.worker)
	s.subs.Go(s.subs.worker)
	s.store.Go(s.store.worker)
	s.parser.Go(s.parser.worker)
	s.reader.Go(s.reader.worker)
	s.cleaner.Go(s.cleaner.worker)
	s.heartbeat.Go(s.heartbeat.worker)
	s.snapshot.Go(s.snapshot.worker)
	s.Go(s.reactor)

	s.log.Noticef("Listening on %v", s.boundAddr)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.boundAddr
}

// Shutdown halts the server and all of its workers.  It is idempotent.
func (s *Server) Shutdown() {
	s.haltOnce.Do(s.halt)
}

// Wait blocks until the server has shut down.
func (s *Server) Wait() {
	<-s.haltedCh
}

func (s *Server) halt() {
	s.log.Notice("Shutting down")

	s.Halt() // reactor
	s.heartbeat.Halt()
	s.reader.Halt()
	s.parser.Halt()
	s.store.Halt()
	s.subs.Halt()
	s.writer.Halt()
	s.cleaner.Halt()
	s.snapshot.Halt() // saves a dirty store on the way out

	unix.Close(s.listenFD)
	s.readers.forEach(func(c *conn.Conn) { c.Close() })
	s.writers.forEach(func(c *conn.Conn) { c.Close() })
	s.poller.Close()

	s.log.Notice("Shutdown complete")
	close(s.haltedCh)
}

// reactor waits on the poller and dispatches readiness to the workers.
// It never touches a connection's sockets itself.
func (s *Server) reactor() {
	events := make([]poll.Event, 128)
	for {
		select {
		case <-s.HaltCh():
			return
		default:
		}

		n, err := s.poller.Wait(events, 1000)
		if err != nil {
			select {
			case <-s.HaltCh():
				return
			default:
			}
			s.log.Errorf("Poller wait failed: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			switch {
			case ev.Key == listenerKey:
				s.accept()
			case ev.Readable:
				s.reader.read(ev.Key)
			case ev.Writable:
				s.writer.flush(ev.Key)
			}
		}
	}
}

// accept drains the listener, registering both socket halves of every
// new connection, and re-arms the listener interest.
func (s *Server) accept() {
	for {
		fd, sa, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			s.log.Errorf("Accept failed: %v", err)
			break
		}

		id, ok := s.ids.alloc()
		if !ok {
			s.log.Warningf("Connection id space exhausted, refusing %v", sockaddrString(sa))
			unix.Close(fd)
			continue
		}
		wfd, err := unix.Dup(fd)
		if err != nil {
			s.log.Errorf("Failed to dup accepted socket: %v", err)
			unix.Close(fd)
			s.ids.release(id)
			continue
		}

		addr := sockaddrString(sa)
		s.readers.insert(conn.New(id, fd, addr))
		s.writers.insert(conn.New(id, wfd, addr))

		if err = s.poller.Add(fd, poll.Event{Key: id, Readable: true}); err == nil {
			err = s.poller.Add(wfd, poll.Event{Key: id})
		}
		if err != nil {
			s.log.Errorf("Failed to register connection #%d: %v", id, err)
			s.cleaner.drop(id)
			continue
		}

		instrument.ConnectionAccepted()
		s.log.Debugf("Connection #%d from %v", id, addr)

		// The welcome frame tells the client its assigned id.
		s.writer.queue(wire.Order{From: uint16(id), To: id, MsgID: 0})
	}

	if err := s.poller.Modify(s.listenFD, poll.Event{Key: listenerKey, Readable: true}); err != nil {
		s.log.Errorf("Failed to re-arm listener: %v", err)
	}
}

// listen binds a non-blocking TCP listener and returns its descriptor
// together with the actually bound address.
func listen(address string) (int, string, error) {
	ta, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return -1, "", err
	}

	family := unix.AF_INET
	if ta.IP != nil && ta.IP.To4() == nil {
		family = unix.AF_INET6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, "", err
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, "", err
	}

	var sa unix.Sockaddr
	if family == unix.AF_INET {
		sa4 := &unix.SockaddrInet4{Port: ta.Port}
		if ip := ta.IP.To4(); ip != nil {
			copy(sa4.Addr[:], ip)
		}
		sa = sa4
	} else {
		sa6 := &unix.SockaddrInet6{Port: ta.Port}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}

	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, "", fmt.Errorf("server: failed to bind %v: %v", address, err)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, "", err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return -1, "", err
	}
	return fd, sockaddrString(bound), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	default:
		return "unknown"
	}
}
