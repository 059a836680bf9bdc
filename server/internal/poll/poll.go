// poll.go - epoll readiness poller
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

// Package poll wraps epoll with one-shot, key-addressed readiness
// interests.  A registration carries an integer key instead of the file
// descriptor, so a connection's read and write halves can share one key.
// Every interest is one-shot: after an event fires the registration goes
// dormant until re-armed with Modify.
package poll

import (
	"golang.org/x/sys/unix"
)

// Event is a readiness interest, or a delivered readiness notification.
type Event struct {
	// Key is the registration key the event belongs to.
	Key int

	// Readable requests, or reports, read readiness.
	Readable bool

	// Writable requests, or reports, write readiness.
	Writable bool
}

// Poller owns an epoll instance.  Wait may be called while other
// goroutines add, modify or delete registrations.
type Poller struct {
	fd int
}

// New creates a Poller.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd}, nil
}

// Add registers fd under ev.Key with the given one-shot interest.
func (p *Poller) Add(fd int, ev Event) error {
	e := epollEvent(ev)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &e)
}

// Modify re-arms fd with a new one-shot interest.
func (p *Poller) Modify(fd int, ev Event) error {
	e := epollEvent(ev)
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &e)
}

// Delete removes fd from the poller.
func (p *Poller) Delete(fd int) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks for up to msec milliseconds and fills evs with delivered
// events, returning how many.  A negative msec blocks indefinitely.
func (p *Poller) Wait(evs []Event, msec int) (int, error) {
	raw := make([]unix.EpollEvent, len(evs))
	for {
		n, err := unix.EpollWait(p.fd, raw, msec)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			evs[i] = Event{
				Key:      int(raw[i].Fd),
				Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
				Writable: raw[i].Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			}
		}
		return n, nil
	}
}

// Close releases the epoll instance.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}

func epollEvent(ev Event) unix.EpollEvent {
	var bits uint32 = unix.EPOLLONESHOT
	if ev.Readable {
		bits |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if ev.Writable {
		bits |= unix.EPOLLOUT
	}
	return unix.EpollEvent{Events: bits, Fd: int32(ev.Key)}
}
