// parser.go - command parser worker
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

// logLineMax bounds how much of a command line makes it into the log.
const logLineMax = 1024

type parseCmd struct {
	msg  *wire.Frame
	addr string
}

// parserWorker decodes frame payloads into typed commands.  Every
// command, including ones answered with a bare token, is forwarded to
// the store worker so that replies reach the writer in
// command-reception order.
type parserWorker struct {
	worker.Worker

	s   *Server
	log *logging.Logger

	in *channels.InfiniteChannel
}

func newParserWorker(s *Server) *parserWorker {
	return &parserWorker{
		s:   s,
		log: s.logBackend.GetLogger("parser"),
		in:  channels.NewInfiniteChannel(),
	}
}

func (p *parserWorker) parse(msg *wire.Frame, addr string) {
	p.in.In() <- parseCmd{msg: msg, addr: addr}
}

func (p *parserWorker) worker() {
	for {
		select {
		case <-p.HaltCh():
			return
		case v, ok := <-p.in.Out():
			if !ok {
				return
			}
			cmd := v.(parseCmd)
			p.handleParse(cmd.msg, cmd.addr)
		}
	}
}

func (p *parserWorker) handleParse(msg *wire.Frame, addr string) {
	id := int(msg.From)
	mid := msg.ID

	lines := wire.Lines(msg.Data)
	if len(lines) == 0 {
		// An empty payload is a valid frame and a Nop.
		p.s.store.submit(cmdReply{to: id, mid: mid, data: []byte(wire.ReplyNop)})
		return
	}

	for _, line := range lines {
		if p.log.IsEnabledFor(logging.DEBUG) {
			text := line
			if len(text) > logLineMax {
				text = append(text[:logLineMax:logLineMax], "[..1024]"...)
			}
			p.log.Debugf("%v (%d bytes): %s", addr, len(line), text)
		}

		cmd := wire.ParseCommand(line)
		instrument.CommandProcessed(cmd.Op.String())

		if cmd.Key == "" && wire.NeedsKey(cmd.Op) {
			p.s.store.submit(cmdReply{to: id, mid: mid, data: []byte(wire.ReplyKey)})
			continue
		}

		switch cmd.Op {
		case wire.Nop:
			p.s.store.submit(cmdReply{to: id, mid: mid, data: []byte(wire.ReplyNop)})
		case wire.Set:
			p.s.store.submit(cmdSet{key: cmd.Key, val: cmd.Value, from: id, mid: mid})
		case wire.SetIfNone:
			p.s.store.submit(cmdSetIfNone{key: cmd.Key, val: cmd.Value, from: id, mid: mid})
		case wire.SetList:
			p.s.store.submit(cmdSetList{sepKey: cmd.Key, blob: cmd.Value, from: id, mid: mid})
		case wire.Inc:
			p.s.store.submit(cmdInc{key: cmd.Key, from: id, mid: mid})
		case wire.Append:
			p.s.store.submit(cmdAppend{key: cmd.Key, val: cmd.Value, from: id, mid: mid})
		case wire.Delete:
			p.s.store.submit(cmdDelete{key: cmd.Key, from: id, mid: mid})
		case wire.Get:
			p.s.store.submit(cmdGet{key: cmd.Key, from: id, mid: mid})
		case wire.KeyValue:
			p.s.store.submit(cmdKeyValue{key: cmd.Key, from: id, mid: mid})
		case wire.Jtrim:
			p.s.store.submit(cmdJtrim{key: cmd.Key, from: id, mid: mid})
		case wire.Json:
			p.s.store.submit(cmdJson{key: cmd.Key, from: id, mid: mid})
		case wire.SubGet, wire.SubKeyValue, wire.SubJson:
			p.s.store.submit(cmdSubscribe{key: cmd.Key, kind: cmd.Op, val: cmd.Value, from: id, mid: mid})
		case wire.Unsub:
			p.s.store.submit(cmdUnsub{key: cmd.Key, val: cmd.Value, from: id, mid: mid})
		case wire.SubCall:
			p.s.store.submit(cmdSubCall{key: cmd.Key, val: cmd.Value, from: id, mid: mid})
		}
	}
}
