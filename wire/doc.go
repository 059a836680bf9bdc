// doc.go - wire protocol notes
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

// Package wire implements the dotmap wire protocol: the frame codec and
// the textual command grammar carried in frame payloads.
//
// Every frame starts with a 6 byte header, all integers big-endian:
//
//	[from:u16][msg_id:u16][size:u16][payload ...]
//
// size counts the whole frame, header included, and must be within
// [6, 65535].  On client to server frames, from must equal the
// connection id the server assigned; the server closes the connection on
// a mismatch.  Replies echo the client's msg_id.  Server originated
// subscription notifications carry from=0 and msg_id=0.
//
// Immediately after accepting a connection the server sends a welcome
// frame: zero payload, msg_id=0, and from set to the assigned connection
// id.  A client must read it to learn the id it has to stamp on
// everything it sends.  An idle connection is pinged with a zero payload
// frame (a bare header), which is itself a valid frame.
//
// The payload is UTF-8 text of the form "op SP key SP value"; the value
// is the verbatim remainder and may contain spaces.  Multiple commands
// may be stacked in one payload, separated by newlines.
//
//	s    key value   set
//	s?   key value   set if the key has no value yet
//	sl   key value   bulk set; key[0] is the record separator, each
//	                 record is "key SP value", every record notifies
//	                 subscribers
//	+1   key         increment an integer value, reply with 8 bytes BE
//	+    key value   append, reply with the new value
//	d    key         delete
//	g    key         get, empty reply when absent
//	k    key         key/value enumeration of the prefix range,
//	                 NUL-separated "lastSegment SP value" records
//	j    key         JSON subtree at the dotted path
//	js   key         full JSON object rooted at the prefix range
//	#g   key [value] subscribe (get flavor); value triggers a first call
//	#k   key [value] subscribe (key/value flavor)
//	#j   key [value] subscribe (JSON flavor)
//	#-   key [value] unsubscribe; value triggers a last call
//	!    key value   call subscribers without touching the store
//
// Anything else is a Nop.  Reserved reply tokens are "OK", "NOP" and
// "KEY?".
package wire
