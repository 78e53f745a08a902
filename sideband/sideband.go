// Copyright 2026 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sideband demultiplexes the tagged byte stream git uses
// during the pack-data phase: each frame's first byte selects a
// channel (pack data, progress text, fatal error).
package sideband

import (
	"context"
	"io"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/transport"
)

// Channel is the tag byte leading every sideband frame.
type Channel byte

const (
	// Pack carries pack-file bytes.
	Pack Channel = 1
	// Progress carries human-readable progress text, forwarded verbatim.
	Progress Channel = 2
	// Error carries a fatal error message; the stream ends after it.
	Error Channel = 3
)

// Frame payload limits for the two capability variants. The limits
// include the tag byte but not the pkt-line length prefix.
const (
	// MaxFrame is the frame limit under "side-band".
	MaxFrame = 1000 - 1
	// MaxFrame64k is the frame limit under "side-band-64k".
	MaxFrame64k = pktline.MaxPayload - 1
)

// ErrOutOfOrderChannel is returned when frames arrive after the
// channel's terminal error frame.
var ErrOutOfOrderChannel = errors.New("sideband frame after fatal error")

// RemoteError is the terminal error carried on channel 3.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// Demux splits one connection's remaining packets into channels.
//
// It is a finite, forward-only, single-consumer sequence: producing
// the next chunk performs the transport's next read, so back-pressure
// is implicit.
type Demux struct {
	conn transport.Conn

	// active is false when the negotiated capabilities included no
	// sideband extension; the whole stream is then implicitly Pack.
	active bool

	done bool
	err  error

	// remoteErrSeen is set once a channel-3 frame has been surfaced.
	// Any data frame arriving afterward is a protocol violation.
	remoteErrSeen bool
}

// NewDemux returns a Demux over conn. active selects whether frames
// carry a leading tag byte.
func NewDemux(conn transport.Conn, active bool) *Demux {
	return &Demux{conn: conn, active: active}
}

// Next returns the next chunk and its channel.
//
// A flush ends the sequence cleanly with io.EOF. A channel-3 frame is
// surfaced once as *RemoteError; anything after it is
// ErrOutOfOrderChannel.
func (d *Demux) Next(ctx context.Context) (Channel, []byte, error) {
	if d.done {
		if d.err != nil {
			return 0, nil, d.err
		}
		return 0, nil, io.EOF
	}
	if d.remoteErrSeen {
		// The channel already terminated with a remote error; the only
		// acceptable remainder is silence.
		p, err := d.conn.ReadPacket(ctx)
		switch {
		case err == io.EOF || (err == nil && p.Kind == pktline.Flush):
			d.done = true
			return 0, nil, io.EOF
		case err != nil:
			d.done, d.err = true, err
			return 0, nil, err
		default:
			d.done = true
			d.err = errors.Fmt("%w: %s packet", ErrOutOfOrderChannel, p.Kind)
			return 0, nil, d.err
		}
	}
	p, err := d.conn.ReadPacket(ctx)
	switch {
	case err == io.EOF:
		// The remote hung up without a closing flush. Treat as clean end:
		// some servers close the socket right after the pack trailer.
		d.done = true
		return 0, nil, io.EOF
	case err != nil:
		d.done, d.err = true, err
		return 0, nil, err
	}
	switch p.Kind {
	case pktline.Flush:
		d.done = true
		return 0, nil, io.EOF
	case pktline.Data:
	default:
		d.done = true
		d.err = errors.Fmt("unexpected %s packet in sideband stream", p.Kind)
		return 0, nil, d.err
	}
	if !d.active {
		return Pack, p.Payload, nil
	}
	if len(p.Payload) == 0 {
		d.done = true
		d.err = errors.New("empty sideband frame with no channel byte")
		return 0, nil, d.err
	}
	ch, body := Channel(p.Payload[0]), p.Payload[1:]
	switch ch {
	case Pack, Progress:
		return ch, body, nil
	case Error:
		d.remoteErrSeen = true
		return 0, nil, &RemoteError{Message: string(trimEOL(body))}
	default:
		d.done = true
		d.err = errors.Fmt("unknown sideband channel %d", ch)
		return 0, nil, d.err
	}
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// Reader adapts a Demux into the pack-data io.Reader handed to the
// caller, forwarding progress bytes verbatim as they interleave.
type Reader struct {
	ctx      context.Context
	d        *Demux
	progress io.Writer

	buf []byte
	err error
}

// NewReader returns the pack-data stream of conn.
//
// Progress-channel bytes are copied to progress (may be nil to drop
// them). The reader is single-use and forward-only.
func NewReader(ctx context.Context, conn transport.Conn, active bool, progress io.Writer) *Reader {
	return &Reader{ctx: ctx, d: NewDemux(conn, active), progress: progress}
}

func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		ch, body, err := r.d.Next(r.ctx)
		if err != nil {
			r.err = err
			return 0, err
		}
		switch ch {
		case Pack:
			r.buf = body
		case Progress:
			if r.progress != nil {
				if _, err := r.progress.Write(body); err != nil {
					r.err = err
					return 0, err
				}
			}
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
