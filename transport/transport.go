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

// Package transport defines the minimal I/O capability the protocol
// engine is written against, plus two interchangeable implementations:
// a blocking one that suspends the calling goroutine directly on the
// underlying stream, and a cooperative one whose every operation is a
// cancellation point.
//
// Protocol logic exists exactly once, written against Conn; the two
// implementations differ only in how they suspend. A Conn is owned by
// one session and is not safe for concurrent use; once any operation
// fails the connection must be closed and discarded, never reused,
// because git negotiation state is not resumable mid-stream.
package transport

import (
	"context"
	"io"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry/transient"

	"go.chromium.org/gitwire/pktline"
)

// ErrTransport wraps any failure of the underlying byte transport.
//
// It carries transient.Tag: the failure says nothing about the request
// being invalid, so a caller may reconnect and restart from scratch.
// Nothing in this repository retries internally.
var ErrTransport = transient.Tag.Apply(errors.New("transport failure"))

// Conn is the capability interface the protocol engine consumes.
//
// Every method observes ctx as a suspension/cancellation point; a
// cancelled or failed operation leaves the connection unusable.
type Conn interface {
	// ReadPacket returns the next decoded packet. io.EOF signals a clean
	// end of the remote stream.
	ReadPacket(ctx context.Context) (pktline.Packet, error)

	// ReadBlock collects the Text of consecutive data packets up to and
	// including the next flush. A stream ending before the flush is a
	// transport error, not a clean EOF.
	ReadBlock(ctx context.Context) ([][]byte, error)

	// WritePacket frames and sends one packet.
	WritePacket(ctx context.Context, p pktline.Packet) error

	// WriteRaw streams unframed bytes onto the connection (pack upload
	// during push bypasses pkt-line framing).
	WriteRaw(ctx context.Context, r io.Reader) (int64, error)

	// Close releases the underlying stream. Safe to call more than once.
	Close() error
}

// WriteLine frames s (plus trailing newline) as one data packet.
func WriteLine(ctx context.Context, c Conn, s string) error {
	return c.WritePacket(ctx, pktline.Line(s))
}

// WriteFlush sends a flush packet.
func WriteFlush(ctx context.Context, c Conn) error {
	return c.WritePacket(ctx, pktline.FlushPkt)
}

// WriteDelim sends a v2 delimiter packet.
func WriteDelim(ctx context.Context, c Conn) error {
	return c.WritePacket(ctx, pktline.DelimPkt)
}

// readBlock implements ReadBlock in terms of readPacket; shared by both
// Conn implementations so their observable behavior cannot drift.
func readBlock(ctx context.Context, c Conn) ([][]byte, error) {
	var lines [][]byte
	for {
		p, err := c.ReadPacket(ctx)
		switch {
		case err == io.EOF:
			return nil, errors.Fmt("%w: stream ended before flush: %w", ErrTransport, io.ErrUnexpectedEOF)
		case err != nil:
			return nil, err
		}
		switch p.Kind {
		case pktline.Flush:
			return lines, nil
		case pktline.Data:
			lines = append(lines, p.Text())
		default:
			// Delimiters inside a plain block only occur in v2 responses,
			// where the caller reads packet by packet instead.
			return nil, errors.Fmt("unexpected %s packet inside block", p.Kind)
		}
	}
}
