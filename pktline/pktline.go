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

// Package pktline reads and writes the git pkt-line wire format: each
// packet is a 4-hex-digit length prefix (covering itself) followed by
// the payload, with the special packets 0000 (flush), 0001 (delimiter,
// protocol v2) and 0002 (response end, protocol v2).
package pktline

import (
	"bytes"
	"encoding/hex"
	"io"

	"go.chromium.org/luci/common/errors"
)

// MaxPayload is the largest payload a single packet can carry.
const MaxPayload = 65520 - 4

// ErrTooLong is returned by Writer when a payload exceeds MaxPayload.
var ErrTooLong = errors.New("pkt-line payload too long")

// ErrBadLength is returned by Reader when a length prefix is not four
// hex digits or describes an impossible packet.
var ErrBadLength = errors.New("malformed pkt-line length")

// Kind discriminates data packets from the zero-length control packets.
type Kind int

const (
	// Data is an ordinary payload-carrying packet.
	Data Kind = iota
	// Flush is the 0000 packet ending a logical block.
	Flush
	// Delim is the 0001 packet separating v2 command sections.
	Delim
	// ResponseEnd is the 0002 packet ending a v2 stateless response.
	ResponseEnd
)

// String returns a short human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Flush:
		return "flush"
	case Delim:
		return "delim"
	case ResponseEnd:
		return "response-end"
	default:
		return "data"
	}
}

// Packet is one decoded pkt-line.
//
// Payload is nil for the control kinds. For Data it is the raw payload
// including any trailing newline the sender framed; use Text for
// line-oriented consumption.
type Packet struct {
	Kind    Kind
	Payload []byte
}

// Text returns the payload with at most one trailing newline removed.
//
// Line-oriented parts of the protocol (ref advertisements, negotiation
// responses) terminate lines with "\n"; binary parts (sideband frames,
// pack data) must consume Payload verbatim instead.
func (p Packet) Text() []byte {
	if n := len(p.Payload); n > 0 && p.Payload[n-1] == '\n' {
		return p.Payload[:n-1]
	}
	return p.Payload
}

// FlushPkt is the canonical flush packet.
var FlushPkt = Packet{Kind: Flush}

// DelimPkt is the canonical delimiter packet.
var DelimPkt = Packet{Kind: Delim}

// Line builds a data packet carrying s plus a trailing newline.
func Line(s string) Packet {
	return Packet{Kind: Data, Payload: append([]byte(s), '\n')}
}

// Raw builds a data packet carrying b verbatim.
func Raw(b []byte) Packet {
	return Packet{Kind: Data, Payload: b}
}

// Reader decodes packets from an underlying byte stream.
type Reader struct {
	r   io.Reader
	len [4]byte
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadPacket decodes the next packet.
//
// It returns io.EOF only on a clean end of stream (no bytes read);
// a stream truncated mid-packet yields io.ErrUnexpectedEOF.
func (r *Reader) ReadPacket() (Packet, error) {
	if _, err := io.ReadFull(r.r, r.len[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Packet{}, errors.Fmt("pkt-line: truncated length prefix: %w", err)
		}
		return Packet{}, err
	}
	var dst [2]byte
	if _, err := hex.Decode(dst[:], r.len[:]); err != nil {
		return Packet{}, errors.Fmt("%w: %q", ErrBadLength, r.len[:])
	}
	n := int(dst[0])<<8 | int(dst[1])
	switch n {
	case 0:
		return Packet{Kind: Flush}, nil
	case 1:
		return Packet{Kind: Delim}, nil
	case 2:
		return Packet{Kind: ResponseEnd}, nil
	case 3:
		return Packet{}, errors.Fmt("%w: reserved length 0003", ErrBadLength)
	}
	payload := make([]byte, n-4)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, errors.Fmt("pkt-line: truncated payload: %w", err)
	}
	return Packet{Kind: Data, Payload: payload}, nil
}

// Writer encodes packets onto an underlying byte stream.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

var hexDigits = []byte("0123456789abcdef")

// WritePacket encodes one packet.
func (w *Writer) WritePacket(p Packet) error {
	switch p.Kind {
	case Flush:
		_, err := w.w.Write([]byte("0000"))
		return err
	case Delim:
		_, err := w.w.Write([]byte("0001"))
		return err
	case ResponseEnd:
		_, err := w.w.Write([]byte("0002"))
		return err
	}
	if len(p.Payload) > MaxPayload {
		return errors.Fmt("%w: %d bytes", ErrTooLong, len(p.Payload))
	}
	n := len(p.Payload) + 4
	var buf bytes.Buffer
	buf.Grow(n)
	buf.Write([]byte{
		hexDigits[n>>12&0xf],
		hexDigits[n>>8&0xf],
		hexDigits[n>>4&0xf],
		hexDigits[n&0xf],
	})
	buf.Write(p.Payload)
	_, err := w.w.Write(buf.Bytes())
	return err
}

// WriteString frames s plus a trailing newline as one data packet.
func (w *Writer) WriteString(s string) error {
	return w.WritePacket(Line(s))
}

// Flush writes a flush packet.
func (w *Writer) Flush() error {
	return w.WritePacket(FlushPkt)
}
