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

package wire

import (
	"context"
	"io"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/transport"
)

// RoundReader yields the negotiation lines of a server response with
// all version-specific framing already unwrapped, so the negotiation
// engine parses one uniform line sequence.
//
// Line returns io.EOF at the end of the negotiation portion of the
// response: for v0/v1 that is a flush packet; for v2 it is either the
// response-terminating flush (another round is expected) or the
// "packfile" section header (pack data follows).
type RoundReader interface {
	Line(ctx context.Context) ([]byte, error)

	// PackFollows reports whether the response continued into pack data.
	// Only meaningful after Line returned io.EOF; always false for
	// v0/v1, where ACK semantics decide instead.
	PackFollows() bool
}

// RoundReader returns the response reader for the session's version.
func (d *Dialect) RoundReader(conn transport.Conn) RoundReader {
	if d.Version == V2 {
		return &v2Rounds{conn: conn}
	}
	return &v1Rounds{conn: conn}
}

type v1Rounds struct {
	conn transport.Conn
}

func (r *v1Rounds) Line(ctx context.Context) ([]byte, error) {
	p, err := r.conn.ReadPacket(ctx)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case pktline.Data:
		return p.Text(), nil
	case pktline.Flush:
		return nil, io.EOF
	default:
		return nil, errors.Fmt("unexpected %s packet in negotiation response", p.Kind)
	}
}

func (r *v1Rounds) PackFollows() bool { return false }

// v2 response section names.
const (
	sectionAcknowledgments = "acknowledgments"
	sectionShallowInfo     = "shallow-info"
	sectionWantedRefs      = "wanted-refs"
	sectionPackfile        = "packfile"
)

type v2Rounds struct {
	conn transport.Conn

	section     string
	packFollows bool
	done        bool
}

func (r *v2Rounds) Line(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}
	for {
		p, err := r.conn.ReadPacket(ctx)
		if err != nil {
			return nil, err
		}
		switch p.Kind {
		case pktline.Flush, pktline.ResponseEnd:
			r.done = true
			return nil, io.EOF
		case pktline.Delim:
			// Section boundary; the next data line is a header.
			r.section = ""
			continue
		case pktline.Data:
		default:
			return nil, errors.Fmt("unexpected %s packet in v2 response", p.Kind)
		}

		line := p.Text()
		if r.section == "" {
			switch string(line) {
			case sectionPackfile:
				r.done, r.packFollows = true, true
				return nil, io.EOF
			case sectionAcknowledgments, sectionShallowInfo, sectionWantedRefs:
				r.section = string(line)
				continue
			default:
				return nil, errors.Fmt("unknown v2 response section %q", line)
			}
		}
		if r.section == sectionWantedRefs {
			// Not requested by this client; tolerated and skipped.
			continue
		}
		return line, nil
	}
}

func (r *v2Rounds) PackFollows() bool { return r.packFollows }
