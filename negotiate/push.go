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

package negotiate

import (
	"bytes"
	"context"
	"io"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/sideband"
	"go.chromium.org/gitwire/wire"
)

// PushRequest describes one update-refs push.
type PushRequest struct {
	Updates []wire.RefUpdate

	// Pack supplies the pack bytes covering the pushed objects. May be
	// nil when every update is a deletion.
	Pack io.Reader

	// ReportStatus selects parsing of the server's status report; set
	// it when the "report-status" capability was activated.
	ReportStatus bool

	// Sideband must be set when a sideband capability was activated for
	// the session: the status report then arrives wrapped in channel-1
	// frames. Progress receives channel-2 bytes verbatim.
	Sideband bool
	Progress io.Writer
}

// RefStatus is the per-ref result of a push.
type RefStatus struct {
	Name   string
	OK     bool
	Reason string // server-supplied, set when !OK
}

// PushResult is the parsed status report of a push.
type PushResult struct {
	// UnpackOK reports whether the server unpacked the pack; UnpackErr
	// carries its message otherwise.
	UnpackOK  bool
	UnpackErr string

	Refs []RefStatus
}

// Push sends ref-update commands, streams the pack, and parses the
// status report. The state machine shape mirrors fetch: advertise
// (already consumed by the session), commands out, pack out, report
// back.
func (e *Engine) Push(ctx context.Context, req *PushRequest) (*PushResult, error) {
	if e.state != Start {
		return nil, errors.Fmt("negotiation already ran (state %s)", e.state)
	}

	pkts, err := e.d.PushCommands(req.Updates)
	if err != nil {
		return nil, e.abort(err)
	}
	if err := e.write(ctx, pkts); err != nil {
		return nil, e.abort(err)
	}
	e.state = WantsSent

	if req.Pack != nil {
		n, err := e.conn.WriteRaw(ctx, req.Pack)
		if err != nil {
			return nil, e.abort(err)
		}
		logging.Debugf(ctx, "negotiate: push pack streamed, %d bytes", n)
	}
	e.state = DoneSent

	if !req.ReportStatus {
		e.state = Complete
		return &PushResult{UnpackOK: true}, nil
	}

	res, err := e.readReport(ctx, req)
	if err != nil {
		return nil, e.abort(err)
	}
	e.state = Complete
	return res, nil
}

// readReport parses the report-status block, unwrapping sideband
// framing when active.
func (e *Engine) readReport(ctx context.Context, req *PushRequest) (*PushResult, error) {
	var lines [][]byte
	var err error
	if req.Sideband {
		// The report pkt-lines are nested inside channel-1 frames.
		inner := pktline.NewReader(sideband.NewReader(ctx, e.conn, true, req.Progress))
		lines, err = readInnerBlock(inner)
	} else {
		lines, err = e.conn.ReadBlock(ctx)
	}
	if err != nil {
		return nil, err
	}

	res := &PushResult{}
	sawUnpack := false
	for _, line := range lines {
		word, rest, _ := bytes.Cut(line, []byte{' '})
		switch string(word) {
		case "unpack":
			if sawUnpack {
				return nil, errors.Fmt("%w: duplicate unpack status %q", ErrProtocolViolation, line)
			}
			sawUnpack = true
			if string(rest) == "ok" {
				res.UnpackOK = true
			} else {
				res.UnpackErr = string(rest)
			}
		case "ok":
			res.Refs = append(res.Refs, RefStatus{Name: string(rest), OK: true})
		case "ng":
			name, reason, _ := bytes.Cut(rest, []byte{' '})
			res.Refs = append(res.Refs, RefStatus{Name: string(name), Reason: string(reason)})
		default:
			return nil, errors.Fmt("%w: unexpected report-status line %q", ErrProtocolViolation, line)
		}
	}
	if !sawUnpack {
		return nil, errors.Fmt("%w: report-status without unpack line", ErrProtocolViolation)
	}
	e.state = AckReceived
	return res, nil
}

// readInnerBlock reads data-packet lines until flush from a nested
// pkt-line stream.
func readInnerBlock(r *pktline.Reader) ([][]byte, error) {
	var lines [][]byte
	for {
		p, err := r.ReadPacket()
		switch {
		case err == io.EOF:
			// The sideband stream ended with the report's own flush being
			// the last thing inside it.
			return lines, nil
		case err != nil:
			return nil, err
		}
		switch p.Kind {
		case pktline.Flush:
			return lines, nil
		case pktline.Data:
			lines = append(lines, p.Text())
		default:
			return nil, errors.Fmt("unexpected %s packet in report-status", p.Kind)
		}
	}
}
