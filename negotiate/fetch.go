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
	"context"
	"io"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/gitwire/oid"
	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/wire"
)

// Fetch runs the want/have negotiation to completion.
//
// On success the engine is in Complete and, when the outcome is
// ReadyForPack, pack data is the next thing on the connection. Any
// error leaves the engine Aborted and the connection unusable.
func (e *Engine) Fetch(ctx context.Context, req *Request) (*Outcome, error) {
	if e.state != Start {
		return nil, errors.Fmt("negotiation already ran (state %s)", e.state)
	}
	if len(req.Wants) == 0 {
		return nil, e.abort(ErrNoWants)
	}

	args := &wire.FetchArgs{
		Wants:       req.Wants,
		Shallow:     req.Shallow,
		Depth:       req.Depth,
		DeepenSince: req.DeepenSince,
		DeepenNot:   req.DeepenNot,
		Filter:      req.Filter,
		Extra:       req.Extra,
	}
	out := &Outcome{}

	pkts, err := e.d.OpenFetch(args)
	if err != nil {
		return nil, e.abort(err)
	}
	if err := e.write(ctx, pkts); err != nil {
		return nil, e.abort(err)
	}
	e.state = WantsSent
	logging.Debugf(ctx, "negotiate: sent %d wants (%s)", len(req.Wants), e.d.Version)

	// A v0/v1 server answers a deepen request with a shallow/unshallow
	// block before any ACKs; those must reach the caller before ACK
	// interpretation. v2 carries them in the shallow-info section
	// instead.
	if e.d.Version != wire.V2 && req.deepens() {
		if err := e.readShallowBlock(ctx, out); err != nil {
			return nil, e.abort(err)
		}
	}

	batch := req.HaveBatch
	if batch <= 0 {
		batch = DefaultHaveBatch
	}

	sent := 0
	sufficient := false
	for sent < len(req.Haves) && !sufficient {
		if req.MaxRounds > 0 && out.Rounds >= req.MaxRounds {
			break
		}
		e.state = HaveRound
		out.Rounds++

		next := min(sent+batch, len(req.Haves))
		roundHaves := req.Haves[sent:next]
		if e.d.Version == wire.V2 {
			// v2 rounds are stateless: each one repeats everything sent so far.
			roundHaves = req.Haves[:next]
		}
		sent = next

		pkts, err := e.d.FetchRound(args, roundHaves, false)
		if err != nil {
			return nil, e.abort(err)
		}
		if err := e.write(ctx, pkts); err != nil {
			return nil, e.abort(err)
		}
		logging.Debugf(ctx, "negotiate: round %d, %d/%d haves sent", out.Rounds, sent, len(req.Haves))

		packNow, err := e.readRound(ctx, out, &sufficient)
		if err != nil {
			return nil, e.abort(err)
		}
		if packNow {
			// Plain ACK: the server proceeds straight to the pack phase, no
			// client "done" required.
			e.state = Complete
			out.Disposition = ReadyForPack
			return out, nil
		}
	}

	// Send "done": sufficiency signaled, have-set exhausted, or round
	// cap reached, whichever came first.
	donePkts, err := e.d.FetchRound(args, e.doneHaves(req, sent), true)
	if err != nil {
		return nil, e.abort(err)
	}
	if err := e.write(ctx, donePkts); err != nil {
		return nil, e.abort(err)
	}
	e.state = DoneSent
	logging.Debugf(ctx, "negotiate: done sent after %d rounds", out.Rounds)

	if err := e.readFinal(ctx, req, out, sent); err != nil {
		return nil, e.abort(err)
	}
	e.state = Complete
	return out, nil
}

// deepens reports whether the request asks the server to change the
// shallow boundary (which triggers a shallow response block).
func (r *Request) deepens() bool {
	return r.Depth > 0 || !r.DeepenSince.IsZero() || len(r.DeepenNot) > 0
}

// doneHaves returns the haves accompanying the final "done" block:
// nothing for v0/v1 (the connection already carries them), everything
// sent so far for stateless v2.
func (e *Engine) doneHaves(req *Request, sent int) []oid.ID {
	if e.d.Version == wire.V2 {
		return req.Haves[:sent]
	}
	return nil
}

func (e *Engine) write(ctx context.Context, pkts []pktline.Packet) error {
	for _, p := range pkts {
		if err := e.conn.WritePacket(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// readShallowBlock consumes the v0/v1 shallow/unshallow lines sent
// between WantsSent and the first have round.
func (e *Engine) readShallowBlock(ctx context.Context, out *Outcome) error {
	rr := e.d.RoundReader(e.conn)
	for {
		line, err := rr.Line(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		pl, err := parseLine(e.d.Format, line)
		if err != nil {
			return err
		}
		switch pl.kind {
		case lineShallow:
			out.Shallow = append(out.Shallow, pl.id)
		case lineUnshallow:
			out.Unshallow = append(out.Unshallow, pl.id)
		default:
			return errors.Fmt("%w: %q inside shallow block", ErrProtocolViolation, line)
		}
	}
}

// readRound consumes one round's server response.
//
// packNow reports that the server moved straight to the pack phase
// (plain ACK, or a v2 packfile section), ending negotiation with no
// "done" from the client.
func (e *Engine) readRound(ctx context.Context, out *Outcome, sufficient *bool) (packNow bool, err error) {
	rr := e.d.RoundReader(e.conn)

	if e.d.Version != wire.V2 && e.algo == AlgoNone {
		// Plain ACK protocol: exactly one line per round.
		line, err := rr.Line(ctx)
		if err != nil {
			return false, e.lineErr(err)
		}
		pl, err := parseLine(e.d.Format, line)
		if err != nil {
			return false, err
		}
		switch pl.kind {
		case lineNak:
			return false, nil
		case lineAck:
			if pl.status != AckPlain {
				return false, errors.Fmt("%w: qualified ACK %q under plain-ack", ErrProtocolViolation, line)
			}
			out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckPlain})
			return true, nil
		default:
			return false, errors.Fmt("%w: %q in ack round", ErrProtocolViolation, line)
		}
	}

	for {
		line, err := rr.Line(ctx)
		if err == io.EOF {
			// v2: end of this response. Another round unless the server
			// already opened the packfile section.
			return rr.PackFollows(), nil
		}
		if err != nil {
			return false, e.lineErr(err)
		}
		pl, err := parseLine(e.d.Format, line)
		if err != nil {
			return false, err
		}
		switch pl.kind {
		case lineNak:
			if e.d.Version != wire.V2 {
				// NAK terminates a multi_ack round.
				return false, nil
			}
		case lineReady:
			*sufficient = true
		case lineAck:
			switch pl.status {
			case AckContinue:
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckContinue})
			case AckCommon:
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckCommon})
			case AckReady:
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckReady})
				*sufficient = true
			case AckPlain:
				if e.d.Version == wire.V2 {
					// v2 acknowledgments are bare "ACK <id>" meaning common.
					out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckCommon})
					continue
				}
				// A plain ACK mid-rounds: the server is satisfied and the
				// pack phase begins immediately.
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckPlain})
				return true, nil
			}
		case lineShallow:
			out.Shallow = append(out.Shallow, pl.id)
		case lineUnshallow:
			out.Unshallow = append(out.Unshallow, pl.id)
		}
	}
}

// readFinal consumes the response to "done" and fixes the disposition.
func (e *Engine) readFinal(ctx context.Context, req *Request, out *Outcome, sent int) error {
	rr := e.d.RoundReader(e.conn)
	sawAck := false
	sawNak := false
	for {
		line, err := rr.Line(ctx)
		if err == io.EOF {
			if e.d.Version != wire.V2 {
				return errors.Fmt("%w: flush before final ACK/NAK", ErrProtocolViolation)
			}
			break
		}
		if err != nil {
			return e.lineErr(err)
		}
		pl, perr := parseLine(e.d.Format, line)
		if perr != nil {
			return perr
		}
		switch pl.kind {
		case lineNak:
			sawNak = true
			if e.d.Version != wire.V2 {
				goto decide
			}
		case lineReady:
			sawAck = true
		case lineAck:
			switch pl.status {
			case AckPlain:
				sawAck = true
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckPlain})
				if e.d.Version != wire.V2 {
					goto decide
				}
			case AckContinue, AckCommon:
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: pl.status})
			case AckReady:
				sawAck = true
				out.Acks = append(out.Acks, Ack{ID: pl.id, Status: AckReady})
			}
		case lineShallow:
			out.Shallow = append(out.Shallow, pl.id)
		case lineUnshallow:
			out.Unshallow = append(out.Unshallow, pl.id)
		}
	}

decide:
	e.state = AckReceived
	switch {
	case e.d.Version == wire.V2:
		if rr.PackFollows() {
			out.Disposition = ReadyForPack
		} else {
			out.Disposition = NothingToSend
		}
	case sawAck:
		out.Disposition = ReadyForPack
	case sawNak && len(req.Haves) > 0 && sent == len(req.Haves) && !hasCommon(out.Acks):
		// Exhausted haves, no common ancestor, final NAK: the remote has
		// nothing the client is missing.
		out.Disposition = NothingToSend
	default:
		out.Disposition = ReadyForPack
	}
	return nil
}

func hasCommon(acks []Ack) bool {
	return len(acks) > 0
}

// lineErr maps a clean transport EOF mid-negotiation to a protocol
// violation: the server may never hang up between rounds.
func (e *Engine) lineErr(err error) error {
	if err == io.EOF {
		return errors.Fmt("%w: connection closed mid-negotiation", ErrProtocolViolation)
	}
	return err
}
