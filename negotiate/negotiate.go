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

// Package negotiate implements the want/have/ack state machine of the
// git smart protocol.
//
// One Engine runs exactly one negotiation on one connection. It holds
// no global state and needs no locks: parallelism across remotes is
// independent engines on independent connections. Nothing here ever
// retries: once haves have been partially sent the server's state has
// advanced, so the only sound recovery from any failure is a fresh
// connection restarted from scratch.
package negotiate

import (
	"time"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/capability"
	"go.chromium.org/gitwire/oid"
	"go.chromium.org/gitwire/transport"
	"go.chromium.org/gitwire/wire"
)

// ErrProtocolViolation is returned on an unexpected line shape or
// ordering. The offending line is included; negotiation state cannot
// be resumed after it.
var ErrProtocolViolation = errors.New("protocol violation")

// ErrNoWants is returned when a fetch request names nothing to fetch.
var ErrNoWants = wire.ErrEmptyWants

// State is the engine's position in the negotiation state machine.
type State int

const (
	// Start is the initial state, before anything was written.
	Start State = iota
	// WantsSent means the want block (and shallow/deepen lines) went out.
	WantsSent
	// HaveRound means at least one batch of haves is in flight.
	HaveRound
	// DoneSent means the client committed to ending negotiation.
	DoneSent
	// AckReceived means the final ACK/NAK arrived.
	AckReceived
	// Complete is the terminal success state.
	Complete
	// Aborted is the terminal failure state.
	Aborted
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Start:
		return "start"
	case WantsSent:
		return "wants-sent"
	case HaveRound:
		return "have-round"
	case DoneSent:
		return "done-sent"
	case AckReceived:
		return "ack-received"
	case Complete:
		return "complete"
	default:
		return "aborted"
	}
}

// Algorithm is the ack protocol variant the server supports.
type Algorithm int

const (
	// AlgoNone is the plain ACK protocol: the first ACK ends negotiation
	// immediately, with no client "done" required.
	AlgoNone Algorithm = iota
	// AlgoMultiAck lets the server acknowledge several common commits
	// per round with "ACK <id> continue".
	AlgoMultiAck
	// AlgoMultiAckDetailed qualifies every ACK with "common" or "ready",
	// letting the client stop early once the server can build a pack.
	AlgoMultiAckDetailed
)

// DetectAlgorithm picks the richest algorithm the capability set
// advertises.
func DetectAlgorithm(caps *capability.Set) Algorithm {
	switch {
	case caps.Supports("multi_ack_detailed"):
		return AlgoMultiAckDetailed
	case caps.Supports("multi_ack"):
		return AlgoMultiAck
	default:
		return AlgoNone
	}
}

// AckStatus qualifies one acknowledgment record.
type AckStatus int

const (
	// AckPlain is a bare "ACK <id>": the server will produce a pack.
	AckPlain AckStatus = iota
	// AckContinue is multi_ack's "this is common, keep negotiating".
	AckContinue
	// AckCommon is multi_ack_detailed's "this commit is shared".
	AckCommon
	// AckReady means the server has enough to build a pack now.
	AckReady
)

// Ack is one acknowledgment received from the server.
type Ack struct {
	ID     oid.ID
	Status AckStatus
}

// Disposition is the final outcome class of a negotiation.
type Disposition int

const (
	// ReadyForPack means pack data follows on the connection.
	ReadyForPack Disposition = iota
	// NothingToSend means the server found no missing objects to send.
	// It is a recognized terminal outcome, not an error.
	NothingToSend
)

// DefaultHaveBatch is how many haves go out per round unless the
// request tunes it. Larger batches save round trips at the cost of
// wasted bandwidth when an early common ancestor exists.
const DefaultHaveBatch = 32

// Request describes one fetch negotiation.
type Request struct {
	// Wants must be non-empty and a subset of what the server
	// advertised, or the server is expected to reject it.
	Wants []oid.ID

	// Haves are local commits, proposed to the server in batches.
	Haves []oid.ID

	// Shallow is the client's current shallow boundary.
	Shallow []oid.ID

	// Depth, DeepenSince, DeepenNot configure history deepening.
	Depth       int
	DeepenSince time.Time
	DeepenNot   []string

	// Filter is a partial-clone filter (v2 sessions only).
	Filter string

	// Extra are additional v2 fetch argument lines.
	Extra []string

	// HaveBatch overrides DefaultHaveBatch when > 0.
	HaveBatch int

	// MaxRounds caps the number of have rounds; 0 means no cap.
	MaxRounds int
}

// Outcome is what a completed negotiation produced. It is handed to
// the caller once and not retained by the engine.
type Outcome struct {
	Disposition Disposition
	Acks        []Ack
	Rounds      int

	// Shallow and Unshallow must be applied by the caller before
	// interpreting Acks: they change which haves are valid ancestors.
	Shallow   []oid.ID
	Unshallow []oid.ID
}

// Engine drives one negotiation over one connection.
type Engine struct {
	conn transport.Conn
	d    *wire.Dialect
	algo Algorithm

	state State
}

// New returns an engine in Start over conn speaking d's version.
func New(conn transport.Conn, d *wire.Dialect, algo Algorithm) *Engine {
	return &Engine{conn: conn, d: d, algo: algo, state: Start}
}

// State reports the engine's current state.
func (e *Engine) State() State { return e.state }

func (e *Engine) abort(err error) error {
	e.state = Aborted
	return err
}
