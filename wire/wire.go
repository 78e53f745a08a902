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

// Package wire hides the three smart-protocol wire syntaxes (v0, v1,
// v2) behind one framing API.
//
// A Version is a closed enum selected exactly once per session from
// the first bytes read (or pinned by configuration) and never mixed
// mid-session. Framing is a pure function from (operation, arguments)
// to packets: the negotiation engine and the ref parser never build
// version-specific lines themselves.
package wire

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/oid"
	"go.chromium.org/gitwire/pktline"
)

// Version is the negotiated protocol version.
type Version int

const (
	// V0 is the original wire protocol: the ref advertisement flows
	// immediately on connect, with no version preamble at all.
	V0 Version = iota
	// V1 is the same wire shape as V0 preceded by a "version 1" line.
	V1
	// V2 is the command-oriented protocol ("version 2" preamble,
	// explicit ls-refs / fetch commands).
	V2
)

// String returns the canonical protocol name.
func (v Version) String() string {
	return fmt.Sprintf("version %d", int(v))
}

// Detect inspects the first packet read from a server and returns the
// session version plus whether the packet was consumed by the version
// preamble (V0 advertises no preamble, so its first packet is already
// advertisement data).
func Detect(first pktline.Packet) (Version, bool) {
	if first.Kind != pktline.Data {
		return V0, false
	}
	switch string(first.Text()) {
	case "version 1":
		return V1, true
	case "version 2":
		return V2, true
	}
	return V0, false
}

// FetchArgs are the version-independent arguments of a fetch.
type FetchArgs struct {
	Wants []oid.ID

	// Shallow is the client's current shallow boundary.
	Shallow []oid.ID

	// Depth > 0 requests deepening to that many commits.
	Depth int
	// DeepenSince requests deepening to commits newer than the time.
	DeepenSince time.Time
	// DeepenNot excludes history reachable from these refs.
	DeepenNot []string

	// Filter is a partial-clone filter spec (v2 only).
	Filter string

	// Extra are additional v2 argument lines ("thin-pack", "ofs-delta",
	// "include-tag", ...) selected from the advertised fetch features.
	Extra []string
}

func (a *FetchArgs) deepenLines(dst []pktline.Packet) []pktline.Packet {
	for _, s := range a.Shallow {
		dst = append(dst, pktline.Line("shallow "+s.String()))
	}
	if a.Depth > 0 {
		dst = append(dst, pktline.Line("deepen "+strconv.Itoa(a.Depth)))
	}
	if !a.DeepenSince.IsZero() {
		dst = append(dst, pktline.Line("deepen-since "+strconv.FormatInt(a.DeepenSince.Unix(), 10)))
	}
	for _, ref := range a.DeepenNot {
		dst = append(dst, pktline.Line("deepen-not "+ref))
	}
	return dst
}

// Dialect frames operations for one session's fixed version.
type Dialect struct {
	Version Version
	Format  oid.Format

	// Caps is the capability string the client activates, appended to
	// the first want (v0/v1) or re-advertised on push.
	Caps string

	// Agent is the client agent string advertised in v2 command blocks.
	Agent string
}

// ErrEmptyWants is returned when a fetch is framed with no wants.
var ErrEmptyWants = errors.New("fetch requires at least one want")

// OpenFetch frames the Start -> WantsSent emission.
//
// For v0/v1 this is the want block: one "want" line per hash with the
// capability list on the first line only, then shallow/deepen lines,
// then a flush. For v2 fetch is stateless per round, so OpenFetch
// frames nothing and FetchRound carries the wants instead.
func (d *Dialect) OpenFetch(a *FetchArgs) ([]pktline.Packet, error) {
	if len(a.Wants) == 0 {
		return nil, ErrEmptyWants
	}
	if d.Version == V2 {
		return nil, nil
	}
	var pkts []pktline.Packet
	for i, w := range a.Wants {
		if i == 0 && d.Caps != "" {
			pkts = append(pkts, pktline.Line("want "+w.String()+" "+d.Caps))
			continue
		}
		pkts = append(pkts, pktline.Line("want "+w.String()))
	}
	pkts = a.deepenLines(pkts)
	pkts = append(pkts, pktline.FlushPkt)
	return pkts, nil
}

// FetchRound frames one negotiation round: a bounded batch of haves
// and, on the final round, "done".
//
// v0/v1: "have" lines and a flush ("done" replaces the flush on the
// final round). v2: a complete command=fetch block repeating the wants
// with all haves accumulated so far, since v2 rounds are stateless.
func (d *Dialect) FetchRound(a *FetchArgs, haves []oid.ID, done bool) ([]pktline.Packet, error) {
	if d.Version != V2 {
		var pkts []pktline.Packet
		for _, h := range haves {
			pkts = append(pkts, pktline.Line("have "+h.String()))
		}
		if done {
			pkts = append(pkts, pktline.FlushPkt, pktline.Line("done"))
		} else {
			pkts = append(pkts, pktline.FlushPkt)
		}
		return pkts, nil
	}

	if len(a.Wants) == 0 {
		return nil, ErrEmptyWants
	}
	pkts := d.commandHeader("fetch")
	for _, w := range a.Wants {
		pkts = append(pkts, pktline.Line("want "+w.String()))
	}
	pkts = a.deepenLines(pkts)
	if a.Filter != "" {
		pkts = append(pkts, pktline.Line("filter "+a.Filter))
	}
	for _, extra := range a.Extra {
		pkts = append(pkts, pktline.Line(extra))
	}
	for _, h := range haves {
		pkts = append(pkts, pktline.Line("have "+h.String()))
	}
	if done {
		pkts = append(pkts, pktline.Line("done"))
	}
	pkts = append(pkts, pktline.FlushPkt)
	return pkts, nil
}

// LsRefsArgs configure a v2 ls-refs command.
type LsRefsArgs struct {
	// RefPrefixes limit the listing server-side.
	RefPrefixes []string
	// Symrefs requests symref-target attributes.
	Symrefs bool
	// Peel requests peeled attributes for tag refs.
	Peel bool
}

// LsRefs frames a v2 ls-refs command. It is not defined for v0/v1,
// where the advertisement flows unrequested on connect.
func (d *Dialect) LsRefs(a *LsRefsArgs) ([]pktline.Packet, error) {
	if d.Version != V2 {
		return nil, errors.Fmt("ls-refs is a %s command, session is %s", V2, d.Version)
	}
	pkts := d.commandHeader("ls-refs")
	if a.Symrefs {
		pkts = append(pkts, pktline.Line("symrefs"))
	}
	if a.Peel {
		pkts = append(pkts, pktline.Line("peel"))
	}
	for _, p := range a.RefPrefixes {
		pkts = append(pkts, pktline.Line("ref-prefix "+p))
	}
	pkts = append(pkts, pktline.FlushPkt)
	return pkts, nil
}

// commandHeader frames "command=<name>", capability advertisement
// lines, and the delimiter that opens the argument section.
func (d *Dialect) commandHeader(name string) []pktline.Packet {
	pkts := []pktline.Packet{pktline.Line("command=" + name)}
	if d.Agent != "" {
		pkts = append(pkts, pktline.Line("agent="+d.Agent))
	}
	pkts = append(pkts, pktline.Line("object-format="+d.Format.String()))
	pkts = append(pkts, pktline.DelimPkt)
	return pkts
}

// RefUpdate is one push command: move Name from OldID to NewID. The
// zero id creates (OldID) or deletes (NewID) the ref.
type RefUpdate struct {
	OldID oid.ID
	NewID oid.ID
	Name  string
}

// PushCommands frames the update-commands block of a push: one
// "<old> <new> <name>" line per update, the capability list after a
// NUL on the first line, then a flush. Pack data follows unframed.
func (d *Dialect) PushCommands(updates []RefUpdate) ([]pktline.Packet, error) {
	if len(updates) == 0 {
		return nil, errors.New("push requires at least one ref update")
	}
	var pkts []pktline.Packet
	for i, u := range updates {
		var line bytes.Buffer
		fmt.Fprintf(&line, "%s %s %s", u.OldID, u.NewID, u.Name)
		if i == 0 {
			line.WriteByte(0)
			line.WriteString(d.Caps)
		}
		line.WriteByte('\n')
		pkts = append(pkts, pktline.Raw(line.Bytes()))
	}
	pkts = append(pkts, pktline.FlushPkt)
	return pkts, nil
}
