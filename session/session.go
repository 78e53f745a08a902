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

// Package session exposes the caller-facing protocol operations: list
// references, negotiate a fetch, negotiate a push.
//
// A Session wraps exactly one connection. The protocol version is
// fixed at handshake (or pinned by configuration for transports with
// no negotiable version, like a local pipe) and never re-evaluated.
// After any error other than the recognized nothing-to-send outcome,
// the session is dead: reconnect and start over.
package session

import (
	"bytes"
	"context"
	"io"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/gitwire/advert"
	"go.chromium.org/gitwire/capability"
	"go.chromium.org/gitwire/oid"
	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/progress"
	"go.chromium.org/gitwire/transport"
	"go.chromium.org/gitwire/wire"
)

// DefaultAgent is the agent string advertised to servers.
const DefaultAgent = "gitwire/1"

// Options configure a session at handshake time.
type Options struct {
	// Version pins the protocol version instead of detecting it from
	// the first bytes read. Required for transports that advertise no
	// version preamble on their own.
	Version *wire.Version

	// Require are capability names the server must have advertised;
	// the handshake fails with capability.ErrUnsupported otherwise,
	// reported in this order.
	Require []string

	// Progress receives structured phase events. Defaults to Discard.
	Progress progress.Sink

	// SidebandProgress receives the remote's progress-channel bytes
	// verbatim. Defaults to discarding them.
	SidebandProgress io.Writer

	// Agent overrides DefaultAgent.
	Agent string
}

func (o *Options) agent() string {
	if o != nil && o.Agent != "" {
		return o.Agent
	}
	return DefaultAgent
}

func (o *Options) sink() progress.Sink {
	if o != nil && o.Progress != nil {
		return o.Progress
	}
	return progress.Discard
}

// Session is one negotiated connection to a remote.
type Session struct {
	conn transport.Conn
	opts Options

	version wire.Version
	format  oid.Format
	caps    *capability.Set

	// refs is the v0/v1 advertisement, consumed at handshake.
	refs []advert.Ref

	// used flips once a fetch or push ran; one negotiation per session.
	used bool
}

// New performs the handshake on conn: version detection (or pinning),
// and consumption of the initial advertisement.
func New(ctx context.Context, conn transport.Conn, opts *Options) (*Session, error) {
	s := &Session{conn: conn}
	if opts != nil {
		s.opts = *opts
	}
	s.opts.sink().Event(progress.Indeterminate("handshake", "reading server advertisement"))

	first, err := conn.ReadPacket(ctx)
	if err != nil {
		if err == io.EOF {
			return nil, errors.Fmt("%w: remote hung up before advertising", transport.ErrTransport)
		}
		return nil, err
	}

	detected, consumed := wire.Detect(first)
	s.version = detected
	if s.opts.Version != nil {
		if consumed && *s.opts.Version != detected {
			return nil, errors.Fmt("server speaks %s but configuration pins %s", detected, *s.opts.Version)
		}
		s.version = *s.opts.Version
	}

	switch s.version {
	case wire.V2:
		if err := s.readV2Capabilities(ctx, first, consumed); err != nil {
			return nil, err
		}
	default:
		if err := s.readAdvertisement(ctx, first, consumed); err != nil {
			return nil, err
		}
	}

	if v, ok := s.caps.Value("object-format"); ok && v == "sha256" {
		s.format = oid.SHA256
	}

	if err := s.caps.AssertSupported(s.opts.Require...); err != nil {
		return nil, err
	}
	logging.Debugf(ctx, "session: %s, %d capabilities, %d refs advertised",
		s.version, s.caps.Len(), len(s.refs))
	return s, nil
}

// readAdvertisement parses the v0/v1 ref listing that flows
// unrequested on connect.
func (s *Session) readAdvertisement(ctx context.Context, first pktline.Packet, consumed bool) error {
	if !consumed && first.Kind == pktline.Flush {
		// An empty advertisement: receive-pack on a bare new repo.
		s.refs, s.caps = nil, &capability.Set{}
		return nil
	}
	lines, err := s.conn.ReadBlock(ctx)
	if err != nil {
		return err
	}
	if !consumed {
		if first.Kind != pktline.Data {
			return errors.Fmt("%w: advertisement began with %s packet", advert.ErrMalformedRef, first.Kind)
		}
		lines = append([][]byte{first.Text()}, lines...)
	}
	// The id width on the first line fixes the format up front; the
	// object-format capability rides inside these very lines, too late
	// to steer their own parse.
	if len(lines) > 0 {
		if i := bytes.IndexByte(lines[0], ' '); i == oid.SHA256.HexSize() {
			s.format = oid.SHA256
		}
	}
	s.refs, s.caps, err = advert.ParseV1(s.format, lines)
	return err
}

// readV2Capabilities parses the v2 capability advertisement: one
// "name" or "name=value" line per packet, until flush. When the pin
// selected v2 on a server that sent no version preamble, first is
// already the leading capability line and must not be dropped.
func (s *Session) readV2Capabilities(ctx context.Context, first pktline.Packet, consumed bool) error {
	s.caps = &capability.Set{}
	if !consumed && first.Kind == pktline.Flush {
		return nil
	}
	lines, err := s.conn.ReadBlock(ctx)
	if err != nil {
		return err
	}
	if !consumed {
		if first.Kind != pktline.Data {
			return errors.Fmt("%w: capability advertisement began with %s packet", capability.ErrMalformed, first.Kind)
		}
		lines = append([][]byte{first.Text()}, lines...)
	}
	for _, line := range lines {
		name, value, _ := strings.Cut(string(line), "=")
		if name == "" {
			return errors.Fmt("%w: v2 capability line %q", capability.ErrMalformed, line)
		}
		s.caps.Add(name, value)
	}
	return nil
}

// Version returns the session's fixed protocol version.
func (s *Session) Version() wire.Version { return s.version }

// Capabilities returns the server's advertised capability set.
func (s *Session) Capabilities() *capability.Set { return s.caps }

// Format returns the session's object id format.
func (s *Session) Format() oid.Format { return s.format }

// Close releases the connection.
func (s *Session) Close() error { return s.conn.Close() }

// ListRefs returns the remote's references, optionally limited to the
// given name prefixes.
//
// For v0/v1 this is the advertisement consumed at handshake, filtered
// client-side; for v2 it is an ls-refs round trip with server-side
// filtering. Order is as received; callers needing sorted output sort
// themselves.
func (s *Session) ListRefs(ctx context.Context, prefixes ...string) ([]advert.Ref, error) {
	if s.version != wire.V2 {
		if len(prefixes) == 0 {
			return s.refs, nil
		}
		var out []advert.Ref
		for _, r := range s.refs {
			for _, p := range prefixes {
				if bytes.HasPrefix(r.Name, []byte(p)) {
					out = append(out, r)
					break
				}
			}
		}
		return out, nil
	}

	d := s.dialect("")
	pkts, err := d.LsRefs(&wire.LsRefsArgs{RefPrefixes: prefixes, Symrefs: true, Peel: true})
	if err != nil {
		return nil, err
	}
	for _, p := range pkts {
		if err := s.conn.WritePacket(ctx, p); err != nil {
			return nil, err
		}
	}
	lines, err := s.conn.ReadBlock(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]advert.Ref, 0, len(lines))
	for _, line := range lines {
		ref, err := advert.ParseV2Line(s.format, line)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Session) dialect(caps string) *wire.Dialect {
	return &wire.Dialect{
		Version: s.version,
		Format:  s.format,
		Caps:    caps,
		Agent:   s.opts.agent(),
	}
}

func (s *Session) markUsed() error {
	if s.used {
		return errors.New("session already ran a negotiation; reconnect for another")
	}
	s.used = true
	return nil
}
