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

package session

import (
	"context"
	"io"
	"strings"

	"go.chromium.org/gitwire/negotiate"
	"go.chromium.org/gitwire/progress"
	"go.chromium.org/gitwire/sideband"
	"go.chromium.org/gitwire/wire"
)

// Fetch is the result of a fetch negotiation: the outcome plus the
// demultiplexed pack stream.
type Fetch struct {
	Outcome *negotiate.Outcome

	// Pack is the lazy pack-data stream: finite, forward-only, consumed
	// exactly once. Reading it drives the transport, so back-pressure is
	// implicit. Nil when the outcome is NothingToSend.
	Pack io.Reader
}

// Fetch negotiates a fetch on this session's connection.
//
// Progress-channel bytes arriving on the sideband go verbatim to
// Options.SidebandProgress; structured phase events go to
// Options.Progress.
func (s *Session) Fetch(ctx context.Context, req *negotiate.Request) (*Fetch, error) {
	if err := s.markUsed(); err != nil {
		return nil, err
	}

	d := s.dialect(s.fetchCaps())
	eng := negotiate.New(s.conn, d, negotiate.DetectAlgorithm(s.caps))

	s.opts.sink().Event(progress.Indeterminate("negotiating", "sending wants"))
	out, err := eng.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if out.Disposition == negotiate.NothingToSend {
		s.opts.sink().Event(progress.Indeterminate("negotiating", "nothing to send"))
		return &Fetch{Outcome: out}, nil
	}

	s.opts.sink().Event(progress.Indeterminate("receiving-pack", "pack data follows"))
	active := s.version == wire.V2 || s.sidebandNegotiated()
	return &Fetch{
		Outcome: out,
		Pack:    sideband.NewReader(ctx, s.conn, active, s.opts.SidebandProgress),
	}, nil
}

// fetchCaps picks the capabilities the client activates on a v0/v1
// fetch, in a fixed order so re-advertisement is deterministic.
func (s *Session) fetchCaps() string {
	if s.version == wire.V2 {
		return ""
	}
	var caps []string
	switch {
	case s.caps.Supports("multi_ack_detailed"):
		caps = append(caps, "multi_ack_detailed")
	case s.caps.Supports("multi_ack"):
		caps = append(caps, "multi_ack")
	}
	switch {
	case s.caps.Supports("side-band-64k"):
		caps = append(caps, "side-band-64k")
	case s.caps.Supports("side-band"):
		caps = append(caps, "side-band")
	}
	if s.caps.Supports("ofs-delta") {
		caps = append(caps, "ofs-delta")
	}
	if s.caps.Supports("agent") {
		caps = append(caps, "agent="+s.opts.agent())
	}
	return strings.Join(caps, " ")
}

func (s *Session) sidebandNegotiated() bool {
	return s.caps.Supports("side-band-64k") || s.caps.Supports("side-band")
}
