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

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/negotiate"
	"go.chromium.org/gitwire/progress"
	"go.chromium.org/gitwire/wire"
)

// PushRequest names the ref updates to send and the pack covering any
// new objects.
type PushRequest struct {
	Updates []wire.RefUpdate

	// Pack supplies pack bytes for the pushed objects; may be nil when
	// every update is a deletion.
	Pack io.Reader
}

// Push sends ref updates to a receive-pack remote and returns the
// parsed status report.
//
// The session must have been established against the update-refs
// service; protocol v2 has no push, so a v2 session refuses.
func (s *Session) Push(ctx context.Context, req *PushRequest) (*negotiate.PushResult, error) {
	if s.version == wire.V2 {
		return nil, errors.New("push is not defined for protocol version 2 sessions")
	}
	if err := s.markUsed(); err != nil {
		return nil, err
	}
	for _, u := range req.Updates {
		if !u.NewID.IsZero() && req.Pack == nil {
			return nil, errors.Fmt("update of %q needs a pack", u.Name)
		}
	}
	caps := s.pushCaps()
	d := s.dialect(caps)
	eng := negotiate.New(s.conn, d, negotiate.AlgoNone)

	s.opts.sink().Event(progress.Indeterminate("pushing", "sending ref updates"))
	res, err := eng.Push(ctx, &negotiate.PushRequest{
		Updates:      req.Updates,
		Pack:         req.Pack,
		ReportStatus: strings.Contains(caps, "report-status"),
		Sideband:     strings.Contains(caps, "side-band-64k"),
		Progress:     s.opts.SidebandProgress,
	})
	if err != nil {
		return nil, err
	}
	s.opts.sink().Event(progress.Indeterminate("pushing", "status report received"))
	return res, nil
}

// pushCaps picks the capabilities echoed back to a receive-pack
// remote, preserving a fixed order.
func (s *Session) pushCaps() string {
	var caps []string
	if s.caps.Supports("report-status") {
		caps = append(caps, "report-status")
	}
	if s.caps.Supports("delete-refs") {
		caps = append(caps, "delete-refs")
	}
	if s.caps.Supports("side-band-64k") {
		caps = append(caps, "side-band-64k")
	}
	if s.caps.Supports("agent") {
		caps = append(caps, "agent="+s.opts.agent())
	}
	return strings.Join(caps, " ")
}
