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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/gitwire/negotiate"
	"go.chromium.org/gitwire/oid"
	"go.chromium.org/gitwire/progress"
	"go.chromium.org/gitwire/session"
	"go.chromium.org/gitwire/transport"
)

func cmdFetch() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "fetch [flags] <remote> [ref...]",
		ShortDesc: "negotiates a fetch and saves the pack",
		LongDesc: `Negotiates a fetch against the remote and writes the raw pack.

With no ref arguments every advertised ref under refs/heads/ is
wanted. Each -have id is offered to the server so it can thin the
pack. Remote progress messages go to stderr.`,
		CommandRun: func() subcommands.CommandRun {
			r := &fetchRun{}
			r.connectFlags.register(&r.Flags)
			r.Flags.StringVar(&r.output, "output", "", "Write the pack to this file instead of stdout.")
			r.Flags.Var(&r.haves, "have", "An object id the client already has (repeatable).")
			r.Flags.IntVar(&r.depth, "depth", 0, "Request a shallow clone truncated at this depth.")
			r.Flags.StringVar(&r.filter, "filter", "", "An object filter, e.g. blob:none.")
			return r
		},
	}
}

type fetchRun struct {
	subcommands.CommandRunBase
	connectFlags

	output string
	haves  hexListFlag
	depth  int
	filter string
}

// hexListFlag accumulates hex object ids from a repeatable flag.
type hexListFlag []string

func (f *hexListFlag) String() string { return strings.Join(*f, ",") }

func (f *hexListFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func (r *fetchRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "fetch: a remote is required")
		return 1
	}
	if err := r.run(ctx, args[0], args[1:]); err != nil {
		errors.Log(ctx, err)
		return 1
	}
	return 0
}

func (r *fetchRun) run(ctx context.Context, remote string, refNames []string) error {
	version, err := r.pinned()
	if err != nil {
		return err
	}

	s, err := session.Dial(ctx, func(ctx context.Context) (transport.Conn, error) {
		return r.connect(ctx, remote, "git-upload-pack")
	}, &session.Options{
		Version:          version,
		Progress:         progress.LogSink(ctx),
		SidebandProgress: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	wants, err := r.resolveWants(ctx, s, refNames)
	if err != nil {
		return err
	}

	haves := make([]oid.ID, 0, len(r.haves))
	for _, h := range r.haves {
		id, err := oid.Parse(s.Format(), h)
		if err != nil {
			return errors.Fmt("-have %q: %w", h, err)
		}
		haves = append(haves, id)
	}

	fetch, err := s.Fetch(ctx, &negotiate.Request{
		Wants:  wants,
		Haves:  haves,
		Depth:  r.depth,
		Filter: r.filter,
	})
	if err != nil {
		return err
	}
	if fetch.Outcome.Disposition == negotiate.NothingToSend {
		logging.Infof(ctx, "fetch: already up to date, no pack sent")
		return nil
	}

	out := io.Writer(os.Stdout)
	if r.output != "" {
		f, err := os.Create(r.output)
		if err != nil {
			return errors.Fmt("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}
	n, err := io.Copy(out, fetch.Pack)
	if err != nil {
		return errors.Fmt("receiving pack: %w", err)
	}
	logging.Infof(ctx, "fetch: %d pack bytes in %d negotiation rounds", n, fetch.Outcome.Rounds)
	return nil
}

// resolveWants maps ref name arguments (or the refs/heads default) to
// advertised object ids. An argument that is already a full hex id is
// wanted directly without a ref lookup.
func (r *fetchRun) resolveWants(ctx context.Context, s *session.Session, refNames []string) ([]oid.ID, error) {
	if len(refNames) == 0 {
		refs, err := s.ListRefs(ctx, "refs/heads/")
		if err != nil {
			return nil, err
		}
		wants := make([]oid.ID, 0, len(refs))
		for _, ref := range refs {
			wants = append(wants, ref.ID)
		}
		return wants, nil
	}

	var wants []oid.ID
	var lookups []string
	for _, name := range refNames {
		if id, err := oid.Parse(s.Format(), name); err == nil {
			wants = append(wants, id)
		} else {
			lookups = append(lookups, name)
		}
	}
	if len(lookups) > 0 {
		refs, err := s.ListRefs(ctx)
		if err != nil {
			return nil, err
		}
		byName := make(map[string]oid.ID, len(refs))
		for _, ref := range refs {
			byName[string(ref.Name)] = ref.ID
		}
		for _, name := range lookups {
			id, ok := byName[name]
			if !ok {
				return nil, errors.Fmt("remote does not advertise %q", name)
			}
			wants = append(wants, id)
		}
	}
	return wants, nil
}
