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
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/session"
	"go.chromium.org/gitwire/transport"
)

func cmdLsRemote() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "ls-remote [flags] <remote> [prefix...]",
		ShortDesc: "lists the remote's references",
		LongDesc: `Lists the remote's references, one "<oid> <name>" pair per line.

The remote is a git:// URL or a local repository path. Optional prefix
arguments limit the listing to matching ref names.`,
		CommandRun: func() subcommands.CommandRun {
			r := &lsRemoteRun{}
			r.connectFlags.register(&r.Flags)
			return r
		},
	}
}

type lsRemoteRun struct {
	subcommands.CommandRunBase
	connectFlags
}

func (r *lsRemoteRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "ls-remote: a remote is required")
		return 1
	}
	if err := r.run(ctx, args[0], args[1:]); err != nil {
		errors.Log(ctx, err)
		return 1
	}
	return 0
}

func (r *lsRemoteRun) run(ctx context.Context, remote string, prefixes []string) error {
	version, err := r.pinned()
	if err != nil {
		return err
	}

	s, err := session.Dial(ctx, func(ctx context.Context) (transport.Conn, error) {
		return r.connect(ctx, remote, "git-upload-pack")
	}, &session.Options{Version: version})
	if err != nil {
		return err
	}
	defer s.Close()

	refs, err := s.ListRefs(ctx, prefixes...)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		fmt.Printf("%s\t%s\n", ref.ID, ref.Name)
		if ref.SymrefTarget != "" {
			fmt.Printf("symref=%s:%s\t%s\n", ref.Name, ref.SymrefTarget, ref.Name)
		}
		if ref.Peeled != nil {
			fmt.Printf("%s\t%s^{}\n", ref.Peeled, ref.Name)
		}
	}
	return nil
}
