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

// Command gitwire talks the git smart protocol to a remote: list its
// refs or negotiate a fetch and save the resulting pack.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
)

func main() {
	app := &cli.Application{
		Name:  "gitwire",
		Title: "git smart-protocol client",
		Context: func(ctx context.Context) context.Context {
			return gologger.StdConfig.Use(logging.SetLevel(ctx, logging.Info))
		},
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,
			cmdLsRemote(),
			cmdFetch(),
		},
	}
	os.Exit(subcommands.Run(app, nil))
}
