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
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/exec"

	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/transport"
	"go.chromium.org/gitwire/wire"
)

// connectFlags are the transport options shared by all commands.
type connectFlags struct {
	protocol    int
	cooperative bool
}

func (f *connectFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&f.protocol, "protocol", -1,
		"Pin the protocol version (0, 1 or 2) instead of detecting it.")
	fs.BoolVar(&f.cooperative, "cooperative", false,
		"Run the protocol over the cooperative transport instead of the blocking one.")
}

func (f *connectFlags) pinned() (*wire.Version, error) {
	switch f.protocol {
	case -1:
		return nil, nil
	case 0, 1, 2:
		v := wire.Version(f.protocol)
		return &v, nil
	default:
		return nil, errors.Fmt("-protocol must be 0, 1 or 2, got %d", f.protocol)
	}
}

func (f *connectFlags) wrap(rw io.ReadWriteCloser) transport.Conn {
	if f.cooperative {
		return transport.Cooperative(rw)
	}
	return transport.Blocking(rw)
}

// connect opens a byte transport for remote: "git://" URLs dial TCP
// port 9418; anything else is treated as a local repository path and
// served by a spawned git-upload-pack.
func (f *connectFlags) connect(ctx context.Context, remote, service string) (transport.Conn, error) {
	if strings.HasPrefix(remote, "git://") {
		return f.connectTCP(ctx, remote, service)
	}
	return f.connectLocal(ctx, remote, service)
}

func (f *connectFlags) connectTCP(ctx context.Context, remote, service string) (transport.Conn, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return nil, errors.Fmt("parsing remote %q: %w", remote, err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "9418")
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, errors.Fmt("%w: dialing %s: %w", transport.ErrTransport, host, err)
	}
	conn := f.wrap(nc)

	// The git daemon expects its request header as the first pkt-line:
	// service, path and host, NUL-separated, with the protocol version
	// in an extra-parameters block.
	req := fmt.Sprintf("%s %s\x00host=%s\x00", service, u.Path, u.Hostname())
	if f.protocol == 2 {
		req += "\x00version=2\x00"
	}
	if err := conn.WritePacket(ctx, pktline.Raw([]byte(req))); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (f *connectFlags) connectLocal(ctx context.Context, path, service string) (transport.Conn, error) {
	cmd := exec.CommandContext(ctx, service, path)
	if f.protocol == 2 {
		cmd.Env = append(os.Environ(), "GIT_PROTOCOL=version=2")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Fmt("%w: %w", transport.ErrTransport, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Fmt("%w: %w", transport.ErrTransport, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Fmt("%w: spawning %s: %w", transport.ErrTransport, service, err)
	}
	return f.wrap(&procPipe{cmd: cmd, in: stdin, out: stdout}), nil
}

// procPipe exposes a spawned service's stdio as one stream.
type procPipe struct {
	cmd *exec.Cmd
	in  io.WriteCloser
	out io.Reader
}

func (p *procPipe) Read(b []byte) (int, error)  { return p.out.Read(b) }
func (p *procPipe) Write(b []byte) (int, error) { return p.in.Write(b) }

func (p *procPipe) Close() error {
	p.in.Close()
	return p.cmd.Wait()
}
