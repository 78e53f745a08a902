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

package sideband

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/gitwire/pktline"
	"go.chromium.org/gitwire/transport"
)

type readOnly struct {
	io.Reader
}

func (readOnly) Write(p []byte) (int, error) { return len(p), nil }
func (readOnly) Close() error                { return nil }

// serverStream frames the given packets the way a remote would.
func serverStream(t *ftt.Test, pkts ...pktline.Packet) transport.Conn {
	var buf bytes.Buffer
	w := pktline.NewWriter(&buf)
	for _, p := range pkts {
		assert.Loosely(t, w.WritePacket(p), should.BeNil)
	}
	return transport.Blocking(readOnly{&buf})
}

func frame(ch Channel, body string) pktline.Packet {
	return pktline.Raw(append([]byte{byte(ch)}, body...))
}

func TestDemux(t *testing.T) {
	t.Parallel()

	ftt.Run(`Demux`, t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run(`splits interleaved channels until the flush`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t,
				frame(Pack, "PACK...a"),
				frame(Progress, "Counting objects: 50%\r"),
				frame(Pack, "...b"),
				pktline.FlushPkt,
			), true)

			ch, body, err := d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ch, should.Equal(Pack))
			assert.Loosely(t, string(body), should.Equal("PACK...a"))

			ch, body, err = d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ch, should.Equal(Progress))
			assert.Loosely(t, string(body), should.Equal("Counting objects: 50%\r"))

			ch, body, err = d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ch, should.Equal(Pack))
			assert.Loosely(t, string(body), should.Equal("...b"))

			_, _, err = d.Next(ctx)
			assert.Loosely(t, err, should.Equal(io.EOF))

			// The sequence stays ended.
			_, _, err = d.Next(ctx)
			assert.Loosely(t, err, should.Equal(io.EOF))
		})

		t.Run(`EOF without a flush still ends cleanly`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t, frame(Pack, "tail")), true)

			_, body, err := d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, string(body), should.Equal("tail"))

			_, _, err = d.Next(ctx)
			assert.Loosely(t, err, should.Equal(io.EOF))
		})

		t.Run(`an inactive demux treats everything as pack data`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t,
				pktline.Raw([]byte("PACK raw bytes")),
				pktline.FlushPkt,
			), false)

			ch, body, err := d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ch, should.Equal(Pack))
			assert.Loosely(t, string(body), should.Equal("PACK raw bytes"))
		})

		t.Run(`channel 3 surfaces a RemoteError and terminates`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t,
				frame(Pack, "partial"),
				frame(Error, "fatal: out of disk\n"),
				pktline.FlushPkt,
			), true)

			_, _, err := d.Next(ctx)
			assert.Loosely(t, err, should.BeNil)

			_, _, err = d.Next(ctx)
			var remote *RemoteError
			assert.Loosely(t, errors.As(err, &remote), should.BeTrue)
			assert.Loosely(t, remote.Message, should.Equal("fatal: out of disk"))

			// Only silence may follow the error.
			_, _, err = d.Next(ctx)
			assert.Loosely(t, err, should.Equal(io.EOF))
		})

		t.Run(`frames after the fatal error are out of order`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t,
				frame(Error, "fatal: refused\n"),
				frame(Pack, "late data"),
			), true)

			_, _, err := d.Next(ctx)
			var remote *RemoteError
			assert.Loosely(t, errors.As(err, &remote), should.BeTrue)

			_, _, err = d.Next(ctx)
			assert.Loosely(t, err, should.ErrLike(ErrOutOfOrderChannel))
		})

		t.Run(`rejects an unknown channel`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t, frame(Channel(9), "x")), true)
			_, _, err := d.Next(ctx)
			assert.Loosely(t, err, should.ErrLike("unknown sideband channel"))
		})

		t.Run(`rejects a frame with no channel byte`, func(t *ftt.Test) {
			d := NewDemux(serverStream(t, pktline.Raw(nil)), true)
			_, _, err := d.Next(ctx)
			assert.Loosely(t, err, should.ErrLike("empty sideband frame"))
		})
	})
}

func TestReader(t *testing.T) {
	t.Parallel()

	ftt.Run(`Reader`, t, func(t *ftt.Test) {
		ctx := context.Background()

		t.Run(`yields pack bytes and forwards progress`, func(t *ftt.Test) {
			conn := serverStream(t,
				frame(Progress, "Enumerating objects: 10\r"),
				frame(Pack, "PACK00"),
				frame(Progress, "done.\n"),
				frame(Pack, "00rest"),
				pktline.FlushPkt,
			)
			var progress strings.Builder
			r := NewReader(ctx, conn, true, &progress)

			pack, err := io.ReadAll(r)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, string(pack), should.Equal("PACK0000rest"))
			assert.Loosely(t, progress.String(), should.Equal("Enumerating objects: 10\rdone.\n"))
		})

		t.Run(`a nil progress writer drops progress bytes`, func(t *ftt.Test) {
			conn := serverStream(t,
				frame(Progress, "noise"),
				frame(Pack, "data"),
				pktline.FlushPkt,
			)
			pack, err := io.ReadAll(NewReader(ctx, conn, true, nil))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, string(pack), should.Equal("data"))
		})

		t.Run(`a remote error aborts the read`, func(t *ftt.Test) {
			conn := serverStream(t,
				frame(Pack, "PACK"),
				frame(Error, "fatal: broken\n"),
			)
			_, err := io.ReadAll(NewReader(ctx, conn, true, nil))
			var remote *RemoteError
			assert.Loosely(t, errors.As(err, &remote), should.BeTrue)
			assert.Loosely(t, remote.Message, should.Equal("fatal: broken"))
		})
	})
}
