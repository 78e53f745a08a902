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

package pktline

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestWriter(t *testing.T) {
	t.Parallel()

	ftt.Run(`Writer`, t, func(t *ftt.Test) {
		var buf bytes.Buffer
		w := NewWriter(&buf)

		t.Run(`frames a data packet with its hex length`, func(t *ftt.Test) {
			assert.Loosely(t, w.WriteString("hello"), should.BeNil)
			assert.Loosely(t, buf.String(), should.Equal("000ahello\n"))
		})

		t.Run(`frames control packets as bare lengths`, func(t *ftt.Test) {
			assert.Loosely(t, w.Flush(), should.BeNil)
			assert.Loosely(t, w.WritePacket(DelimPkt), should.BeNil)
			assert.Loosely(t, w.WritePacket(Packet{Kind: ResponseEnd}), should.BeNil)
			assert.Loosely(t, buf.String(), should.Equal("000000010002"))
		})

		t.Run(`frames an empty data packet as 0004`, func(t *ftt.Test) {
			assert.Loosely(t, w.WritePacket(Raw(nil)), should.BeNil)
			assert.Loosely(t, buf.String(), should.Equal("0004"))
		})

		t.Run(`rejects an oversized payload`, func(t *ftt.Test) {
			err := w.WritePacket(Raw(make([]byte, MaxPayload+1)))
			assert.Loosely(t, err, should.ErrLike(ErrTooLong))
			assert.Loosely(t, buf.Len(), should.BeZero)
		})

		t.Run(`accepts the largest payload exactly`, func(t *ftt.Test) {
			assert.Loosely(t, w.WritePacket(Raw(make([]byte, MaxPayload))), should.BeNil)
			assert.Loosely(t, buf.Len(), should.Equal(MaxPayload+4))
			assert.Loosely(t, buf.String()[:4], should.Equal("fff0"))
		})
	})
}

func TestReader(t *testing.T) {
	t.Parallel()

	ftt.Run(`Reader`, t, func(t *ftt.Test) {
		read := func(s string) (Packet, error) {
			return NewReader(strings.NewReader(s)).ReadPacket()
		}

		t.Run(`decodes data and control packets`, func(t *ftt.Test) {
			r := NewReader(strings.NewReader("000ahello\n000000010002"))

			p, err := r.ReadPacket()
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, p.Kind, should.Equal(Data))
			assert.Loosely(t, string(p.Payload), should.Equal("hello\n"))
			assert.Loosely(t, string(p.Text()), should.Equal("hello"))

			for _, want := range []Kind{Flush, Delim, ResponseEnd} {
				p, err = r.ReadPacket()
				assert.Loosely(t, err, should.BeNil)
				assert.Loosely(t, p.Kind, should.Equal(want))
				assert.Loosely(t, p.Payload, should.BeNil)
			}

			_, err = r.ReadPacket()
			assert.Loosely(t, err, should.Equal(io.EOF))
		})

		t.Run(`returns clean io.EOF only at a packet boundary`, func(t *ftt.Test) {
			_, err := read("")
			assert.Loosely(t, err, should.Equal(io.EOF))

			_, err = read("00")
			assert.Loosely(t, err, should.ErrLike(io.ErrUnexpectedEOF))

			_, err = read("000ahel")
			assert.Loosely(t, err, should.ErrLike(io.ErrUnexpectedEOF))
		})

		t.Run(`rejects a non-hex length prefix`, func(t *ftt.Test) {
			_, err := read("00gg")
			assert.Loosely(t, err, should.ErrLike(ErrBadLength))
		})

		t.Run(`rejects the reserved length 0003`, func(t *ftt.Test) {
			_, err := read("0003")
			assert.Loosely(t, err, should.ErrLike(ErrBadLength))
		})
	})
}

func TestText(t *testing.T) {
	t.Parallel()

	ftt.Run(`Text strips at most one trailing newline`, t, func(t *ftt.Test) {
		assert.Loosely(t, string(Line("x").Text()), should.Equal("x"))
		assert.Loosely(t, string(Raw([]byte("x\n\n")).Text()), should.Equal("x\n"))
		assert.Loosely(t, string(Raw([]byte("x")).Text()), should.Equal("x"))
		assert.Loosely(t, Raw(nil).Text(), should.BeEmpty)
	})
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	ftt.Run(`Writer output decodes to the packets written`, t, func(t *ftt.Test) {
		pkts := []Packet{
			Line("want e8df7a061d7c4f36bbd3d2e04e49eb103b17b554"),
			Raw([]byte{1, 'P', 'A', 'C', 'K'}),
			DelimPkt,
			Line("done"),
			FlushPkt,
		}
		var buf bytes.Buffer
		w := NewWriter(&buf)
		for _, p := range pkts {
			assert.Loosely(t, w.WritePacket(p), should.BeNil)
		}

		r := NewReader(&buf)
		for _, want := range pkts {
			got, err := r.ReadPacket()
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, got.Kind, should.Equal(want.Kind))
			assert.Loosely(t, got.Payload, should.Match(want.Payload))
		}
		_, err := r.ReadPacket()
		assert.Loosely(t, err, should.Equal(io.EOF))
	})
}
