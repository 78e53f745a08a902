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

package advert

import (
	"strings"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/gitwire/oid"
)

const (
	hexHead = "e8df7a061d7c4f36bbd3d2e04e49eb103b17b554"
	hexMain = "3b1031798a00fa1b774cc5bf5c59d534b7a27b4e"
	hexTag  = "74730d410fcb6603ace96f1dc55ea6196122532d"
	hexZero = "0000000000000000000000000000000000000000"
)

func lines(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func TestParseV1(t *testing.T) {
	t.Parallel()

	ftt.Run(`ParseV1`, t, func(t *ftt.Test) {
		t.Run(`parses refs with capabilities on the first line`, func(t *ftt.Test) {
			refs, caps, err := ParseV1(oid.SHA1, lines(
				hexHead+" HEAD\x00multi_ack side-band-64k symref=HEAD:refs/heads/main agent=git/2.40.0",
				hexMain+" refs/heads/main",
				hexTag+" refs/tags/v1.0",
				hexHead+" refs/tags/v1.0^{}",
			))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, refs, should.HaveLength(3))

			assert.Loosely(t, string(refs[0].Name), should.Equal("HEAD"))
			assert.Loosely(t, refs[0].ID.String(), should.Equal(hexHead))
			assert.Loosely(t, refs[0].Peeled, should.BeNil)

			assert.Loosely(t, string(refs[2].Name), should.Equal("refs/tags/v1.0"))
			assert.Loosely(t, refs[2].ID.String(), should.Equal(hexTag))
			assert.Loosely(t, refs[2].Peeled, should.NotBeNil)
			assert.Loosely(t, refs[2].Peeled.String(), should.Equal(hexHead))

			assert.Loosely(t, caps.Supports("multi_ack"), should.BeTrue)
			v, _ := caps.Value("symref")
			assert.Loosely(t, v, should.Equal("HEAD:refs/heads/main"))
		})

		t.Run(`a zero-id capabilities^{} sentinel means no refs`, func(t *ftt.Test) {
			refs, caps, err := ParseV1(oid.SHA1, lines(
				hexZero+" capabilities^{}\x00 shallow fetch",
			))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, refs, should.BeEmpty)
			assert.Loosely(t, caps.Supports("shallow"), should.BeTrue)
			assert.Loosely(t, caps.Supports("fetch"), should.BeTrue)
		})

		t.Run(`refs after the sentinel are malformed`, func(t *ftt.Test) {
			_, _, err := ParseV1(oid.SHA1, lines(
				hexZero+" capabilities^{}\x00multi_ack",
				hexMain+" refs/heads/main",
			))
			assert.Loosely(t, err, should.ErrLike(ErrMalformedRef))
		})

		t.Run(`tolerates a v0 first line with no NUL`, func(t *ftt.Test) {
			refs, caps, err := ParseV1(oid.SHA1, lines(hexMain + " refs/heads/main"))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, refs, should.HaveLength(1))
			assert.Loosely(t, caps.Len(), should.BeZero)
		})

		t.Run(`a peeled entry must follow its ref`, func(t *ftt.Test) {
			_, _, err := ParseV1(oid.SHA1, lines(
				hexMain+" refs/heads/main\x00",
				hexHead+" refs/tags/v1.0^{}",
			))
			assert.Loosely(t, err, should.ErrLike(ErrMalformedRef))
		})

		t.Run(`rejects a line with no ref name`, func(t *ftt.Test) {
			_, _, err := ParseV1(oid.SHA1, lines(hexMain))
			assert.Loosely(t, err, should.ErrLike(ErrMalformedRef))
		})

		t.Run(`rejects a bad hash`, func(t *ftt.Test) {
			_, _, err := ParseV1(oid.SHA1, lines("deadbeef refs/heads/main\x00"))
			assert.Loosely(t, err, should.ErrLike(oid.ErrInvalidHash))
		})
	})
}

func TestParseV2Line(t *testing.T) {
	t.Parallel()

	ftt.Run(`ParseV2Line`, t, func(t *ftt.Test) {
		t.Run(`parses a bare ref`, func(t *ftt.Test) {
			ref, err := ParseV2Line(oid.SHA1, []byte(hexMain+" refs/heads/main"))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ref.ID.String(), should.Equal(hexMain))
			assert.Loosely(t, string(ref.Name), should.Equal("refs/heads/main"))
		})

		t.Run(`parses symref-target and peeled attributes`, func(t *ftt.Test) {
			ref, err := ParseV2Line(oid.SHA1, []byte(
				hexTag+" refs/tags/v1.0 symref-target:refs/heads/main peeled:"+hexHead))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, ref.SymrefTarget, should.Equal("refs/heads/main"))
			assert.Loosely(t, ref.Peeled, should.NotBeNil)
			assert.Loosely(t, ref.Peeled.String(), should.Equal(hexHead))
		})

		t.Run(`skips unknown attributes`, func(t *ftt.Test) {
			ref, err := ParseV2Line(oid.SHA1, []byte(hexMain+" refs/heads/main future:stuff"))
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, string(ref.Name), should.Equal("refs/heads/main"))
		})

		t.Run(`rejects a colonless attribute`, func(t *ftt.Test) {
			_, err := ParseV2Line(oid.SHA1, []byte(hexMain+" refs/heads/main bogus"))
			assert.Loosely(t, err, should.ErrLike(ErrMalformedRef))
		})

		t.Run(`rejects a one-field line`, func(t *ftt.Test) {
			_, err := ParseV2Line(oid.SHA1, []byte(hexMain))
			assert.Loosely(t, err, should.ErrLike(ErrMalformedRef))
		})
	})
}

func TestSHA256Advertisement(t *testing.T) {
	t.Parallel()

	ftt.Run(`parses a SHA-256 advertisement`, t, func(t *ftt.Test) {
		id := strings.Repeat("ab", 32)
		refs, _, err := ParseV1(oid.SHA256, lines(id+" refs/heads/main\x00object-format=sha256"))
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, refs, should.HaveLength(1))
		assert.Loosely(t, refs[0].ID.Format(), should.Equal(oid.SHA256))
	})
}
