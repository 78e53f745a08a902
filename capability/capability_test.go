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

package capability

import (
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestParse(t *testing.T) {
	t.Parallel()

	ftt.Run(`Parse`, t, func(t *ftt.Test) {
		t.Run(`splits tokens and values`, func(t *ftt.Test) {
			s, err := Parse("multi_ack_detailed side-band-64k agent=git/2.40.0")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.Len(), should.Equal(3))
			assert.Loosely(t, s.Supports("multi_ack_detailed"), should.BeTrue)
			assert.Loosely(t, s.Supports("side-band-64k"), should.BeTrue)
			assert.Loosely(t, s.Supports("side-band"), should.BeFalse)

			agent, ok := s.Value("agent")
			assert.Loosely(t, ok, should.BeTrue)
			assert.Loosely(t, agent, should.Equal("git/2.40.0"))

			_, ok = s.Value("thin-pack")
			assert.Loosely(t, ok, should.BeFalse)
		})

		t.Run(`tolerates arbitrary whitespace`, func(t *ftt.Test) {
			s, err := Parse("  multi_ack \t ofs-delta ")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.Len(), should.Equal(2))
		})

		t.Run(`an empty string is an empty set`, func(t *ftt.Test) {
			s, err := Parse("")
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.Len(), should.BeZero)
			assert.Loosely(t, s.Supports("anything"), should.BeFalse)
		})

		t.Run(`rejects a valueless name`, func(t *ftt.Test) {
			_, err := Parse("ofs-delta =oops")
			assert.Loosely(t, err, should.ErrLike(ErrMalformed))
		})

		t.Run(`keeps the first value of a repeated name`, func(t *ftt.Test) {
			s, err := Parse("agent=first agent=second")
			assert.Loosely(t, err, should.BeNil)
			v, _ := s.Value("agent")
			assert.Loosely(t, v, should.Equal("first"))
		})
	})
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()

	ftt.Run(`String preserves advertisement order`, t, func(t *ftt.Test) {
		const raw = "report-status delete-refs side-band-64k agent=git/2.40.0 object-format=sha1"
		s, err := Parse(raw)
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, s.String(), should.Equal(raw))

		list := s.List()
		assert.Loosely(t, list, should.HaveLength(5))
		assert.Loosely(t, list[0].Name, should.Equal("report-status"))
		assert.Loosely(t, list[4], should.Match(Capability{Name: "object-format", Value: "sha1"}))
	})
}

func TestZeroValue(t *testing.T) {
	t.Parallel()

	ftt.Run(`the zero Set is empty and usable`, t, func(t *ftt.Test) {
		var s Set
		assert.Loosely(t, s.Len(), should.BeZero)
		assert.Loosely(t, s.Supports("x"), should.BeFalse)
		assert.Loosely(t, s.String(), should.BeBlank)

		assert.Loosely(t, s.Add("x", ""), should.BeTrue)
		assert.Loosely(t, s.Add("x", "dup"), should.BeFalse)
		assert.Loosely(t, s.Supports("x"), should.BeTrue)
	})
}

func TestNames(t *testing.T) {
	t.Parallel()

	ftt.Run(`Names returns the name set`, t, func(t *ftt.Test) {
		s, err := Parse("a b=1 c")
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, s.Names().ToSortedSlice(), should.Match([]string{"a", "b", "c"}))
	})
}

func TestAssertSupported(t *testing.T) {
	t.Parallel()

	ftt.Run(`AssertSupported`, t, func(t *ftt.Test) {
		s, err := Parse("multi_ack side-band")
		assert.Loosely(t, err, should.BeNil)

		assert.Loosely(t, s.AssertSupported(), should.BeNil)
		assert.Loosely(t, s.AssertSupported("side-band", "multi_ack"), should.BeNil)

		err = s.AssertSupported("side-band", "shallow", "thin-pack")
		assert.Loosely(t, err, should.ErrLike(ErrUnsupported))
		assert.Loosely(t, err, should.ErrLike("shallow"))
	})
}
