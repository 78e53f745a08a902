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

// Package capability parses and represents the feature set a git
// server advertises, and validates client requests against it.
package capability

import (
	"strings"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
)

// ErrMalformed is returned when an advertised capability token cannot
// be parsed (empty name before "=").
var ErrMalformed = errors.New("malformed capability")

// ErrUnsupported is returned when the client requires a capability the
// server did not advertise.
var ErrUnsupported = errors.New("capability not supported by remote")

// Capability is one advertised feature: a name and an optional value
// ("multi_ack_detailed", "agent=git/2.28.0", "symref=HEAD:refs/heads/master").
type Capability struct {
	Name  string
	Value string // "" when the token carried no "="
}

// Set is a unique-by-name capability collection.
//
// Insertion order is preserved so that re-advertising (push) emits the
// tokens exactly as received. The zero value is an empty usable set.
type Set struct {
	caps  []Capability
	index map[string]int
}

// Parse splits raw on whitespace and each token on its first "=".
//
// Well-known multi-valued capabilities (symref) keep every occurrence'
// first-seen value; duplicate names otherwise keep the first token.
func Parse(raw string) (*Set, error) {
	s := &Set{}
	for _, tok := range strings.Fields(raw) {
		name, value, _ := strings.Cut(tok, "=")
		if name == "" {
			return nil, errors.Fmt("%w: token %q", ErrMalformed, tok)
		}
		s.Add(name, value)
	}
	return s, nil
}

// Add inserts a capability, keeping the first value for a repeated
// name. It reports whether the name was new.
func (s *Set) Add(name, value string) bool {
	if s.index == nil {
		s.index = map[string]int{}
	}
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = len(s.caps)
	s.caps = append(s.caps, Capability{Name: name, Value: value})
	return true
}

// Len returns the number of distinct capability names.
func (s *Set) Len() int { return len(s.caps) }

// Supports reports whether name was advertised.
func (s *Set) Supports(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Value returns the value advertised with name.
func (s *Set) Value(name string) (string, bool) {
	i, ok := s.index[name]
	if !ok {
		return "", false
	}
	return s.caps[i].Value, true
}

// List returns the capabilities in advertisement order.
func (s *Set) List() []Capability {
	out := make([]Capability, len(s.caps))
	copy(out, s.caps)
	return out
}

// Names returns the capability names as an unordered set.
func (s *Set) Names() stringset.Set {
	out := stringset.New(len(s.caps))
	for _, c := range s.caps {
		out.Add(c.Name)
	}
	return out
}

// String re-serializes the set, preserving token order and name/value
// pairing as received.
func (s *Set) String() string {
	var b strings.Builder
	for i, c := range s.caps {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Name)
		if c.Value != "" {
			b.WriteByte('=')
			b.WriteString(c.Value)
		}
	}
	return b.String()
}

// AssertSupported fails with ErrUnsupported naming the first missing
// requirement, in the order the caller listed them.
func (s *Set) AssertSupported(required ...string) error {
	for _, name := range required {
		if !s.Supports(name) {
			return errors.Fmt("%w: %q", ErrUnsupported, name)
		}
	}
	return nil
}
