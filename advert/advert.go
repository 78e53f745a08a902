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

// Package advert parses git ref advertisements: the v0/v1 listing that
// flows immediately on connect, and the per-line v2 ls-refs response.
package advert

import (
	"bytes"
	"strings"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/capability"
	"go.chromium.org/gitwire/oid"
)

// ErrMalformedRef is returned when an advertisement line cannot be
// split into a hash and a ref name.
var ErrMalformedRef = errors.New("malformed ref advertisement line")

// peeledSuffix marks an entry that attaches to the preceding ref as
// its peeled (fully-dereferenced annotated tag) target.
const peeledSuffix = "^{}"

// capsSentinel is the ref name a server advertises, with the all-zero
// id, when it has no refs at all but still must advertise capabilities.
const capsSentinel = "capabilities" + peeledSuffix

// Ref is one advertised remote reference.
//
// Name is a byte string: git ref names are not required to be valid
// text. A Ref is immutable once returned and owned by the caller.
type Ref struct {
	ID   oid.ID
	Name []byte

	// Peeled is the target of an annotated tag, when advertised.
	Peeled *oid.ID

	// SymrefTarget is the name a symbolic ref points at (v2 only).
	SymrefTarget string
}

// ParseV1 parses a v0/v1 advertisement from decoded lines (line
// terminators already stripped, terminating flush already consumed).
//
// The first line carries the capability list after a NUL. An
// advertisement of exactly one zero-id "capabilities^{}" entry means
// "no refs": the result is an empty ref list plus the capabilities.
// Refs are returned in the order received.
func ParseV1(format oid.Format, lines [][]byte) ([]Ref, *capability.Set, error) {
	caps := &capability.Set{}
	var refs []Ref
	for i, line := range lines {
		if i == 0 {
			head, capText, hasNUL := bytes.Cut(line, []byte{0})
			if !hasNUL {
				// v0 servers predating capability advertisement.
				capText = nil
			}
			var err error
			if caps, err = capability.Parse(string(capText)); err != nil {
				return nil, nil, err
			}
			ref, err := parseEntry(format, head)
			if err != nil {
				return nil, nil, err
			}
			if string(ref.Name) == capsSentinel && ref.ID.IsZero() {
				if len(lines) > 1 {
					return nil, nil, errors.Fmt("%w: refs after capabilities^{} sentinel", ErrMalformedRef)
				}
				return nil, caps, nil
			}
			refs = append(refs, ref)
			continue
		}
		ref, err := parseEntry(format, line)
		if err != nil {
			return nil, nil, err
		}
		if name, ok := bytes.CutSuffix(ref.Name, []byte(peeledSuffix)); ok {
			if len(refs) == 0 || !bytes.Equal(refs[len(refs)-1].Name, name) {
				return nil, nil, errors.Fmt("%w: peeled entry %q without matching ref", ErrMalformedRef, ref.Name)
			}
			id := ref.ID
			refs[len(refs)-1].Peeled = &id
			continue
		}
		refs = append(refs, ref)
	}
	return refs, caps, nil
}

// parseEntry splits "<hash> <name>".
func parseEntry(format oid.Format, line []byte) (Ref, error) {
	hexID, name, ok := bytes.Cut(line, []byte{' '})
	if !ok || len(name) == 0 {
		return Ref{}, errors.Fmt("%w: %q", ErrMalformedRef, line)
	}
	id, err := oid.Parse(format, string(hexID))
	if err != nil {
		return Ref{}, errors.Fmt("ref %q: %w", name, err)
	}
	return Ref{ID: id, Name: append([]byte(nil), name...)}, nil
}

// ParseV2Line parses one ls-refs response line:
//
//	<hash> <name>[ symref-target:<name>][ peeled:<hash>]
func ParseV2Line(format oid.Format, line []byte) (Ref, error) {
	fields := bytes.Split(line, []byte{' '})
	if len(fields) < 2 {
		return Ref{}, errors.Fmt("%w: %q", ErrMalformedRef, line)
	}
	id, err := oid.Parse(format, string(fields[0]))
	if err != nil {
		return Ref{}, errors.Fmt("ref %q: %w", fields[1], err)
	}
	ref := Ref{ID: id, Name: append([]byte(nil), fields[1]...)}
	for _, attr := range fields[2:] {
		name, value, ok := strings.Cut(string(attr), ":")
		if !ok {
			return Ref{}, errors.Fmt("%w: attribute %q on %q", ErrMalformedRef, attr, line)
		}
		switch name {
		case "symref-target":
			ref.SymrefTarget = value
		case "peeled":
			peeled, err := oid.Parse(format, value)
			if err != nil {
				return Ref{}, errors.Fmt("peeled attribute on %q: %w", ref.Name, err)
			}
			ref.Peeled = &peeled
		default:
			// Servers may grow new attributes; unknown ones are skipped the
			// same way git clients skip them.
		}
	}
	return ref, nil
}
