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

// Package oid implements fixed-width git object identifiers with their
// hexadecimal wire encoding.
//
// An ID is a value type: it is cheap to copy and compare with ==. The
// format (SHA-1 or SHA-256) travels with the value so that mixed-format
// sessions fail loudly instead of silently truncating.
package oid

import (
	"encoding/hex"

	"go.chromium.org/luci/common/errors"
)

// ErrInvalidHash is returned when a hash fails to decode to the
// fixed width its format requires.
var ErrInvalidHash = errors.New("invalid object id")

// Format identifies the hash function an ID was produced with.
type Format int

const (
	// SHA1 is the 20-byte object format used by protocol version 0/1/2
	// servers unless object-format negotiation says otherwise.
	SHA1 Format = iota
	// SHA256 is the 32-byte object format.
	SHA256
)

// Size returns the binary width of ids of this format in bytes.
func (f Format) Size() int {
	if f == SHA256 {
		return 32
	}
	return 20
}

// HexSize returns the width of the text encoding of ids of this format.
func (f Format) HexSize() int { return f.Size() * 2 }

// String returns the capability-style name of the format.
func (f Format) String() string {
	if f == SHA256 {
		return "sha256"
	}
	return "sha1"
}

// maxSize is the largest Format.Size().
const maxSize = 32

// ID is a fixed-width binary object identifier.
//
// The zero value is the all-zero SHA-1 id, which the protocol uses as
// a sentinel ("no such object", ref creation/deletion in push).
type ID struct {
	format Format
	b      [maxSize]byte
}

// Parse decodes the hex text encoding of an id of the given format.
func Parse(f Format, text string) (ID, error) {
	if len(text) != f.HexSize() {
		return ID{}, errors.Fmt("%w: %q is not %d hex digits", ErrInvalidHash, text, f.HexSize())
	}
	var id ID
	id.format = f
	if _, err := hex.Decode(id.b[:f.Size()], []byte(text)); err != nil {
		return ID{}, errors.Fmt("%w: %q: %w", ErrInvalidHash, text, err)
	}
	return id, nil
}

// FromBytes builds an ID from its binary representation.
func FromBytes(f Format, raw []byte) (ID, error) {
	if len(raw) != f.Size() {
		return ID{}, errors.Fmt("%w: got %d bytes, want %d", ErrInvalidHash, len(raw), f.Size())
	}
	var id ID
	id.format = f
	copy(id.b[:], raw)
	return id, nil
}

// Zero returns the all-zero id of the given format.
func Zero(f Format) ID { return ID{format: f} }

// Format returns the hash format of the id.
func (id ID) Format() Format { return id.format }

// Bytes returns the binary representation of the id.
func (id ID) Bytes() []byte { return id.b[:id.format.Size()] }

// IsZero reports whether the id is all zero.
func (id ID) IsZero() bool {
	return id.b == [maxSize]byte{}
}

// String returns the lower-case hex encoding used on the wire.
func (id ID) String() string {
	return hex.EncodeToString(id.b[:id.format.Size()])
}
