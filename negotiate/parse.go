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

package negotiate

import (
	"bytes"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/oid"
)

type lineKind int

const (
	lineNak lineKind = iota
	lineAck
	lineReady // v2 bare "ready"
	lineShallow
	lineUnshallow
)

type parsedLine struct {
	kind   lineKind
	id     oid.ID
	status AckStatus
}

// parseLine classifies one negotiation response line. Parsing errors
// are never recovered: every malformed line aborts with the offending
// bytes attached so a misbehaving server can be diagnosed.
func parseLine(format oid.Format, line []byte) (parsedLine, error) {
	word, rest, _ := bytes.Cut(line, []byte{' '})
	switch string(word) {
	case "NAK":
		if len(rest) != 0 {
			return parsedLine{}, errors.Fmt("%w: trailing data on NAK: %q", ErrProtocolViolation, line)
		}
		return parsedLine{kind: lineNak}, nil

	case "ready":
		if len(rest) != 0 {
			return parsedLine{}, errors.Fmt("%w: trailing data on ready: %q", ErrProtocolViolation, line)
		}
		return parsedLine{kind: lineReady}, nil

	case "ACK":
		hexID, qual, _ := bytes.Cut(rest, []byte{' '})
		id, err := oid.Parse(format, string(hexID))
		if err != nil {
			return parsedLine{}, errors.Fmt("%w: %q: %w", ErrProtocolViolation, line, err)
		}
		status := AckPlain
		switch string(qual) {
		case "":
		case "continue":
			status = AckContinue
		case "common":
			status = AckCommon
		case "ready":
			status = AckReady
		default:
			// Qualifiers outside the protocol definition are not guessed at.
			return parsedLine{}, errors.Fmt("%w: unknown ACK qualifier in %q", ErrProtocolViolation, line)
		}
		return parsedLine{kind: lineAck, id: id, status: status}, nil

	case "shallow", "unshallow":
		id, err := oid.Parse(format, string(rest))
		if err != nil {
			return parsedLine{}, errors.Fmt("%w: %q: %w", ErrProtocolViolation, line, err)
		}
		k := lineShallow
		if string(word) == "unshallow" {
			k = lineUnshallow
		}
		return parsedLine{kind: k, id: id}, nil

	case "ERR":
		// Servers may abort any phase with an ERR line.
		return parsedLine{}, errors.Fmt("remote error: %s", rest)

	default:
		return parsedLine{}, errors.Fmt("%w: unexpected line %q", ErrProtocolViolation, line)
	}
}
