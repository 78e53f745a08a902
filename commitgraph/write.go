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

package commitgraph

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/oid"
)

// CommitEntry is one commit to index.
type CommitEntry struct {
	ID         oid.ID
	Tree       oid.ID
	Parents    []oid.ID
	Generation uint64
	CommitTime int64
}

// Write serializes entries as a commit-graph file.
//
// Entries may arrive in any order; they are indexed sorted by id.
// Every parent must itself be an entry, since the format stores parent
// positions, not ids.
func Write(w io.Writer, format oid.Format, entries []CommitEntry) error {
	sorted := make([]CommitEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].ID.Bytes(), sorted[j].ID.Bytes()) < 0
	})

	pos := make(map[oid.ID]int, len(sorted))
	for i, e := range sorted {
		if e.ID.Format() != format {
			return errors.Fmt("entry %s has format %s, want %s", e.ID, e.ID.Format(), format)
		}
		if _, dup := pos[e.ID]; dup {
			return errors.Fmt("duplicate entry %s", e.ID)
		}
		pos[e.ID] = i
	}

	var fanout [256]uint32
	for _, e := range sorted {
		fanout[e.ID.Bytes()[0]]++
	}
	for i := 1; i < 256; i++ {
		fanout[i] += fanout[i-1]
	}

	idLen := format.Size()
	var cdat, edge bytes.Buffer
	for _, e := range sorted {
		cdat.Write(e.Tree.Bytes())

		p1, p2, err := parentSlots(e, pos, &edge)
		if err != nil {
			return err
		}
		var tail [16]byte
		binary.BigEndian.PutUint32(tail[0:], p1)
		binary.BigEndian.PutUint32(tail[4:], p2)
		if e.Generation >= 1<<(64-genShift) {
			return errors.Fmt("entry %s: generation %d does not fit", e.ID, e.Generation)
		}
		if e.CommitTime < 0 || e.CommitTime >= 1<<genShift {
			return errors.Fmt("entry %s: commit time %d does not fit", e.ID, e.CommitTime)
		}
		binary.BigEndian.PutUint64(tail[8:], e.Generation<<genShift|uint64(e.CommitTime))
		cdat.Write(tail[:])
	}

	chunks := []struct {
		id   string
		size int
	}{
		{chunkFanout, 256 * 4},
		{chunkLookup, len(sorted) * idLen},
		{chunkData, cdat.Len()},
	}
	if edge.Len() > 0 {
		chunks = append(chunks, struct {
			id   string
			size int
		}{chunkEdges, edge.Len()})
	}

	var out bytes.Buffer
	out.WriteString(magic)
	hashVersion := byte(hashSHA1)
	if format == oid.SHA256 {
		hashVersion = hashSHA256
	}
	out.Write([]byte{fileVersion, hashVersion, byte(len(chunks)), 0})

	offset := uint64(8 + (len(chunks)+1)*12)
	for _, c := range chunks {
		out.WriteString(c.id)
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], offset)
		out.Write(off[:])
		offset += uint64(c.size)
	}
	// Terminating TOC entry: zero id, end-of-file offset.
	out.Write(make([]byte, 4))
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], offset)
	out.Write(off[:])

	for i := range fanout {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], fanout[i])
		out.Write(v[:])
	}
	for _, e := range sorted {
		out.Write(e.ID.Bytes())
	}
	out.Write(cdat.Bytes())
	out.Write(edge.Bytes())

	_, err := w.Write(out.Bytes())
	return err
}

// parentSlots encodes an entry's parents into the two CDAT slots,
// spilling octopus merges into the EDGE chunk.
func parentSlots(e CommitEntry, pos map[oid.ID]int, edge *bytes.Buffer) (p1, p2 uint32, err error) {
	resolve := func(id oid.ID) (uint32, error) {
		i, ok := pos[id]
		if !ok {
			return 0, errors.Fmt("entry %s: parent %s not indexed", e.ID, id)
		}
		return uint32(i), nil
	}

	p1, p2 = parentNone, parentNone
	switch len(e.Parents) {
	case 0:
	case 1:
		if p1, err = resolve(e.Parents[0]); err != nil {
			return 0, 0, err
		}
	case 2:
		if p1, err = resolve(e.Parents[0]); err != nil {
			return 0, 0, err
		}
		if p2, err = resolve(e.Parents[1]); err != nil {
			return 0, 0, err
		}
	default:
		if p1, err = resolve(e.Parents[0]); err != nil {
			return 0, 0, err
		}
		p2 = parentOctopus | uint32(edge.Len()/4)
		for i, parent := range e.Parents[1:] {
			v, err := resolve(parent)
			if err != nil {
				return 0, 0, err
			}
			if i == len(e.Parents)-2 {
				v |= edgeLast
			}
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], v)
			edge.Write(b[:])
		}
	}
	return p1, p2, nil
}
