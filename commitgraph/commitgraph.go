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

// Package commitgraph reads and writes the commit-graph binary file:
// a supplemental commit-metadata index that accelerates reachability
// walks. It is an independent subsystem sharing no code or state with
// the protocol engine.
package commitgraph

import (
	"encoding/binary"
	"sort"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/gitwire/oid"
)

// ErrCorrupt is returned when the file fails structural validation.
var ErrCorrupt = errors.New("corrupt commit-graph file")

// File layout constants.
const (
	magic = "CGPH"

	fileVersion = 1

	hashSHA1   = 1
	hashSHA256 = 2

	chunkFanout = "OIDF"
	chunkLookup = "OIDL"
	chunkData   = "CDAT"
	chunkEdges  = "EDGE"

	// Per-commit CDAT payload past the tree id: two parent slots and
	// the packed generation/commit-time word.
	commitDataTail = 4 + 4 + 8

	// parentNone marks an empty parent slot.
	parentNone = 0x70000000
	// parentOctopus flags a parent slot holding an EDGE chunk index.
	parentOctopus = 0x80000000
	// edgeLast terminates an octopus parent run in the EDGE chunk.
	edgeLast = 0x80000000

	// genShift splits the packed uint64: generation above, commit time
	// (34 bits) below.
	genShift = 34
)

// CommitData is the per-commit payload stored in the graph.
type CommitData struct {
	Tree       oid.ID
	Parents    []oid.ID
	Generation uint64
	CommitTime int64
}

// Graph is a parsed commit-graph file. It is immutable and safe for
// concurrent readers.
type Graph struct {
	format oid.Format

	fanout [256]uint32
	lookup []byte // NumCommits fixed-width ids, sorted
	data   []byte // NumCommits commit records
	edges  []byte // optional octopus overflow
}

// Parse validates and indexes buf. The returned Graph references buf;
// the caller must not mutate it.
func Parse(buf []byte) (*Graph, error) {
	if len(buf) < 8 || string(buf[:4]) != magic {
		return nil, errors.Fmt("%w: bad magic", ErrCorrupt)
	}
	if buf[4] != fileVersion {
		return nil, errors.Fmt("%w: unsupported version %d", ErrCorrupt, buf[4])
	}
	g := &Graph{}
	switch buf[5] {
	case hashSHA1:
		g.format = oid.SHA1
	case hashSHA256:
		g.format = oid.SHA256
	default:
		return nil, errors.Fmt("%w: unknown hash version %d", ErrCorrupt, buf[5])
	}
	nChunks := int(buf[6])
	// buf[7] is the base-graph count; chained graphs are not produced
	// by this package and not consumed either.
	if buf[7] != 0 {
		return nil, errors.Fmt("%w: chained graphs unsupported", ErrCorrupt)
	}

	tocEnd := 8 + (nChunks+1)*12
	if len(buf) < tocEnd {
		return nil, errors.Fmt("%w: truncated chunk table", ErrCorrupt)
	}
	type span struct{ start, end uint64 }
	chunks := map[string]span{}
	for i := 0; i < nChunks; i++ {
		off := 8 + i*12
		id := string(buf[off : off+4])
		start := binary.BigEndian.Uint64(buf[off+4 : off+12])
		end := binary.BigEndian.Uint64(buf[off+16 : off+24])
		if start > end || end > uint64(len(buf)) {
			return nil, errors.Fmt("%w: chunk %q spans %d..%d beyond %d bytes", ErrCorrupt, id, start, end, len(buf))
		}
		chunks[id] = span{start, end}
	}

	fanout, ok := chunks[chunkFanout]
	if !ok || fanout.end-fanout.start != 256*4 {
		return nil, errors.Fmt("%w: missing or missized OIDF chunk", ErrCorrupt)
	}
	for i := range g.fanout {
		g.fanout[i] = binary.BigEndian.Uint32(buf[fanout.start+uint64(i)*4:])
	}
	n := int(g.fanout[255])

	idLen := g.format.Size()
	lookup, ok := chunks[chunkLookup]
	if !ok || lookup.end-lookup.start != uint64(n*idLen) {
		return nil, errors.Fmt("%w: missing or missized OIDL chunk", ErrCorrupt)
	}
	g.lookup = buf[lookup.start:lookup.end]

	data, ok := chunks[chunkData]
	if !ok || data.end-data.start != uint64(n*(idLen+commitDataTail)) {
		return nil, errors.Fmt("%w: missing or missized CDAT chunk", ErrCorrupt)
	}
	g.data = buf[data.start:data.end]

	if edges, ok := chunks[chunkEdges]; ok {
		if (edges.end-edges.start)%4 != 0 {
			return nil, errors.Fmt("%w: misaligned EDGE chunk", ErrCorrupt)
		}
		g.edges = buf[edges.start:edges.end]
	}
	return g, nil
}

// Format returns the id format the graph was written with.
func (g *Graph) Format() oid.Format { return g.format }

// NumCommits returns the number of indexed commits.
func (g *Graph) NumCommits() int { return int(g.fanout[255]) }

// OID returns the id at lexicographic position i.
func (g *Graph) OID(i int) (oid.ID, error) {
	if i < 0 || i >= g.NumCommits() {
		return oid.ID{}, errors.Fmt("%w: position %d of %d", ErrCorrupt, i, g.NumCommits())
	}
	idLen := g.format.Size()
	id, err := oid.FromBytes(g.format, g.lookup[i*idLen:(i+1)*idLen])
	if err != nil {
		return oid.ID{}, err
	}
	return id, nil
}

// Lookup returns the position of id, if indexed.
func (g *Graph) Lookup(id oid.ID) (int, bool) {
	if id.Format() != g.format {
		return 0, false
	}
	raw := id.Bytes()
	idLen := g.format.Size()
	lo := 0
	if raw[0] > 0 {
		lo = int(g.fanout[raw[0]-1])
	}
	hi := int(g.fanout[raw[0]])
	i := lo + sort.Search(hi-lo, func(k int) bool {
		return string(g.lookup[(lo+k)*idLen:(lo+k+1)*idLen]) >= string(raw)
	})
	if i < hi && string(g.lookup[i*idLen:(i+1)*idLen]) == string(raw) {
		return i, true
	}
	return 0, false
}

// Commit returns the metadata of the commit at position i.
func (g *Graph) Commit(i int) (CommitData, error) {
	if i < 0 || i >= g.NumCommits() {
		return CommitData{}, errors.Fmt("%w: position %d of %d", ErrCorrupt, i, g.NumCommits())
	}
	idLen := g.format.Size()
	rec := g.data[i*(idLen+commitDataTail) : (i+1)*(idLen+commitDataTail)]

	tree, err := oid.FromBytes(g.format, rec[:idLen])
	if err != nil {
		return CommitData{}, err
	}
	cd := CommitData{Tree: tree}

	p1 := binary.BigEndian.Uint32(rec[idLen:])
	p2 := binary.BigEndian.Uint32(rec[idLen+4:])
	if p1 != parentNone {
		id, err := g.OID(int(p1))
		if err != nil {
			return CommitData{}, err
		}
		cd.Parents = append(cd.Parents, id)
	}
	switch {
	case p2 == parentNone:
	case p2&parentOctopus != 0:
		more, err := g.octopusParents(int(p2 &^ parentOctopus))
		if err != nil {
			return CommitData{}, err
		}
		cd.Parents = append(cd.Parents, more...)
	default:
		id, err := g.OID(int(p2))
		if err != nil {
			return CommitData{}, err
		}
		cd.Parents = append(cd.Parents, id)
	}

	packed := binary.BigEndian.Uint64(rec[idLen+8:])
	cd.Generation = packed >> genShift
	cd.CommitTime = int64(packed & (1<<genShift - 1))
	return cd, nil
}

// octopusParents walks the EDGE chunk from the given index.
func (g *Graph) octopusParents(start int) ([]oid.ID, error) {
	var out []oid.ID
	for i := start; ; i++ {
		if (i+1)*4 > len(g.edges) {
			return nil, errors.Fmt("%w: EDGE run at %d exceeds chunk", ErrCorrupt, start)
		}
		v := binary.BigEndian.Uint32(g.edges[i*4:])
		id, err := g.OID(int(v &^ edgeLast))
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		if v&edgeLast != 0 {
			return out, nil
		}
	}
}
