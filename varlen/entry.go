// Copyright 2024 The tempsdb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package varlen

import (
	"bytes"
	"fmt"
	"hash/fnv"

	"github.com/tempsdb/tempsdb/chunk"
	"github.com/tempsdb/tempsdb/golibs/errors"
)

// Entry is a lazy view over one variable-length record: it holds references
// to the root chunk and every sub-series chunk the record spans, and only
// reads bytes off disk when asked. It must be closed to release those
// references.
type Entry struct {
	s    *Series
	ts   uint64
	root chunk.Chunk
	rIdx uint32
	subs []chunk.Chunk
	sIdx []uint32

	length int // -1 until first computed
	closed bool
}

// Timestamp returns the record's timestamp.
func (e *Entry) Timestamp() uint64 { return e.ts }

// Length returns the record's byte length, decoding the root's size-field
// prefix on first call and caching the result.
func (e *Entry) Length() (int, error) {
	if e.length >= 0 {
		return e.length, nil
	}
	prefix, err := e.root.SliceAt(e.rIdx, 0, e.s.sizeField)
	if err != nil {
		return 0, err
	}
	e.length = decodeSize(e.s.sizeField, prefix)
	return e.length, nil
}

// Bytes reconstructs and returns the full record payload.
func (e *Entry) Bytes() ([]byte, error) {
	n, err := e.Length()
	if err != nil {
		return nil, err
	}
	return e.slice(0, n)
}

// ByteAt returns the byte at logical offset i within the record.
func (e *Entry) ByteAt(i int) (byte, error) {
	b, err := e.slice(i, i+1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Slice returns record bytes [start, stop).
func (e *Entry) Slice(start, stop int) ([]byte, error) {
	return e.slice(start, stop)
}

// StartsWith reports whether the record's payload begins with prefix,
// reading only as many leading bytes as prefix needs.
func (e *Entry) StartsWith(prefix []byte) (bool, error) {
	n, err := e.Length()
	if err != nil {
		return false, err
	}
	if len(prefix) > n {
		return false, nil
	}
	got, err := e.slice(0, len(prefix))
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, prefix), nil
}

// EndsWith reports whether the record's payload ends with suffix, reading
// only as many trailing bytes as suffix needs.
func (e *Entry) EndsWith(suffix []byte) (bool, error) {
	n, err := e.Length()
	if err != nil {
		return false, err
	}
	if len(suffix) > n {
		return false, nil
	}
	got, err := e.slice(n-len(suffix), n)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, suffix), nil
}

// Equal reports whether the record's payload equals other.
func (e *Entry) Equal(other []byte) (bool, error) {
	n, err := e.Length()
	if err != nil {
		return false, err
	}
	if n != len(other) {
		return false, nil
	}
	got, err := e.slice(0, n)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, other), nil
}

// Compare orders the record's payload against other the way bytes.Compare
// does.
func (e *Entry) Compare(other []byte) (int, error) {
	got, err := e.Bytes()
	if err != nil {
		return 0, err
	}
	return bytes.Compare(got, other), nil
}

// Hash returns an FNV-1a hash of the record's payload.
func (e *Entry) Hash() (uint64, error) {
	got, err := e.Bytes()
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	h.Write(got)
	return h.Sum64(), nil
}

// slice reads logical record bytes [start, stop), fanning out across the
// root (after its size-field prefix) and however many sub-series chunks the
// range touches.
func (e *Entry) slice(start, stop int) ([]byte, error) {
	if e.closed {
		return nil, fmt.Errorf("varlen: entry is closed: %w", errors.ErrInvalidState)
	}
	n, err := e.Length()
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > n || start > stop {
		return nil, fmt.Errorf("varlen: slice [%d,%d) out of range [0,%d): %w", start, stop, n, errors.ErrInvalid)
	}
	out := make([]byte, 0, stop-start)

	p0 := e.s.profile[0]
	segStart, segEnd := 0, p0
	if lo, hi := max(start, segStart), min(stop, segEnd); lo < hi {
		b, err := e.root.SliceAt(e.rIdx, e.s.sizeField+lo-segStart, e.s.sizeField+hi-segStart)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}

	pos := segEnd
	for k := 1; pos < stop && k <= len(e.subs); k++ {
		width := profileAt(e.s.profile, k)
		segStart, segEnd = pos, pos+width
		if lo, hi := max(start, segStart), min(stop, segEnd); lo < hi {
			b, err := e.subs[k-1].SliceAt(e.sIdx[k-1], lo-segStart, hi-segStart)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		pos = segEnd
	}
	return out, nil
}

// Close releases the references this entry holds on the root and sub chunks
// it spans.
func (e *Entry) Close() error {
	if e.closed {
		return nil
	}
	e.root.Decref()
	for _, c := range e.subs {
		c.Decref()
	}
	e.s.decref()
	e.closed = true
	return nil
}
