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
	"fmt"
	"runtime"

	"github.com/tempsdb/tempsdb/chunk"
	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/series"
)

// slot holds one sub-iterator's pending position, or nil when that
// sub-iterator is exhausted.
type slot struct {
	ts  uint64
	idx uint32
	c   chunk.Chunk
}

// Iterator performs an N-way timestamp-aligned join across the root and
// every overflow sub-series: root drives the walk, since a record's
// timestamp always appears there, and iteration stops once root is
// exhausted. A record only reaches sub-series k if it didn't fully fit in
// sub-series 0..k-1, so the sub-series holding a pending slot for timestamp
// T always form a contiguous prefix.
type Iterator struct {
	s *Series

	rootIt *series.RangeIterator
	subIts []*series.RangeIterator

	root *slot
	subs []*slot // subs[k] mirrors s.subs[k], nil when that sub has no pending slot

	closed bool
}

// IterateRange opens a join iterator over every record with
// start <= ts <= stop.
func (s *Series) IterateRange(start, stop uint64) (*Iterator, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil, fmt.Errorf("varlen: %s is closed: %w", s.dir, errors.ErrInvalidState)
	}

	rootIt, err := s.root.IterateRange(start, stop)
	if err != nil {
		return nil, err
	}
	subIts := make([]*series.RangeIterator, len(s.subs))
	for i, sub := range s.subs {
		it, err := sub.IterateRange(start, stop)
		if err != nil {
			rootIt.Close()
			for _, opened := range subIts[:i] {
				if opened != nil {
					opened.Close()
				}
			}
			return nil, err
		}
		subIts[i] = it
	}

	s.incref()
	it := &Iterator{
		s:      s,
		rootIt: rootIt,
		subIts: subIts,
		subs:   make([]*slot, len(subIts)),
	}
	if err := it.fillRoot(); err != nil {
		it.Close()
		return nil, err
	}
	for i := range it.subIts {
		if err := it.fillSub(i); err != nil {
			it.Close()
			return nil, err
		}
	}
	runtime.SetFinalizer(it, finalizeUnclosedIterator)
	return it, nil
}

func finalizeUnclosedIterator(it *Iterator) {
	if !it.closed {
		it.s.log.Warnf("varlen: range iterator garbage collected without Close()")
	}
}

func (it *Iterator) fillRoot() error {
	ts, idx, c, ok, err := it.rootIt.NextPos()
	if err != nil {
		return err
	}
	if !ok {
		it.root = nil
		return nil
	}
	c.Incref()
	it.root = &slot{ts: ts, idx: idx, c: c}
	return nil
}

func (it *Iterator) fillSub(i int) error {
	ts, idx, c, ok, err := it.subIts[i].NextPos()
	if err != nil {
		return err
	}
	if !ok {
		it.subs[i] = nil
		return nil
	}
	c.Incref()
	it.subs[i] = &slot{ts: ts, idx: idx, c: c}
	return nil
}

// Next returns the next joined record, or ok=false once root is exhausted.
// The returned *Entry must be closed by the caller.
func (it *Iterator) Next() (*Entry, bool, error) {
	if it.closed {
		return nil, false, fmt.Errorf("varlen: iterator is closed: %w", errors.ErrInvalidState)
	}
	if it.root == nil {
		return nil, false, nil
	}

	ts := it.root.ts
	e := &Entry{
		s:    it.s,
		ts:   ts,
		root: it.root.c,
		rIdx: it.root.idx,
		length: -1,
	}
	it.s.incref()

	if err := it.fillRoot(); err != nil {
		return nil, false, err
	}

	for i := 0; i < len(it.subs); i++ {
		sl := it.subs[i]
		if sl == nil || sl.ts != ts {
			break
		}
		e.subs = append(e.subs, sl.c)
		e.sIdx = append(e.sIdx, sl.idx)
		if err := it.fillSub(i); err != nil {
			return nil, false, err
		}
	}
	return e, true, nil
}

// Close releases every reference the iterator holds, including pending
// slots not yet consumed by Next, and the Series reference taken at open.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	if it.root != nil {
		it.root.c.Decref()
		it.root = nil
	}
	for i, sl := range it.subs {
		if sl != nil {
			sl.c.Decref()
			it.subs[i] = nil
		}
	}
	if it.rootIt != nil {
		it.rootIt.Close()
	}
	for _, sub := range it.subIts {
		if sub != nil {
			sub.Close()
		}
	}
	it.s.decref()
	it.closed = true
	runtime.SetFinalizer(it, nil)
	return nil
}
