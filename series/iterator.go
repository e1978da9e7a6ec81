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
package series

import (
	"fmt"
	"runtime"

	"github.com/tempsdb/tempsdb/chunk"
	"github.com/tempsdb/tempsdb/golibs/errors"
)

// RangeIterator walks the records of a fixed-length series whose timestamp
// falls within [start, stop], across however many chunks that span covers.
// It must be closed to release the chunk references it holds; an unclosed
// iterator logs a warning when garbage collected.
type RangeIterator struct {
	s          *Series
	start, stop uint64

	queue []chunk.Chunk
	qpos  int

	cur          chunk.Chunk
	i, limit     uint32
	isFirst      bool
	isLast       bool

	closed bool
}

// IterateRange opens every chunk that may hold a record with
// start <= ts <= stop, taking a reference on each, and returns an iterator
// over them in ascending timestamp order.
func (s *Series) IterateRange(start, stop uint64) (*RangeIterator, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.chunks) == 0 {
		return &RangeIterator{s: s}, nil
	}
	if start > stop {
		return nil, fmt.Errorf("series: range iterate start %d > stop %d: %w", start, stop, errors.ErrInvalid)
	}
	if start < s.chunks[0].minTs {
		start = s.chunks[0].minTs
	}
	if stop > s.lastEntryTs {
		stop = s.lastEntryTs
	}
	if start > stop {
		return &RangeIterator{s: s}, nil
	}

	firstIdx := s.indexOfChunkFor(start)
	lastIdx := s.indexOfChunkFor(stop)

	queue := make([]chunk.Chunk, 0, lastIdx-firstIdx+1)
	for idx := firstIdx; idx <= lastIdx; idx++ {
		info := s.chunks[idx]
		c, err := s.openChunkLocked(info.minTs, info.layout)
		if err != nil {
			for _, opened := range queue {
				opened.Decref()
			}
			return nil, err
		}
		queue = append(queue, c)
	}

	it := &RangeIterator{
		s:     s,
		start: start,
		stop:  stop,
		queue: queue,
	}
	runtime.SetFinalizer(it, finalizeUnclosedIterator)
	return it, nil
}

func finalizeUnclosedIterator(it *RangeIterator) {
	if !it.closed {
		it.s.log.Warnf("series: range iterator garbage collected without Close()")
	}
}

// Next returns the next (timestamp, payload) pair, or ok=false when the
// range is exhausted.
func (it *RangeIterator) Next() (ts uint64, data []byte, ok bool, err error) {
	if it.closed {
		return 0, nil, false, fmt.Errorf("series: iterator is closed: %w", errors.ErrInvalidState)
	}
	if it.cur == nil || it.i == it.limit {
		if !it.advance() {
			return 0, nil, false, nil
		}
	}
	ts, data, err = it.cur.PieceAt(it.i)
	if err != nil {
		return 0, nil, false, err
	}
	it.i++
	return ts, data, true, nil
}

// NextPos is Next's raw counterpart, used by the varlen package's N-way
// join: it returns the record's chunk and index within it instead of a
// decoded payload, so the caller can Incref the chunk itself and read from
// it lazily (e.g. only a size-field prefix) rather than copying the whole
// record up front. The returned chunk is still owned by the iterator (it
// will be Decref'd when the iterator advances past it or is closed); callers
// that need to keep it longer must Incref it themselves.
func (it *RangeIterator) NextPos() (ts uint64, idx uint32, c chunk.Chunk, ok bool, err error) {
	if it.closed {
		return 0, 0, nil, false, fmt.Errorf("series: iterator is closed: %w", errors.ErrInvalidState)
	}
	if it.cur == nil || it.i == it.limit {
		if !it.advance() {
			return 0, 0, nil, false, nil
		}
	}
	ts, err = it.cur.TimestampAt(it.i)
	if err != nil {
		return 0, 0, nil, false, err
	}
	idx = it.i
	c = it.cur
	it.i++
	return ts, idx, c, true, nil
}

// advance drops the reference on the current chunk (if any) and moves the
// cursor onto the next chunk in the queue, computing its (i, limit) window
// per its position (first/last/middle/both).
func (it *RangeIterator) advance() bool {
	if it.cur != nil {
		it.cur.Decref()
		it.cur = nil
	}
	if it.qpos >= len(it.queue) {
		return false
	}
	c := it.queue[it.qpos]
	isFirst := it.qpos == 0
	isLast := it.qpos == len(it.queue)-1
	it.qpos++

	switch {
	case isFirst && isLast:
		it.i = c.FindLeft(it.start)
		it.limit = c.FindRight(it.stop)
	case isFirst:
		it.i = c.FindLeft(it.start)
		it.limit = c.Entries()
	case isLast:
		it.i = 0
		it.limit = c.FindRight(it.stop)
	default:
		it.i = 0
		it.limit = c.Entries()
	}
	it.cur = c
	if it.i == it.limit {
		// This chunk contributes nothing to the range (possible when the
		// span's first/last chunk is entirely outside [start, stop]);
		// move straight on to the next one.
		return it.advance()
	}
	return true
}

// Close releases every chunk reference the iterator still holds.
func (it *RangeIterator) Close() error {
	if it.closed {
		return nil
	}
	if it.cur != nil {
		it.cur.Decref()
		it.cur = nil
	}
	for ; it.qpos < len(it.queue); it.qpos++ {
		it.queue[it.qpos].Decref()
	}
	it.closed = true
	runtime.SetFinalizer(it, nil)
	return nil
}
