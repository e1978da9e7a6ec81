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

	"github.com/tempsdb/tempsdb/chunk"
	"github.com/tempsdb/tempsdb/golibs/errors"
)

// openChunkLocked returns the cached handle for minTs or opens and caches
// one, incrementing its reference count. Callers must hold s.lock. Gzip
// without direct is rejected with ErrInvalid.
func (s *Series) openChunkLocked(minTs uint64, l chunk.Layout) (chunk.Chunk, error) {
	if l.Gzip && !l.Direct {
		return nil, fmt.Errorf("series: gzip chunk %d must also be direct: %w", minTs, errors.ErrInvalid)
	}
	if c, ok := s.openChunks[minTs]; ok {
		c.Incref()
		return c, nil
	}
	c, err := chunk.Open(s, minTs, l, s.options())
	if err != nil {
		return nil, err
	}
	c.Incref()
	s.openChunks[minTs] = c
	return c, nil
}

// closeChunks walks open_chunks and closes every chunk, other than
// last_chunk, whose reference count has dropped to zero.
func (s *Series) closeChunks() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeChunksLocked()
}

func (s *Series) closeChunksLocked() {
	for ts, c := range s.openChunks {
		if s.lastChunk != nil && c == s.lastChunk {
			continue
		}
		if s.refCount(ts) != 0 {
			continue
		}
		if err := c.Close(false); err != nil {
			s.log.Warnf("series: closing idle chunk %d: %v", ts, err)
			continue
		}
		delete(s.openChunks, ts)
		s.deleteRef(ts)
	}
}

// sweepToLocked is closeChunks' generalization for the pressure hook: it
// closes idle chunks until at most target remain open, oldest first.
func (s *Series) sweepToLocked(target int) {
	if target < 0 {
		target = 0
	}
	for _, info := range s.chunks {
		if len(s.openChunks) <= target {
			break
		}
		ts := info.minTs
		c, ok := s.openChunks[ts]
		if !ok {
			continue
		}
		if s.lastChunk != nil && c == s.lastChunk {
			continue
		}
		if s.refCount(ts) != 0 {
			continue
		}
		if err := c.Close(false); err != nil {
			s.log.Warnf("series: evicting chunk %d under pressure: %v", ts, err)
			continue
		}
		delete(s.openChunks, ts)
		s.deleteRef(ts)
	}
}

// ApplyPressureHook invokes the registered pressure hook, if any, and sweeps
// open_chunks down to the size it returns.
func (s *Series) ApplyPressureHook() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.pressureHook == nil {
		return
	}
	target := s.pressureHook()
	s.sweepToLocked(target)
}

// Trim deletes chunks older than threshold_ts as long as they have no
// outstanding references, stopping at the first chunk that is still
// referenced (its entries, and everything after it, survive until
// eviction).
func (s *Series) Trim(thresholdTs uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for len(s.chunks) >= 2 && s.chunks[1].minTs < thresholdTs {
		head := s.chunks[0]
		if s.refCount(head.minTs) != 0 {
			break
		}
		c, ok := s.openChunks[head.minTs]
		if !ok {
			var err error
			c, err = chunk.Open(s, head.minTs, head.layout, s.options())
			if err != nil {
				return err
			}
		} else {
			delete(s.openChunks, head.minTs)
		}
		if err := c.Delete(); err != nil {
			return err
		}
		s.deleteRef(head.minTs)
		s.chunks = s.chunks[1:]
	}
	return nil
}

// indexOfChunkFor returns the smallest i such that chunks[i+1].min_ts > ts,
// i.e. the chunk that may contain ts (the last chunk is returned for any ts
// at or beyond its min_ts).
func (s *Series) indexOfChunkFor(ts uint64) int {
	lo, hi := 0, len(s.chunks)-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if s.chunks[mid].minTs <= ts {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
