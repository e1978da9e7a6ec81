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

// Package chunk implements the on-disk chunk format: a file holding a
// contiguous run of (timestamp, fixed-size payload) records sharing one
// record size. A chunk is either Normal (preallocated one page ahead, a
// trailing entries footer) or Direct (extends exactly per append, optionally
// gzip-framed).
package chunk

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/logging"
)

// headerSize is the on-disk header: a little-endian uint32 block_size
// followed by a little-endian uint64 min_ts. Record 0's payload begins
// immediately after it; record 0 carries no separate timestamp field of its
// own, since min_ts already names it. Records 1..N-1 are full
// (timestamp, payload) pairs.
const headerSize = 4 + 8

// footerSize is the trailing entries counter written by Normal chunks only.
const footerSize = 4

type (
	// Owner is the back-reference a chunk holds to its owning series, used
	// only to keep the series' reference-count table in sync. It is a weak
	// relation: the chunk must never extend the series' lifetime.
	Owner interface {
		// BumpRef adjusts the refcount for the chunk named minTs by delta
		// and returns the updated count.
		BumpRef(minTs uint64, delta int) int
	}

	// Chunk is the common read/write/lifecycle contract shared by normal and
	// direct (gzip or not) layouts.
	Chunk interface {
		// MinTs returns the timestamp of record 0.
		MinTs() uint64
		// MaxTs returns the timestamp of the last record, or MinTs if empty... (never empty once created)
		MaxTs() uint64
		// Entries returns the number of valid records.
		Entries() uint32
		// BlockSize returns the fixed payload size in bytes.
		BlockSize() uint32
		// IsDirect reports whether this is a direct-layout chunk.
		IsDirect() bool
		// IsGzip reports whether this is a gzip-framed direct chunk.
		IsGzip() bool
		// Mapped reports whether the chunk is currently memory-mapped.
		Mapped() bool
		// FileSize returns the current on-disk file size.
		FileSize() int64

		// TimestampAt returns the timestamp of record i.
		TimestampAt(i uint32) (uint64, error)
		// ValueAt returns the payload of record i.
		ValueAt(i uint32) ([]byte, error)
		// PieceAt returns (timestamp, payload) for record i.
		PieceAt(i uint32) (uint64, []byte, error)
		// SliceAt returns payload bytes [start, stop) of record i.
		SliceAt(i uint32, start, stop int) ([]byte, error)
		// ByteOfPiece returns payload byte k of record i.
		ByteOfPiece(i uint32, k int) (byte, error)
		// FindLeft returns the smallest i with TimestampAt(i) >= ts, or Entries() if none.
		FindLeft(ts uint64) uint32
		// FindRight returns the smallest i with TimestampAt(i) > ts.
		FindRight(ts uint64) uint32

		// Append adds a new record. Requires ts > MaxTs() and len(data) == BlockSize().
		Append(ts uint64, data []byte) error

		// Incref increments the owning series' reference count for this chunk.
		Incref()
		// Decref decrements the owning series' reference count for this chunk.
		Decref()

		// SwitchToDescriptorBasedAccess forces descriptor-based I/O.
		SwitchToDescriptorBasedAccess() error
		// SwitchToMmapBasedAccess attempts to switch back to memory-mapped I/O;
		// it is a no-op (returns nil) if mapping is not currently possible.
		SwitchToMmapBasedAccess() error

		// Close closes the chunk. It fails with ErrStillOpen if references
		// remain outstanding, unless force is set.
		Close(force bool) error
		// Delete closes the chunk (forced) and unlinks its file.
		Delete() error
	}

	// base holds the fields and logic shared by every chunk layout: record
	// indexing, bisection, and reference-count bookkeeping. It is embedded,
	// not used standalone.
	base struct {
		lock      sync.Mutex
		log       logging.Logger
		path      string
		owner     Owner
		minTs     uint64
		maxTs     uint64
		entries   uint32
		blockSize uint32
		closed    bool
	}
)

// stride is the on-disk span of a record that carries its own timestamp
// field, i.e. every record except record 0.
func stride(blockSize uint32) int64 {
	return 8 + int64(blockSize)
}

// valueOffset returns the offset of record i's payload. Record 0's payload
// sits directly after the header; every later record is preceded by its own
// 8-byte timestamp.
func valueOffset(blockSize uint32, i uint32) int64 {
	if i == 0 {
		return headerSize
	}
	return headerSize + int64(blockSize) + int64(i-1)*stride(blockSize)
}

// recordOffset returns the offset of record i's on-disk (timestamp, payload)
// pair for i >= 1. It must not be called for i == 0, which has no
// timestamp field of its own.
func recordOffset(blockSize uint32, i uint32) int64 {
	return valueOffset(blockSize, i) - 8
}

// sizeForEntries returns the total byte span occupied by the header plus
// `entries` records (entries must be >= 1, since a chunk always holds at
// least its seed record).
func sizeForEntries(blockSize uint32, entries uint32) int64 {
	return headerSize + int64(blockSize) + int64(entries-1)*stride(blockSize)
}

func (b *base) MinTs() uint64     { return b.minTs }
func (b *base) MaxTs() uint64     { return b.maxTs }
func (b *base) Entries() uint32   { return b.entries }
func (b *base) BlockSize() uint32 { return b.blockSize }

func (b *base) Incref() {
	b.owner.BumpRef(b.minTs, 1)
}

func (b *base) Decref() {
	b.owner.BumpRef(b.minTs, -1)
}

func (b *base) checkIndex(i uint32) error {
	if i >= b.entries {
		return fmt.Errorf("chunk %s: index %d out of range [0,%d): %w", b.path, i, b.entries, errors.ErrInvalid)
	}
	return nil
}

// findLeft implements the lower-bound bisection: smallest i with
// readTS(i) >= ts, or entries if ts is greater than every recorded timestamp.
func findLeft(entries uint32, readTS func(uint32) uint64, ts uint64) uint32 {
	lo, hi := uint32(0), entries
	for lo < hi {
		mid := lo + (hi-lo)/2
		if readTS(mid) < ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// findRight implements the upper-bound bisection: smallest i with
// readTS(i) > ts.
func findRight(entries uint32, readTS func(uint32) uint64, ts uint64) uint32 {
	lo, hi := uint32(0), entries
	for lo < hi {
		mid := lo + (hi-lo)/2
		if readTS(mid) <= ts {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func encodeHeader(blockSize uint32, minTs uint64) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[:4], blockSize)
	binary.LittleEndian.PutUint64(buf[4:], minTs)
	return buf
}

func decodeHeader(buf []byte) (blockSize uint32, minTs uint64) {
	return binary.LittleEndian.Uint32(buf[:4]), binary.LittleEndian.Uint64(buf[4:])
}

// encodeRecord0 lays out the seed record: just its payload, no timestamp
// field (record 0's timestamp is min_ts, already in the header).
func encodeRecord0(data []byte) []byte {
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf
}

func encodeRecord(ts uint64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(buf, ts)
	copy(buf[8:], data)
	return buf
}
