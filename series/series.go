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

// Package series implements a fixed-length time series: an ordered list of
// chunks, sharing one block_size, rolling over to a new chunk every
// max_entries_per_chunk records.
package series

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tempsdb/tempsdb/chunk"
	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/files"
	"github.com/tempsdb/tempsdb/golibs/logging"
	"github.com/tempsdb/tempsdb/metadata"
)

type (
	// Series is a fixed-length time series backed by a directory of chunk
	// files plus a metadata document.
	Series struct {
		// lock serializes append, metadata mutation, and the open_chunks/
		// chunks bookkeeping (the spec's write lock and open-chunk lock,
		// combined: every operation here needs both together). Go has no
		// recursive mutex; every exported method takes it exactly once and
		// delegates to an unexported *Locked helper instead of re-entering.
		lock sync.Mutex
		log  logging.Logger

		// refsMu guards refs independently of lock. chunk.Close(false) calls
		// back into BumpRef(ts, 0) synchronously to peek the count; keeping
		// refs off the main lock means that callback never re-enters a lock
		// its caller (closeChunksLocked, sweepToLocked) is already holding.
		refsMu sync.Mutex

		dir   string
		codec metadata.Codec

		blockSize         uint32
		maxEntriesPerChnk uint32
		pageSize          uint32
		gzipLevel         int
		descriptorBased   bool

		lastEntryTs      uint64
		lastEntrySynced  uint64

		chunks    []chunkInfo
		lastChunk chunk.Chunk

		// extra holds metadata keys this package doesn't itself interpret
		// (e.g. a varlen root's size_field/length_profile), round-tripped
		// verbatim through every Sync.
		extra metadata.Document

		openChunks map[uint64]chunk.Chunk
		refs       map[uint64]int

		pressureHook func() int

		closed bool
	}

	chunkInfo struct {
		minTs uint64
		layout chunk.Layout
	}
)

const metadataKeyBlockSize = "block_size"
const metadataKeyMaxEntries = "max_entries_per_chunk"
const metadataKeyLastSynced = "last_entry_synced"
const metadataKeyPageSize = "page_size"
const metadataKeyGzipLevel = "gzip_level"

// knownMetadataKeys are the fixed-length series' own keys; any other key
// found in a loaded document (e.g. a varlen root's size_field and
// length_profile) is preserved verbatim in Series.extra and re-emitted by
// every Sync.
var knownMetadataKeys = map[string]bool{
	metadataKeyBlockSize:   true,
	metadataKeyMaxEntries:  true,
	metadataKeyLastSynced:  true,
	metadataKeyPageSize:    true,
	metadataKeyGzipLevel:   true,
}

// Create initializes a brand-new, empty fixed-length series directory.
// extra carries additional metadata keys a caller wants persisted alongside
// the series' own (e.g. a varlen root's size_field/length_profile); pass nil
// for a plain series.
func Create(dir string, blockSize, maxEntriesPerChunk, pageSize uint32, gzipLevel int, extra metadata.Document) (*Series, error) {
	if blockSize == 0 || maxEntriesPerChunk == 0 {
		return nil, fmt.Errorf("series: block_size and max_entries_per_chunk must be positive: %w", errors.ErrInvalid)
	}
	if err := files.EnsureDirExists(dir); err != nil {
		return nil, fmt.Errorf("series: %w", err)
	}
	doc := metadata.Document{
		metadataKeyBlockSize:  blockSize,
		metadataKeyMaxEntries: maxEntriesPerChunk,
		metadataKeyLastSynced: uint64(0),
		metadataKeyPageSize:   pageSize,
	}
	if gzipLevel > 0 {
		doc[metadataKeyGzipLevel] = gzipLevel
	}
	for k, v := range extra {
		doc[k] = v
	}
	codec, err := metadata.Create(dir, doc, true)
	if err != nil {
		return nil, err
	}
	s := &Series{
		log:               logging.NewLogger("series:" + filepath.Base(dir)),
		dir:               dir,
		codec:             codec,
		blockSize:         blockSize,
		maxEntriesPerChnk: maxEntriesPerChunk,
		pageSize:          pageSize,
		gzipLevel:         gzipLevel,
		extra:             metadata.Document{},
		openChunks:        map[uint64]chunk.Chunk{},
		refs:              map[uint64]int{},
	}
	for k, v := range extra {
		s.extra[k] = v
	}
	return s, nil
}

// Open reads the metadata of an existing series directory and enumerates its
// chunks, opening the newest one as the write target.
func Open(dir string) (*Series, error) {
	doc, codec, err := metadata.Load(dir)
	if err != nil {
		return nil, err
	}
	blockSize, err := doc.GetUint32(metadataKeyBlockSize)
	if err != nil {
		return nil, err
	}
	maxEntries, err := doc.GetUint32(metadataKeyMaxEntries)
	if err != nil {
		return nil, err
	}
	lastSynced, err := doc.GetUint64(metadataKeyLastSynced)
	if err != nil {
		return nil, err
	}
	pageSize, err := doc.GetUint32(metadataKeyPageSize)
	if err != nil {
		return nil, err
	}
	gzipLevel := int(doc.GetUint64Default(metadataKeyGzipLevel, 0))

	s := &Series{
		log:               logging.NewLogger("series:" + filepath.Base(dir)),
		dir:               dir,
		codec:             codec,
		blockSize:         blockSize,
		maxEntriesPerChnk: maxEntries,
		pageSize:          pageSize,
		gzipLevel:         gzipLevel,
		lastEntrySynced:   lastSynced,
		extra:             metadata.Document{},
		openChunks:        map[uint64]chunk.Chunk{},
		refs:              map[uint64]int{},
	}
	for k, v := range doc {
		if !knownMetadataKeys[k] {
			s.extra[k] = v
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("series: reading directory %s: %w", dir, err)
	}
	var infos []chunkInfo
	for _, e := range entries {
		if e.IsDir() || e.Name() == metadata.TextualFileName || e.Name() == metadata.CompactFileName {
			continue
		}
		minTs, l, err := chunk.ParseFileName(e.Name())
		if err != nil {
			return nil, fmt.Errorf("series: %s: %w", dir, errors.ErrCorruption)
		}
		infos = append(infos, chunkInfo{minTs: minTs, layout: l})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].minTs < infos[j].minTs })
	s.chunks = infos

	if len(infos) > 0 {
		last := infos[len(infos)-1]
		c, err := s.openChunkLocked(last.minTs, last.layout)
		if err != nil {
			return nil, err
		}
		s.lastChunk = c
		s.lastEntryTs = c.MaxTs()
	}
	return s, nil
}

func (s *Series) options() chunk.Options {
	return chunk.Options{
		Dir:             s.dir,
		DescriptorBased: s.descriptorBased,
		PageSize:        s.pageSize,
		GzipLevel:       s.gzipLevel,
	}
}

func (s *Series) layout() chunk.Layout {
	if s.gzipLevel > 0 {
		return chunk.Layout{Direct: true, Gzip: true}
	}
	return chunk.Layout{}
}

// BumpRef implements chunk.Owner: it tracks outstanding external holders of
// a chunk reference (iterators, varlen entries) so trim/close_chunks know
// when a chunk is safe to evict.
func (s *Series) BumpRef(minTs uint64, delta int) int {
	s.refsMu.Lock()
	defer s.refsMu.Unlock()
	s.refs[minTs] += delta
	if s.refs[minTs] < 0 {
		panic(fmt.Sprintf("series: refcount for chunk %d went negative", minTs))
	}
	return s.refs[minTs]
}

// refCount reads the current reference count for minTs without mutating it.
func (s *Series) refCount(minTs uint64) int {
	s.refsMu.Lock()
	defer s.refsMu.Unlock()
	return s.refs[minTs]
}

func (s *Series) deleteRef(minTs uint64) {
	s.refsMu.Lock()
	defer s.refsMu.Unlock()
	delete(s.refs, minTs)
}

// Append adds one record, rolling over to a new chunk when the current one
// is full.
func (s *Series) Append(ts uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.appendLocked(ts, data)
}

// AppendPadded right-pads data to block_size before appending.
func (s *Series) AppendPadded(ts uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if uint32(len(data)) > s.blockSize {
		return fmt.Errorf("series: data length %d exceeds block_size %d: %w", len(data), s.blockSize, errors.ErrInvalid)
	}
	if uint32(len(data)) == s.blockSize {
		return s.appendLocked(ts, data)
	}
	padded := make([]byte, s.blockSize)
	copy(padded, data)
	return s.appendLocked(ts, padded)
}

func (s *Series) appendLocked(ts uint64, data []byte) error {
	if s.closed {
		return fmt.Errorf("series: %s is closed: %w", s.dir, errors.ErrInvalidState)
	}
	if uint32(len(data)) != s.blockSize {
		return fmt.Errorf("series: data length %d != block_size %d: %w", len(data), s.blockSize, errors.ErrInvalid)
	}
	if s.lastEntryTs > 0 && ts <= s.lastEntryTs {
		return fmt.Errorf("series: timestamp %d is not after last entry %d: %w", ts, s.lastEntryTs, errors.ErrInvalid)
	}

	if s.lastChunk == nil || s.lastChunk.Entries() >= s.maxEntriesPerChnk {
		if s.lastChunk != nil {
			s.lastChunk.Decref()
		}
		l := s.layout()
		c, err := chunk.Create(s, ts, data, l, s.options())
		if err != nil {
			return err
		}
		c.Incref()
		s.chunks = append(s.chunks, chunkInfo{minTs: ts, layout: l})
		s.openChunks[ts] = c
		s.lastChunk = c
	} else {
		if err := s.lastChunk.Append(ts, data); err != nil {
			return err
		}
	}
	s.lastEntryTs = ts
	return nil
}

// Sync writes the metadata document and, if the last chunk is currently
// descriptor-backed, tries to switch it back to memory-mapped access. It does
// not flush the last chunk's mapped pages to disk.
func (s *Series) Sync() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.syncLocked()
}

func (s *Series) syncLocked() error {
	doc := metadata.Document{
		metadataKeyBlockSize:  s.blockSize,
		metadataKeyMaxEntries: s.maxEntriesPerChnk,
		metadataKeyLastSynced: s.lastEntrySynced,
		metadataKeyPageSize:   s.pageSize,
	}
	if s.gzipLevel > 0 {
		doc[metadataKeyGzipLevel] = s.gzipLevel
	}
	for k, v := range s.extra {
		doc[k] = v
	}
	if err := metadata.Save(s.dir, doc, s.codec); err != nil {
		return err
	}
	if s.lastChunk != nil {
		if err := s.lastChunk.SwitchToMmapBasedAccess(); err != nil {
			return err
		}
	}
	return nil
}

// MarkSyncedUpTo records the external checkpoint timestamp and persists it.
func (s *Series) MarkSyncedUpTo(ts uint64) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.lastEntrySynced = ts
	return s.syncLocked()
}

// SetPressureHook registers a callback invoked under memory pressure; its
// return value is the target size close_chunks should sweep open_chunks
// down to.
func (s *Series) SetPressureHook(f func() int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pressureHook = f
}

// GetCurrentValue returns the most recently appended (timestamp, payload)
// pair.
func (s *Series) GetCurrentValue() (uint64, []byte, error) {
	s.lock.Lock()
	if s.lastChunk == nil {
		s.lock.Unlock()
		return 0, nil, fmt.Errorf("series: %s has no data: %w", s.dir, errors.ErrInvalid)
	}
	maxTs := s.lastChunk.MaxTs()
	s.lock.Unlock()

	it, err := s.IterateRange(maxTs, maxTs)
	if err != nil {
		return 0, nil, err
	}
	defer it.Close()
	ts, data, ok, err := it.Next()
	if err != nil {
		return 0, nil, err
	}
	if !ok {
		return 0, nil, fmt.Errorf("series: %s has no data: %w", s.dir, errors.ErrInvalid)
	}
	return ts, data, nil
}

// Close closes every open chunk (forced), cancels the pressure hook, and
// marks the series closed.
func (s *Series) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	for ts, c := range s.openChunks {
		if err := c.Close(true); err != nil {
			return err
		}
		delete(s.openChunks, ts)
	}
	s.lastChunk = nil
	s.pressureHook = nil
	s.closed = true
	return nil
}

// Delete closes the series and recursively removes its directory.
func (s *Series) Delete() error {
	if err := s.Close(); err != nil {
		return err
	}
	return os.RemoveAll(s.dir)
}

// BlockSize returns the fixed payload size shared by every record.
func (s *Series) BlockSize() uint32 { return s.blockSize }

// MaxEntriesPerChunk returns the configured chunk rollover threshold.
func (s *Series) MaxEntriesPerChunk() uint32 { return s.maxEntriesPerChnk }

// PageSize returns the configured normal-chunk preallocation unit.
func (s *Series) PageSize() uint32 { return s.pageSize }

// GzipLevel returns the configured gzip level, or 0 if chunks aren't
// gzip-framed.
func (s *Series) GzipLevel() int { return s.gzipLevel }

// LastEntryTs returns the timestamp of the most recently appended record, or
// 0 if the series has no data.
func (s *Series) LastEntryTs() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastEntryTs
}

// ChunkCount returns the number of chunks currently on disk for this series.
func (s *Series) ChunkCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.chunks)
}

// OpenChunkCount returns the number of chunk handles currently held open in
// memory.
func (s *Series) OpenChunkCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.openChunks)
}

// OpenChunksMmapSize returns the sum of FileSize() over open chunks that are
// currently memory-mapped; descriptor-backed open chunks contribute 0.
func (s *Series) OpenChunksMmapSize() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	var total int64
	for _, c := range s.openChunks {
		if c.Mapped() {
			total += c.FileSize()
		}
	}
	return total
}

// Extra returns the caller-defined metadata keys stored alongside this
// series' own (e.g. a varlen root's size_field/length_profile).
func (s *Series) Extra() metadata.Document {
	s.lock.Lock()
	defer s.lock.Unlock()
	cp := make(metadata.Document, len(s.extra))
	for k, v := range s.extra {
		cp[k] = v
	}
	return cp
}
