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
package chunk

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/logging"
	"github.com/tempsdb/tempsdb/internal/mmio"
)

// normalChunk preallocates one page ahead of the write pointer and tracks
// entries in a trailing 4-byte footer, so appends are cheap and the tail
// waste is bounded by one page.
type normalChunk struct {
	base
	bs       mmio.ByteStore
	pageSize uint32
}

var _ Chunk = (*normalChunk)(nil)

func (c *normalChunk) IsDirect() bool { return false }
func (c *normalChunk) IsGzip() bool   { return false }
func (c *normalChunk) Mapped() bool   { return c.bs.Mapped() }
func (c *normalChunk) FileSize() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.bs.Size()
}

// CreateNormal creates a new normal chunk at path with the first record
// (ts, data). len(data) determines block_size.
func CreateNormal(owner Owner, path string, ts uint64, data []byte, pageSize uint32, descriptorBased bool) (Chunk, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("chunk: CreateNormal %s: data must not be empty: %w", path, errors.ErrInvalid)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("chunk: CreateNormal %s: %w", path, errors.ErrExist)
	}
	blockSize := uint32(len(data))
	recordEnd := sizeForEntries(blockSize, 1)
	padded := ceilToPage(recordEnd, int64(pageSize))
	total := padded + int64(pageSize)

	bs, err := mmio.Create(path, total, descriptorBased)
	if err != nil {
		return nil, fmt.Errorf("chunk: CreateNormal %s: %w", path, err)
	}
	if _, err := bs.WriteAt(encodeHeader(blockSize, ts), 0); err != nil {
		bs.Close()
		os.Remove(path)
		return nil, err
	}
	if _, err := bs.WriteAt(encodeRecord0(data), valueOffset(blockSize, 0)); err != nil {
		bs.Close()
		os.Remove(path)
		return nil, err
	}
	if err := writeFooter(bs, 1); err != nil {
		bs.Close()
		os.Remove(path)
		return nil, err
	}

	c := &normalChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.normal.%d", ts)),
			path:      path,
			owner:     owner,
			minTs:     ts,
			maxTs:     ts,
			entries:   1,
			blockSize: blockSize,
		},
		bs:       bs,
		pageSize: pageSize,
	}
	return c, nil
}

// OpenNormal opens an existing normal chunk file.
func OpenNormal(owner Owner, path string, minTs uint64, pageSize uint32, descriptorBased bool) (Chunk, error) {
	bs, err := mmio.Open(path, descriptorBased)
	if err != nil {
		return nil, fmt.Errorf("chunk: OpenNormal %s: %w", path, err)
	}
	if bs.Size() < headerSize+footerSize {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: file too small: %w", path, errors.ErrCorruption)
	}
	hdr := make([]byte, headerSize)
	if _, err := bs.ReadAt(hdr, 0); err != nil {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: reading header: %w", path, errors.ErrCorruption)
	}
	blockSize, hdrMinTs := decodeHeader(hdr)
	if blockSize == 0 {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: block_size is zero: %w", path, errors.ErrCorruption)
	}
	if hdrMinTs != minTs {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: min_ts mismatch (name=%d, header=%d): %w", path, minTs, hdrMinTs, errors.ErrCorruption)
	}
	entries, err := readFooter(bs)
	if err != nil {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: %w", path, err)
	}
	if entries == 0 {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: entries is zero: %w", path, errors.ErrCorruption)
	}
	if bs.Size() < sizeForEntries(blockSize, entries)+footerSize {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: file too small for entries=%d: %w", path, entries, errors.ErrCorruption)
	}
	c := &normalChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.normal.%d", minTs)),
			path:      path,
			owner:     owner,
			minTs:     minTs,
			entries:   entries,
			blockSize: blockSize,
		},
		bs:       bs,
		pageSize: pageSize,
	}
	tsN, err := c.readTS(entries - 1)
	if err != nil {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenNormal %s: reading last record: %w", path, errors.ErrCorruption)
	}
	c.maxTs = tsN
	return c, nil
}

func (c *normalChunk) readTS(i uint32) (uint64, error) {
	if i == 0 {
		return c.minTs, nil
	}
	buf := make([]byte, 8)
	if _, err := c.bs.ReadAt(buf, recordOffset(c.blockSize, i)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (c *normalChunk) TimestampAt(i uint32) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return 0, err
	}
	return c.readTS(i)
}

func (c *normalChunk) ValueAt(i uint32) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return nil, err
	}
	buf := make([]byte, c.blockSize)
	if _, err := c.bs.ReadAt(buf, valueOffset(c.blockSize, i)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *normalChunk) PieceAt(i uint32) (uint64, []byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return 0, nil, err
	}
	ts, err := c.readTS(i)
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, c.blockSize)
	if _, err := c.bs.ReadAt(buf, valueOffset(c.blockSize, i)); err != nil {
		return 0, nil, err
	}
	return ts, buf, nil
}

func (c *normalChunk) SliceAt(i uint32, start, stop int) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if stop > int(c.blockSize) {
		stop = int(c.blockSize)
	}
	if start > stop {
		return nil, fmt.Errorf("chunk %s: invalid slice [%d,%d): %w", c.path, start, stop, errors.ErrInvalid)
	}
	buf := make([]byte, stop-start)
	if _, err := c.bs.ReadAt(buf, valueOffset(c.blockSize, i)+int64(start)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *normalChunk) ByteOfPiece(i uint32, k int) (byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if i >= c.entries {
		return 0, fmt.Errorf("chunk %s: index %d out of range [0,%d): %w", c.path, i, c.entries, errors.ErrInvalid)
	}
	if k < 0 || k >= int(c.blockSize) {
		return 0, fmt.Errorf("chunk %s: byte index %d out of range [0,%d): %w", c.path, k, c.blockSize, errors.ErrInvalid)
	}
	buf := make([]byte, 1)
	if _, err := c.bs.ReadAt(buf, valueOffset(c.blockSize, i)+int64(k)); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *normalChunk) FindLeft(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findLeft(c.entries, func(i uint32) uint64 { v, _ := c.readTS(i); return v }, ts)
}

func (c *normalChunk) FindRight(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findRight(c.entries, func(i uint32) uint64 { v, _ := c.readTS(i); return v }, ts)
}

func (c *normalChunk) Append(ts uint64, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return fmt.Errorf("chunk %s: append on closed chunk: %w", c.path, errors.ErrInvalidState)
	}
	if uint32(len(data)) != c.blockSize {
		return fmt.Errorf("chunk %s: data length %d != block_size %d: %w", c.path, len(data), c.blockSize, errors.ErrInvalid)
	}
	if ts <= c.maxTs {
		return fmt.Errorf("chunk %s: timestamp %d not greater than max_ts %d: %w", c.path, ts, c.maxTs, errors.ErrInvalid)
	}

	offset := recordOffset(c.blockSize, c.entries)
	if offset+stride(c.blockSize)+footerSize > c.bs.Size() {
		newSize := c.bs.Size() + int64(c.pageSize)
		if err := c.bs.Grow(newSize); err != nil {
			if mmio.IsRecoverable(err) {
				c.log.Warnf("mmap grow failed recoverably, switching to descriptor-based access: %v", err)
				if serr := c.switchToDescriptorLocked(); serr != nil {
					return serr
				}
				if err := c.bs.Grow(newSize); err != nil {
					return fmt.Errorf("chunk %s: grow after fallback: %w", c.path, err)
				}
			} else {
				return fmt.Errorf("chunk %s: grow file: %w", c.path, err)
			}
		}
	}

	if _, err := c.bs.WriteAt(encodeRecord(ts, data), offset); err != nil {
		return fmt.Errorf("chunk %s: write record: %w", c.path, err)
	}
	c.entries++
	c.maxTs = ts
	if err := writeFooter(c.bs, c.entries); err != nil {
		return fmt.Errorf("chunk %s: write footer: %w", c.path, err)
	}
	return nil
}

func (c *normalChunk) SwitchToDescriptorBasedAccess() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.switchToDescriptorLocked()
}

func (c *normalChunk) switchToDescriptorLocked() error {
	if !c.bs.Mapped() {
		return nil
	}
	// descriptorBacked and mapped share the same underlying *os.File
	// lifecycle contract (Size/Grow/ReadAt/WriteAt), so we simply reopen the
	// descriptor-backed view over the same path at the current size.
	size := c.bs.Size()
	if err := c.bs.Close(); err != nil {
		return fmt.Errorf("chunk %s: closing mapped store before switch: %w", c.path, err)
	}
	bs, err := mmio.Open(c.path, true)
	if err != nil {
		return fmt.Errorf("chunk %s: reopening descriptor-based: %w", c.path, err)
	}
	if bs.Size() != size {
		bs.Close()
		return fmt.Errorf("chunk %s: size mismatch after switch (%d != %d): %w", c.path, bs.Size(), size, errors.ErrCorruption)
	}
	c.bs = bs
	return nil
}

func (c *normalChunk) SwitchToMmapBasedAccess() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.bs.Mapped() {
		return nil
	}
	bs, err := mmio.Open(c.path, false)
	if err != nil {
		if mmio.IsRecoverable(err) {
			return nil
		}
		return fmt.Errorf("chunk %s: switching to mmap: %w", c.path, err)
	}
	c.bs = bs
	return nil
}

func (c *normalChunk) Close(force bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	if !force && c.owner.BumpRef(c.minTs, 0) > 0 {
		return fmt.Errorf("chunk %s: still open: %w", c.path, errors.ErrStillOpen)
	}
	c.closed = true
	return c.bs.Close()
}

func (c *normalChunk) Delete() error {
	if err := c.Close(true); err != nil {
		return err
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunk %s: delete: %w", c.path, err)
	}
	return nil
}

func ceilToPage(n, pageSize int64) int64 {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

func writeFooter(bs mmio.ByteStore, entries uint32) error {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(buf, entries)
	_, err := bs.WriteAt(buf, bs.Size()-footerSize)
	return err
}

func readFooter(bs mmio.ByteStore) (uint32, error) {
	buf := make([]byte, footerSize)
	if _, err := bs.ReadAt(buf, bs.Size()-footerSize); err != nil {
		return 0, fmt.Errorf("reading footer: %w", errors.ErrCorruption)
	}
	return binary.LittleEndian.Uint32(buf), nil
}
