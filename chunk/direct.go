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

// directChunk extends its file length by exactly one record per append and
// carries no footer; its entry count is derived from file size arithmetic.
type directChunk struct {
	base
	bs mmio.ByteStore
}

var _ Chunk = (*directChunk)(nil)

func (c *directChunk) IsDirect() bool { return true }
func (c *directChunk) IsGzip() bool   { return false }
func (c *directChunk) Mapped() bool   { return c.bs.Mapped() }
func (c *directChunk) FileSize() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.bs.Size()
}

// CreateDirect creates a new direct (non-gzip) chunk.
func CreateDirect(owner Owner, path string, ts uint64, data []byte, descriptorBased bool) (Chunk, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("chunk: CreateDirect %s: data must not be empty: %w", path, errors.ErrInvalid)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("chunk: CreateDirect %s: %w", path, errors.ErrExist)
	}
	blockSize := uint32(len(data))
	total := sizeForEntries(blockSize, 1)

	bs, err := mmio.Create(path, total, descriptorBased)
	if err != nil {
		return nil, fmt.Errorf("chunk: CreateDirect %s: %w", path, err)
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

	return &directChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.direct.%d", ts)),
			path:      path,
			owner:     owner,
			minTs:     ts,
			maxTs:     ts,
			entries:   1,
			blockSize: blockSize,
		},
		bs: bs,
	}, nil
}

// OpenDirect opens an existing direct (non-gzip) chunk file.
func OpenDirect(owner Owner, path string, minTs uint64, descriptorBased bool) (Chunk, error) {
	bs, err := mmio.Open(path, descriptorBased)
	if err != nil {
		return nil, fmt.Errorf("chunk: OpenDirect %s: %w", path, err)
	}
	if bs.Size() < headerSize {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: file too small: %w", path, errors.ErrCorruption)
	}
	hdr := make([]byte, headerSize)
	if _, err := bs.ReadAt(hdr, 0); err != nil {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: reading header: %w", path, errors.ErrCorruption)
	}
	blockSize, hdrMinTs := decodeHeader(hdr)
	if blockSize == 0 {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: block_size is zero: %w", path, errors.ErrCorruption)
	}
	if hdrMinTs != minTs {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: min_ts mismatch (name=%d, header=%d): %w", path, minTs, hdrMinTs, errors.ErrCorruption)
	}
	rem := bs.Size() - headerSize - int64(blockSize)
	st := stride(blockSize)
	if rem < 0 || rem%st != 0 {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: file size %d inconsistent with block_size %d: %w", path, bs.Size(), blockSize, errors.ErrCorruption)
	}
	entries := uint32(rem/st) + 1

	c := &directChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.direct.%d", minTs)),
			path:      path,
			owner:     owner,
			minTs:     minTs,
			entries:   entries,
			blockSize: blockSize,
		},
		bs: bs,
	}
	tsN, err := c.readTS(entries - 1)
	if err != nil {
		bs.Close()
		return nil, fmt.Errorf("chunk: OpenDirect %s: reading last record: %w", path, errors.ErrCorruption)
	}
	c.maxTs = tsN
	return c, nil
}

func (c *directChunk) readTS(i uint32) (uint64, error) {
	if i == 0 {
		return c.minTs, nil
	}
	buf := make([]byte, 8)
	if _, err := c.bs.ReadAt(buf, recordOffset(c.blockSize, i)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (c *directChunk) TimestampAt(i uint32) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return 0, err
	}
	return c.readTS(i)
}

func (c *directChunk) ValueAt(i uint32) ([]byte, error) {
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

func (c *directChunk) PieceAt(i uint32) (uint64, []byte, error) {
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

func (c *directChunk) SliceAt(i uint32, start, stop int) ([]byte, error) {
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

func (c *directChunk) ByteOfPiece(i uint32, k int) (byte, error) {
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

func (c *directChunk) FindLeft(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findLeft(c.entries, func(i uint32) uint64 { v, _ := c.readTS(i); return v }, ts)
}

func (c *directChunk) FindRight(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findRight(c.entries, func(i uint32) uint64 { v, _ := c.readTS(i); return v }, ts)
}

func (c *directChunk) Append(ts uint64, data []byte) error {
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

	offset := c.bs.Size()
	newSize := offset + stride(c.blockSize)
	if err := c.bs.Grow(newSize); err != nil {
		if mmio.IsRecoverable(err) {
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
	if _, err := c.bs.WriteAt(encodeRecord(ts, data), offset); err != nil {
		return fmt.Errorf("chunk %s: write record: %w", c.path, err)
	}
	c.entries++
	c.maxTs = ts
	return nil
}

func (c *directChunk) SwitchToDescriptorBasedAccess() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.switchToDescriptorLocked()
}

func (c *directChunk) switchToDescriptorLocked() error {
	if !c.bs.Mapped() {
		return nil
	}
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

func (c *directChunk) SwitchToMmapBasedAccess() error {
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

func (c *directChunk) Close(force bool) error {
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

func (c *directChunk) Delete() error {
	if err := c.Close(true); err != nil {
		return err
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunk %s: delete: %w", c.path, err)
	}
	return nil
}
