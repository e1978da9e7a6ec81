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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/logging"
)

// gzipChunk is a direct chunk whose file is a single gzip frame wrapping the
// uncompressed direct layout (header + records, no footer). Gzip gives no
// random access to the compressed stream, so the decompressed content is
// kept fully memory-resident and every append re-compresses and rewrites the
// whole file; this is the "expensive" flush path the format accepts as a
// known limitation in exchange for compression. Gzip chunks never use mmap.
type gzipChunk struct {
	base
	buf       []byte
	gzipLevel int
	fileSize  int64
}

var _ Chunk = (*gzipChunk)(nil)

func (c *gzipChunk) IsDirect() bool  { return true }
func (c *gzipChunk) IsGzip() bool    { return true }
func (c *gzipChunk) Mapped() bool    { return false }
func (c *gzipChunk) FileSize() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fileSize
}

// CreateGzip creates a new direct+gzip chunk.
func CreateGzip(owner Owner, path string, ts uint64, data []byte, gzipLevel int) (Chunk, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("chunk: CreateGzip %s: data must not be empty: %w", path, errors.ErrInvalid)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("chunk: CreateGzip %s: %w", path, errors.ErrExist)
	}
	blockSize := uint32(len(data))
	buf := make([]byte, 0, sizeForEntries(blockSize, 1))
	buf = append(buf, encodeHeader(blockSize, ts)...)
	buf = append(buf, encodeRecord0(data)...)

	c := &gzipChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.gzip.%d", ts)),
			path:      path,
			owner:     owner,
			minTs:     ts,
			maxTs:     ts,
			entries:   1,
			blockSize: blockSize,
		},
		buf:       buf,
		gzipLevel: gzipLevel,
	}
	if err := c.flushLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// OpenGzip opens an existing direct+gzip chunk file, decompressing it fully
// into memory.
func OpenGzip(owner Owner, path string, minTs uint64, gzipLevel int) (Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk: OpenGzip %s: %w", path, errors.ErrNotExist)
		}
		return nil, fmt.Errorf("chunk: OpenGzip %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	fileSize := fi.Size()
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("chunk: OpenGzip %s: opening gzip frame: %w", path, errors.ErrCorruption)
	}
	buf, err := io.ReadAll(gr)
	gr.Close()
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("chunk: OpenGzip %s: reading gzip frame: %w", path, errors.ErrCorruption)
	}
	if len(buf) < headerSize {
		return nil, fmt.Errorf("chunk: OpenGzip %s: file too small: %w", path, errors.ErrCorruption)
	}
	blockSize, hdrMinTs := decodeHeader(buf[:headerSize])
	if blockSize == 0 {
		return nil, fmt.Errorf("chunk: OpenGzip %s: block_size is zero: %w", path, errors.ErrCorruption)
	}
	if hdrMinTs != minTs {
		return nil, fmt.Errorf("chunk: OpenGzip %s: min_ts mismatch (name=%d, header=%d): %w", path, minTs, hdrMinTs, errors.ErrCorruption)
	}
	rem := int64(len(buf)) - headerSize - int64(blockSize)
	st := stride(blockSize)
	if rem < 0 || rem%st != 0 {
		return nil, fmt.Errorf("chunk: OpenGzip %s: content size inconsistent with block_size %d: %w", path, blockSize, errors.ErrCorruption)
	}
	entries := uint32(rem/st) + 1

	c := &gzipChunk{
		base: base{
			log:       logging.NewLogger(fmt.Sprintf("chunk.gzip.%d", minTs)),
			path:      path,
			owner:     owner,
			minTs:     minTs,
			entries:   entries,
			blockSize: blockSize,
		},
		buf:       buf,
		gzipLevel: gzipLevel,
		fileSize:  fileSize,
	}
	c.maxTs = c.readTS(entries - 1)
	return c, nil
}

func (c *gzipChunk) readTS(i uint32) uint64 {
	if i == 0 {
		return c.minTs
	}
	off := recordOffset(c.blockSize, i)
	return binary.LittleEndian.Uint64(c.buf[off : off+8])
}

func (c *gzipChunk) TimestampAt(i uint32) (uint64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return 0, err
	}
	return c.readTS(i), nil
}

func (c *gzipChunk) ValueAt(i uint32) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return nil, err
	}
	off := valueOffset(c.blockSize, i)
	out := make([]byte, c.blockSize)
	copy(out, c.buf[off:off+int64(c.blockSize)])
	return out, nil
}

func (c *gzipChunk) PieceAt(i uint32) (uint64, []byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.checkIndex(i); err != nil {
		return 0, nil, err
	}
	ts := c.readTS(i)
	off := valueOffset(c.blockSize, i)
	out := make([]byte, c.blockSize)
	copy(out, c.buf[off:off+int64(c.blockSize)])
	return ts, out, nil
}

func (c *gzipChunk) SliceAt(i uint32, start, stop int) ([]byte, error) {
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
	off := valueOffset(c.blockSize, i) + int64(start)
	out := make([]byte, stop-start)
	copy(out, c.buf[off:off+int64(stop-start)])
	return out, nil
}

func (c *gzipChunk) ByteOfPiece(i uint32, k int) (byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if i >= c.entries {
		return 0, fmt.Errorf("chunk %s: index %d out of range [0,%d): %w", c.path, i, c.entries, errors.ErrInvalid)
	}
	if k < 0 || k >= int(c.blockSize) {
		return 0, fmt.Errorf("chunk %s: byte index %d out of range [0,%d): %w", c.path, k, c.blockSize, errors.ErrInvalid)
	}
	off := valueOffset(c.blockSize, i) + int64(k)
	return c.buf[off], nil
}

func (c *gzipChunk) FindLeft(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findLeft(c.entries, c.readTS, ts)
}

func (c *gzipChunk) FindRight(ts uint64) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return findRight(c.entries, c.readTS, ts)
}

func (c *gzipChunk) Append(ts uint64, data []byte) error {
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
	c.buf = append(c.buf, encodeRecord(ts, data)...)
	c.entries++
	c.maxTs = ts
	// Gzip gives no random-access rewrite, so every append re-flushes the
	// whole frame; this is the documented expensive path for this layout.
	return c.flushLocked()
}

func (c *gzipChunk) flushLocked() error {
	var out bytes.Buffer
	gw, err := gzip.NewWriterLevel(&out, c.gzipLevel)
	if err != nil {
		return fmt.Errorf("chunk %s: creating gzip writer: %w", c.path, err)
	}
	if _, err := gw.Write(c.buf); err != nil {
		gw.Close()
		return fmt.Errorf("chunk %s: compressing: %w", c.path, err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("chunk %s: closing gzip writer: %w", c.path, err)
	}
	if err := os.WriteFile(c.path, out.Bytes(), 0640); err != nil {
		return fmt.Errorf("chunk %s: writing gzip frame: %w", c.path, err)
	}
	c.fileSize = int64(out.Len())
	return nil
}

func (c *gzipChunk) SwitchToDescriptorBasedAccess() error {
	return nil
}

func (c *gzipChunk) SwitchToMmapBasedAccess() error {
	return nil
}

func (c *gzipChunk) Close(force bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	if !force && c.owner.BumpRef(c.minTs, 0) > 0 {
		return fmt.Errorf("chunk %s: still open: %w", c.path, errors.ErrStillOpen)
	}
	c.closed = true
	c.buf = nil
	return nil
}

func (c *gzipChunk) Delete() error {
	if err := c.Close(true); err != nil {
		return err
	}
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chunk %s: delete: %w", c.path, err)
	}
	return nil
}
