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

// Package mmio implements the byte-range store that backs a chunk file: a
// memory-mapped variant and a descriptor-based fallback behind one
// interface, per the mmap fallback policy: mapping failures that indicate a
// resource limit (out of memory, address space exhausted, the file system
// doesn't support mapping, too many mapped pages) degrade silently to
// descriptor-based access; any other mapping error is fatal.
package mmio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/edsrzf/mmap-go"

	tdberrors "github.com/tempsdb/tempsdb/golibs/errors"
)

type (
	// ByteStore is a growable, random-access byte region backed by a file. It
	// is implemented either by mapped (memory-mapped) or descriptorBacked
	// (explicit seek+read/write); callers only see this interface.
	ByteStore interface {
		// Size returns the current logical size of the store.
		Size() int64
		// Grow extends the store to newSize, which must be >= Size().
		Grow(newSize int64) error
		// ReadAt reads len(p) bytes starting at off.
		ReadAt(p []byte, off int64) (int, error)
		// WriteAt writes p starting at off. off+len(p) must be <= Size().
		WriteAt(p []byte, off int64) (int, error)
		// Mapped reports whether the store is currently memory-mapped.
		Mapped() bool
		// Sync flushes any pending writes to the underlying file.
		Sync() error
		// Close releases the underlying file descriptor and mapping.
		Close() error
	}

	mapped struct {
		f    *os.File
		mf   mmap.MMap
		size int64
	}

	descriptorBacked struct {
		f    *os.File
		size int64
	}
)

var (
	_ ByteStore = (*mapped)(nil)
	_ ByteStore = (*descriptorBacked)(nil)
)

// Open opens an existing file and returns a ByteStore covering its current
// size. If descriptorBased is true, a descriptorBacked store is returned
// unconditionally; otherwise Open attempts to mmap the file and transparently
// falls back per the policy documented on the package.
func Open(path string, descriptorBased bool) (ByteStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0640)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("mmio: open %s: %w", path, tdberrors.ErrNotExist)
		}
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: stat %s: %w", path, err)
	}
	size := fi.Size()
	if descriptorBased {
		return &descriptorBacked{f: f, size: size}, nil
	}
	return mapOrFallback(f, size)
}

// Create creates a new file of size initSize (which must be > 0) and returns
// a ByteStore over it, subject to the same mmap fallback policy as Open.
func Create(path string, initSize int64, descriptorBased bool) (ByteStore, error) {
	if initSize <= 0 {
		return nil, fmt.Errorf("mmio: create %s: initSize must be positive: %w", path, tdberrors.ErrInvalid)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("mmio: create %s: %w", path, tdberrors.ErrExist)
		}
		return nil, fmt.Errorf("mmio: create %s: %w", path, err)
	}
	if err := f.Truncate(initSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("mmio: truncate %s to %d: %w", path, initSize, err)
	}
	if descriptorBased {
		return &descriptorBacked{f: f, size: initSize}, nil
	}
	bs, err := mapOrFallback(f, initSize)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	return bs, nil
}

func mapOrFallback(f *os.File, size int64) (ByteStore, error) {
	mf, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		if isRecoverableMmapError(err) {
			return &descriptorBacked{f: f, size: size}, nil
		}
		f.Close()
		return nil, fmt.Errorf("mmio: map region failed irrecoverably: %w: %w", err, tdberrors.ErrCorruption)
	}
	return &mapped{f: f, mf: mf, size: size}, nil
}

// IsRecoverable reports whether err (returned from Grow or from opening a
// store) indicates a resource limit a caller should fall back from by
// switching to descriptor-based access, rather than a structural failure
// that should be treated as fatal corruption.
func IsRecoverable(err error) bool {
	return isRecoverableMmapError(err)
}

// isRecoverableMmapError reports whether err indicates a resource limit the
// caller should fall back from (out of memory, address space exhausted, the
// file system doesn't support mapping, too many mapped regions) rather than
// a structural failure.
func isRecoverableMmapError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOMEM, syscall.EMFILE, syscall.ENFILE, syscall.ENOSPC, syscall.ENODEV, syscall.EOPNOTSUPP, syscall.EINVAL:
			return true
		}
	}
	return false
}

func (m *mapped) Size() int64 { return m.size }

func (m *mapped) Mapped() bool { return true }

func (m *mapped) Grow(newSize int64) error {
	if newSize == m.size {
		return nil
	}
	if newSize < m.size {
		return fmt.Errorf("mmio: new size %d must be >= current size %d: %w", newSize, m.size, tdberrors.ErrInvalid)
	}
	if err := m.mf.Unmap(); err != nil {
		return fmt.Errorf("mmio: unmap before grow: %w", err)
	}
	if err := m.f.Truncate(newSize); err != nil {
		return fmt.Errorf("mmio: truncate to %d: %w", newSize, err)
	}
	mf, err := mmap.MapRegion(m.f, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("mmio: remap after grow: %w", err)
	}
	m.mf = mf
	m.size = newSize
	return nil
}

func (m *mapped) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, fmt.Errorf("mmio: read [%d,%d) out of bounds [0,%d): %w", off, off+int64(len(p)), m.size, tdberrors.ErrInvalid)
	}
	return copy(p, m.mf[off:off+int64(len(p))]), nil
}

func (m *mapped) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > m.size {
		return 0, fmt.Errorf("mmio: write [%d,%d) out of bounds [0,%d): %w", off, off+int64(len(p)), m.size, tdberrors.ErrInvalid)
	}
	return copy(m.mf[off:off+int64(len(p))], p), nil
}

func (m *mapped) Sync() error {
	if m.mf == nil {
		return nil
	}
	return m.mf.Flush()
}

func (m *mapped) Close() error {
	if m.f == nil {
		return nil
	}
	var err error
	if m.mf != nil {
		err = m.mf.Unmap()
		m.mf = nil
	}
	cerr := m.f.Close()
	m.f = nil
	if err == nil {
		err = cerr
	}
	return err
}

func (d *descriptorBacked) Size() int64 { return d.size }

func (d *descriptorBacked) Mapped() bool { return false }

func (d *descriptorBacked) Grow(newSize int64) error {
	if newSize == d.size {
		return nil
	}
	if newSize < d.size {
		return fmt.Errorf("mmio: new size %d must be >= current size %d: %w", newSize, d.size, tdberrors.ErrInvalid)
	}
	if err := d.f.Truncate(newSize); err != nil {
		return fmt.Errorf("mmio: truncate to %d: %w", newSize, err)
	}
	d.size = newSize
	return nil
}

func (d *descriptorBacked) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("mmio: read [%d,%d) out of bounds [0,%d): %w", off, off+int64(len(p)), d.size, tdberrors.ErrInvalid)
	}
	n, err := d.f.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("mmio: readAt offset %d: %w", off, err)
	}
	return n, nil
}

func (d *descriptorBacked) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, fmt.Errorf("mmio: write [%d,%d) out of bounds [0,%d): %w", off, off+int64(len(p)), d.size, tdberrors.ErrInvalid)
	}
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("mmio: writeAt offset %d: %w", off, err)
	}
	return n, nil
}

func (d *descriptorBacked) Sync() error {
	return d.f.Sync()
}

func (d *descriptorBacked) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
