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

// Package varlen implements a variable-length record series composed of N
// fixed-length sub-series: a root sub-series carrying a size-field-prefixed
// head of each record, and overflow sub-series sharded according to a
// length profile.
package varlen

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/files"
	"github.com/tempsdb/tempsdb/golibs/logging"
	"github.com/tempsdb/tempsdb/metadata"
	"github.com/tempsdb/tempsdb/series"
)

const (
	metadataKeySizeField     = "size_field"
	metadataKeyLengthProfile = "length_profile"

	rootDirName = "root"
)

// Series is a variable-length time series.
type Series struct {
	lock sync.Mutex
	log  logging.Logger

	dir       string
	sizeField int
	profile   []int

	maxEntriesPerChunk uint32
	pageSize           uint32
	gzipLevel          int

	root *series.Series
	subs []*series.Series

	// references counts outstanding VarlenEntry/iterator holders; Close
	// refuses unless force or references == 0.
	references int32

	closed bool
}

// profileAt returns P[k], the last element repeating for k >= len(profile).
func profileAt(profile []int, k int) int {
	if k < len(profile) {
		return profile[k]
	}
	return profile[len(profile)-1]
}

// maxEncodableLength returns 2^(8*sizeField) - 1, the largest length value
// size_field can represent (including size_field == 3, whose 3-byte
// encoding is produced by truncating a 4-byte length field).
func maxEncodableLength(sizeField int) uint64 {
	return (uint64(1) << uint(8*sizeField)) - 1
}

func validateSizeField(sizeField int) error {
	switch sizeField {
	case 1, 2, 3, 4:
		return nil
	default:
		return fmt.Errorf("varlen: size_field must be one of 1,2,3,4, got %d: %w", sizeField, errors.ErrInvalid)
	}
}

func validateProfile(profile []int) error {
	if len(profile) == 0 {
		return fmt.Errorf("varlen: length_profile must not be empty: %w", errors.ErrInvalid)
	}
	for _, p := range profile {
		if p <= 0 {
			return fmt.Errorf("varlen: length_profile entries must be positive, got %d: %w", p, errors.ErrInvalid)
		}
	}
	return nil
}

// Create initializes a brand-new, empty variable-length series directory.
func Create(dir string, sizeField int, profile []int, maxEntriesPerChunk, pageSize uint32, gzipLevel int) (*Series, error) {
	if err := validateSizeField(sizeField); err != nil {
		return nil, err
	}
	if err := validateProfile(profile); err != nil {
		return nil, err
	}
	if err := files.EnsureDirExists(dir); err != nil {
		return nil, fmt.Errorf("varlen: %w", err)
	}

	extra := metadata.Document{}
	extra.SetIntSlice(metadataKeyLengthProfile, profile)
	extra[metadataKeySizeField] = sizeField

	p0 := profile[0]
	root, err := series.Create(filepath.Join(dir, rootDirName), uint32(sizeField+p0), maxEntriesPerChunk, pageSize, gzipLevel, extra)
	if err != nil {
		return nil, err
	}

	return &Series{
		log:                logging.NewLogger("varlen:" + filepath.Base(dir)),
		dir:                dir,
		sizeField:          sizeField,
		profile:            append([]int(nil), profile...),
		maxEntriesPerChunk: maxEntriesPerChunk,
		pageSize:           pageSize,
		gzipLevel:          gzipLevel,
		root:               root,
	}, nil
}

// Open reads an existing variable-length series directory: its root
// sub-series (which carries size_field/length_profile in its metadata) and
// every numbered overflow sub-series already on disk.
func Open(dir string) (*Series, error) {
	root, err := series.Open(filepath.Join(dir, rootDirName))
	if err != nil {
		return nil, err
	}
	extra := root.Extra()
	sizeField64, err := extra.GetUint64(metadataKeySizeField)
	if err != nil {
		return nil, err
	}
	sizeField := int(sizeField64)
	if err := validateSizeField(sizeField); err != nil {
		return nil, err
	}
	profileInts, err := extra.GetIntSlice(metadataKeyLengthProfile)
	if err != nil {
		return nil, err
	}
	if err := validateProfile(profileInts); err != nil {
		return nil, err
	}

	s := &Series{
		log:                logging.NewLogger("varlen:" + filepath.Base(dir)),
		dir:                dir,
		sizeField:          sizeField,
		profile:            profileInts,
		root:               root,
		maxEntriesPerChunk: root.MaxEntriesPerChunk(),
		pageSize:           root.PageSize(),
		gzipLevel:          root.GzipLevel(),
	}

	for k := 1; ; k++ {
		subDir := filepath.Join(dir, strconv.Itoa(k))
		if _, err := os.Stat(subDir); err != nil {
			break
		}
		sub, err := series.Open(subDir)
		if err != nil {
			return nil, err
		}
		s.subs = append(s.subs, sub)
	}
	return s, nil
}

// capacity returns the total number of payload bytes the root plus every
// existing sub-series can currently hold.
func (s *Series) capacity() int {
	total := s.profile[0]
	for k := range s.subs {
		total += profileAt(s.profile, k+1)
	}
	return total
}

// ensureCapacity creates new sub-series, per the length profile, until the
// series can hold a record of length n.
func (s *Series) ensureCapacity(n int) error {
	for s.capacity() < n {
		k := len(s.subs) + 1
		blockSize := profileAt(s.profile, k)
		subDir := filepath.Join(s.dir, strconv.Itoa(k))
		sub, err := series.Create(subDir, uint32(blockSize), s.maxEntriesPerChunk, s.pageSize, s.gzipLevel, nil)
		if err != nil {
			return err
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// MaxLength returns the largest record length size_field can encode.
func (s *Series) MaxLength() uint64 {
	return maxEncodableLength(s.sizeField)
}

// Append writes one logical variable-length record, sharding it across the
// root and as many overflow sub-series as its length requires.
func (s *Series) Append(ts uint64, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return fmt.Errorf("varlen: %s is closed: %w", s.dir, errors.ErrInvalidState)
	}
	if uint64(len(data)) > s.MaxLength() {
		return fmt.Errorf("varlen: record of %d bytes exceeds max length %d for size_field=%d: %w", len(data), s.MaxLength(), s.sizeField, errors.ErrInvalid)
	}
	if err := s.ensureCapacity(len(data)); err != nil {
		return err
	}

	sizeEncoded := encodeSize(s.sizeField, len(data))
	p0 := s.profile[0]

	if len(data) <= p0 {
		head := append(append([]byte(nil), sizeEncoded...), data...)
		return s.root.AppendPadded(ts, head)
	}

	head := append(append([]byte(nil), sizeEncoded...), data[:p0]...)
	if err := s.root.Append(ts, head); err != nil {
		return err
	}
	offset := p0
	for k := 1; offset < len(data); k++ {
		width := profileAt(s.profile, k)
		end := offset + width
		var chunk []byte
		if end <= len(data) {
			chunk = data[offset:end]
		} else {
			chunk = data[offset:]
		}
		if err := s.subs[k-1].AppendPadded(ts, chunk); err != nil {
			return err
		}
		offset += width
	}
	return nil
}

// Sync calls series.Sync on the root and on every sub-series: each writes its
// metadata document; chunk mappings are not flushed to disk.
func (s *Series) Sync() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.root.Sync(); err != nil {
		return err
	}
	for _, sub := range s.subs {
		if err := sub.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the root and every sub-series. It refuses with ErrStillOpen
// if any VarlenEntry or read iterator still references this series, unless
// force is set.
func (s *Series) Close(force bool) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return nil
	}
	if !force && atomic.LoadInt32(&s.references) > 0 {
		return fmt.Errorf("varlen: %s has %d outstanding references: %w", s.dir, s.references, errors.ErrStillOpen)
	}
	if err := s.root.Close(); err != nil {
		return err
	}
	for _, sub := range s.subs {
		if err := sub.Close(); err != nil {
			return err
		}
	}
	s.closed = true
	return nil
}

// Delete closes (forced) the series and recursively removes its directory.
func (s *Series) Delete() error {
	if err := s.Close(true); err != nil {
		return err
	}
	return os.RemoveAll(s.dir)
}

func (s *Series) incref() { atomic.AddInt32(&s.references, 1) }
func (s *Series) decref() { atomic.AddInt32(&s.references, -1) }
