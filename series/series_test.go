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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

func pad(n int, b byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = b
	}
	return p
}

func TestCreateAppendAndReadRange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s1")
	s, err := Create(dir, 4, 10, 4096, 0, nil)
	assert.NoError(t, err)

	assert.NoError(t, s.Append(100, []byte{1, 2, 3, 4}))
	assert.NoError(t, s.Append(200, []byte{5, 6, 7, 8}))
	assert.NoError(t, s.Append(300, []byte{9, 10, 11, 12}))

	it, err := s.IterateRange(0, 1000)
	assert.NoError(t, err)
	var got [][2]interface{}
	for {
		ts, data, ok, err := it.Next()
		assert.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, [2]interface{}{ts, append([]byte(nil), data...)})
	}
	assert.NoError(t, it.Close())
	assert.Len(t, got, 3)
	assert.Equal(t, uint64(100), got[0][0])
	assert.Equal(t, uint64(300), got[2][0])

	it2, err := s.IterateRange(150, 250)
	assert.NoError(t, err)
	ts, data, ok, err := it2.Next()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(200), ts)
	assert.Equal(t, []byte{5, 6, 7, 8}, data)
	_, _, ok, err = it2.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, it2.Close())

	ts, data, err = s.GetCurrentValue()
	assert.NoError(t, err)
	assert.Equal(t, uint64(300), ts)
	assert.Equal(t, []byte{9, 10, 11, 12}, data)

	assert.NoError(t, s.Close())
}

func TestAppendRejectsWrongSizeOrOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s2")
	s, err := Create(dir, 4, 10, 4096, 0, nil)
	assert.NoError(t, err)
	assert.NoError(t, s.Append(10, pad(4, 1)))
	assert.ErrorIs(t, s.Append(10, pad(4, 1)), errors.ErrInvalid)
	assert.ErrorIs(t, s.Append(5, pad(4, 1)), errors.ErrInvalid)
	assert.ErrorIs(t, s.Append(20, pad(3, 1)), errors.ErrInvalid)
	assert.NoError(t, s.Close())
}

func TestAppendPadded(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s3")
	s, err := Create(dir, 4, 10, 4096, 0, nil)
	assert.NoError(t, err)
	assert.NoError(t, s.AppendPadded(1, []byte{9}))
	_, data, err := s.GetCurrentValue()
	assert.NoError(t, err)
	assert.Equal(t, []byte{9, 0, 0, 0}, data)
	assert.ErrorIs(t, s.AppendPadded(2, pad(5, 1)), errors.ErrInvalid)
	assert.NoError(t, s.Close())
}

func TestRolloverAndReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s4")
	s, err := Create(dir, 4, 3, 4096, 0, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 10; ts++ {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}
	assert.Len(t, s.chunks, 4) // 3,3,3,1
	assert.NoError(t, s.Sync())
	assert.NoError(t, s.Close())

	s2, err := Open(dir)
	assert.NoError(t, err)
	assert.Equal(t, uint64(10), s2.LastEntryTs())

	it, err := s2.IterateRange(0, 100)
	assert.NoError(t, err)
	count := 0
	for {
		_, _, ok, err := it.Next()
		assert.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 10, count)
	assert.NoError(t, it.Close())
	assert.NoError(t, s2.Close())
}

func TestCloseChunksAndPressureHook(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s5")
	s, err := Create(dir, 4, 2, 4096, 0, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 8; ts++ {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}
	assert.Len(t, s.openChunks, 4)
	s.closeChunks()
	// last_chunk always stays open; it has no outstanding external refs but
	// is excluded from closeChunks by identity.
	assert.Len(t, s.openChunks, 1)

	for ts := uint64(9); ts <= 12; ts++ {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}
	s.SetPressureHook(func() int { return 0 })
	s.ApplyPressureHook()
	assert.Len(t, s.openChunks, 1)
	assert.NoError(t, s.Close())
}

func TestCloseChunksSparesChunksUnderIteration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s5b")
	s, err := Create(dir, 4, 2, 4096, 0, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 8; ts++ {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}
	assert.Len(t, s.openChunks, 4)

	it, err := s.IterateRange(0, 1<<62)
	assert.NoError(t, err)
	s.closeChunks()
	assert.Len(t, s.openChunks, 4, "chunks referenced by the open iterator must survive closeChunks")

	assert.NoError(t, it.Close())
	s.closeChunks()
	assert.Len(t, s.openChunks, 1, "once the iterator releases its references, closeChunks evicts everything but last_chunk")
	assert.NoError(t, s.Close())
}

func TestTrim(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s6")
	s, err := Create(dir, 4, 1, 4096, 0, nil)
	assert.NoError(t, err)
	for ts := uint64(10); ts <= 50; ts += 10 {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}
	assert.Len(t, s.chunks, 5)
	s.closeChunks()
	assert.NoError(t, s.Trim(30))
	// trim stops as soon as chunks[1].min_ts is no longer < threshold: 10 is
	// dropped (chunks[1]=20 < 30), then chunks[1]=30 is not < 30, so it stops.
	assert.Len(t, s.chunks, 4)
	assert.Equal(t, uint64(20), s.chunks[0].minTs)
	assert.NoError(t, s.Close())
}

func TestIterateRangeEmptySeries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s7")
	s, err := Create(dir, 4, 10, 4096, 0, nil)
	assert.NoError(t, err)
	it, err := s.IterateRange(0, 100)
	assert.NoError(t, err)
	_, _, ok, err := it.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, it.Close())
	assert.NoError(t, s.Close())
}

func TestOpenChunksMmapSizeMappedSeries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s9")
	s, err := Create(dir, 4, 2, 4096, 0, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 8; ts++ {
		assert.NoError(t, s.Append(ts, pad(4, byte(ts))))
	}

	var want int64
	for _, c := range s.openChunks {
		assert.True(t, c.Mapped())
		want += c.FileSize()
	}
	assert.Greater(t, want, int64(0))
	assert.Equal(t, want, s.OpenChunksMmapSize())
	assert.NoError(t, s.Close())
}

func TestOpenChunksMmapSizeGzipSeries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s10")
	s, err := Create(dir, 8, 5, 4096, 6, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 12; ts++ {
		assert.NoError(t, s.Append(ts, pad(8, byte(ts))))
	}

	assert.NotEmpty(t, s.openChunks)
	for _, c := range s.openChunks {
		assert.False(t, c.Mapped())
	}
	assert.Equal(t, int64(0), s.OpenChunksMmapSize())
	assert.NoError(t, s.Close())
}

func TestGzipBackedSeries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s8")
	s, err := Create(dir, 8, 5, 4096, 6, nil)
	assert.NoError(t, err)
	for ts := uint64(1); ts <= 12; ts++ {
		assert.NoError(t, s.Append(ts, pad(8, byte(ts))))
	}
	it, err := s.IterateRange(0, 100)
	assert.NoError(t, err)
	count := 0
	for {
		_, _, ok, err := it.Next()
		assert.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 12, count)
	assert.NoError(t, it.Close())
	assert.NoError(t, s.Close())
}
