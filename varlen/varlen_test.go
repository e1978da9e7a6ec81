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
package varlen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

func readAll(t *testing.T, s *Series, start, stop uint64) []struct {
	ts   uint64
	data []byte
} {
	t.Helper()
	it, err := s.IterateRange(start, stop)
	require.NoError(t, err)
	defer it.Close()

	var out []struct {
		ts   uint64
		data []byte
	}
	for {
		e, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		data, err := e.Bytes()
		require.NoError(t, err)
		out = append(out, struct {
			ts   uint64
			data []byte
		}{e.Timestamp(), data})
		require.NoError(t, e.Close())
	}
	return out
}

func TestAppendReadRootOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{8}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	require.NoError(t, s.Append(10, []byte("hi")))
	require.NoError(t, s.Append(20, []byte("hello")))

	got := readAll(t, s, 0, 100)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(10), got[0].ts)
	assert.Equal(t, []byte("hi"), got[0].data)
	assert.Equal(t, uint64(20), got[1].ts)
	assert.Equal(t, []byte("hello"), got[1].data)
}

func TestAppendReadSpanningSubSeries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{4, 4}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	long := []byte("abcdefghij") // 10 bytes: 4 root + 4 sub1 + 2 sub2
	require.NoError(t, s.Append(5, long))
	require.Len(t, s.subs, 2)

	got := readAll(t, s, 0, 100)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].ts)
	assert.Equal(t, long, got[0].data)
}

func TestProfileLastElementRepeats(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{2, 3}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	// 2 (root) + 3 (sub1) + 3 (sub2, repeats last profile element) = 8
	data := []byte("ABCDEFGH")
	require.NoError(t, s.Append(1, data))
	require.Len(t, s.subs, 2)

	got := readAll(t, s, 0, 100)
	require.Len(t, got, 1)
	assert.Equal(t, data, got[0].data)
}

func TestMultipleRecordsInterleaved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{4}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	require.NoError(t, s.Append(1, []byte("ab")))
	require.NoError(t, s.Append(2, []byte("abcdefgh"))) // spans a sub-series
	require.NoError(t, s.Append(3, []byte("xyz")))

	got := readAll(t, s, 0, 100)
	require.Len(t, got, 3)
	assert.Equal(t, []byte("ab"), got[0].data)
	assert.Equal(t, []byte("abcdefgh"), got[1].data)
	assert.Equal(t, []byte("xyz"), got[2].data)
}

func TestRejectsLengthAboveMax(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 1, []int{4}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	big := make([]byte, 300) // size_field=1 maxes out at 255
	err = s.Append(1, big)
	assert.ErrorIs(t, err, errors.ErrInvalid)
}

func TestInvalidSizeFieldRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	_, err := Create(dir, 5, []int{4}, 10, 4096, 0)
	assert.ErrorIs(t, err, errors.ErrInvalid)
}

func TestCloseRefusesWithOutstandingIterator(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{8}, 10, 4096, 0)
	require.NoError(t, err)

	require.NoError(t, s.Append(1, []byte("hi")))

	it, err := s.IterateRange(0, 100)
	require.NoError(t, err)

	err = s.Close(false)
	assert.ErrorIs(t, err, errors.ErrStillOpen)

	require.NoError(t, it.Close())
	require.NoError(t, s.Close(false))
}

func TestCreateOpenRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 3, []int{4, 6}, 10, 4096, 0)
	require.NoError(t, err)
	require.NoError(t, s.Append(1, []byte("0123456789")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close(true))

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close(true)

	assert.Equal(t, 3, reopened.sizeField)
	assert.Equal(t, []int{4, 6}, reopened.profile)
	require.Len(t, reopened.subs, 1)

	got := readAll(t, reopened, 0, 100)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("0123456789"), got[0].data)
}

func TestEntryHelpers(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "s")
	s, err := Create(dir, 2, []int{4, 4}, 10, 4096, 0)
	require.NoError(t, err)
	defer s.Close(true)

	require.NoError(t, s.Append(1, []byte("abcdefgh")))

	it, err := s.IterateRange(0, 100)
	require.NoError(t, err)
	defer it.Close()

	e, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	defer e.Close()

	n, err := e.Length()
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	ok2, err := e.StartsWith([]byte("abc"))
	require.NoError(t, err)
	assert.True(t, ok2)

	ok3, err := e.EndsWith([]byte("fgh"))
	require.NoError(t, err)
	assert.True(t, ok3)

	eq, err := e.Equal([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.True(t, eq)

	b, err := e.ByteAt(3)
	require.NoError(t, err)
	assert.Equal(t, byte('d'), b)

	mid, err := e.Slice(2, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte("cdef"), mid)

	cmp, err := e.Compare([]byte("abcdefgh"))
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	h1, err := e.Hash()
	require.NoError(t, err)
	h2, err := e.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
