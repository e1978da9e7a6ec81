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
package tempsdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

func TestSeriesCreateThenReopenSameInstance(t *testing.T) {
	db, err := Open(t.TempDir(), Options{MaxEntriesPerChunk: 10, PageSize: 4096})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s1, err := db.Series(ctx, "temperatures", 4)
	require.NoError(t, err)
	require.NoError(t, s1.Append(1, []byte{1, 2, 3, 4}))

	s2, err := db.Series(ctx, "temperatures", 4)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestVarlenCreateThenReopenSameInstance(t *testing.T) {
	db, err := Open(t.TempDir(), Options{MaxEntriesPerChunk: 10, PageSize: 4096})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	v1, err := db.Varlen(ctx, "events", 2, []int{4, 8})
	require.NoError(t, err)
	require.NoError(t, v1.Append(1, []byte("hi")))

	v2, err := db.Varlen(ctx, "events", 2, []int{4, 8})
	require.NoError(t, err)
	assert.Same(t, v1, v2)
}

func TestReservedNamesRejected(t *testing.T) {
	db, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.Series(ctx, "varlen", 4)
	assert.ErrorIs(t, err, errors.ErrInvalid)

	_, err = db.Series(ctx, "metadata", 4)
	assert.ErrorIs(t, err, errors.ErrInvalid)

	_, err = db.Series(ctx, "metadata.msgpack", 4)
	assert.ErrorIs(t, err, errors.ErrInvalid)

	_, err = db.Varlen(ctx, "metadata", 2, []int{4})
	assert.ErrorIs(t, err, errors.ErrInvalid)
}

func TestCloseClosesAllSeries(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, Options{MaxEntriesPerChunk: 10, PageSize: 4096})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = db.Series(ctx, "a", 4)
	require.NoError(t, err)
	_, err = db.Varlen(ctx, "b", 2, []int{4})
	require.NoError(t, err)

	require.NoError(t, db.Close())

	// a second DB over the same directory should reopen cleanly.
	db2, err := Open(dir, Options{MaxEntriesPerChunk: 10, PageSize: 4096})
	require.NoError(t, err)
	defer db2.Close()
	_, err = db2.Series(ctx, "a", 4)
	require.NoError(t, err)
}
