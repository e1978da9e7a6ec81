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
package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

func TestCreateAndLoadTextual(t *testing.T) {
	dir := t.TempDir()
	doc := Document{"block_size": 8, "max_entries_per_chunk": 1024}
	codec, err := Create(dir, doc, false)
	assert.NoError(t, err)
	assert.Equal(t, Textual, codec)

	_, err = os.Stat(filepath.Join(dir, TextualFileName))
	assert.NoError(t, err)

	loaded, loadedCodec, err := Load(dir)
	assert.NoError(t, err)
	assert.Equal(t, Textual, loadedCodec)
	bs, err := loaded.GetUint32("block_size")
	assert.NoError(t, err)
	assert.Equal(t, uint32(8), bs)
}

func TestCreateAndLoadCompact(t *testing.T) {
	dir := t.TempDir()
	doc := Document{"block_size": 16, "size_field": 2}
	codec, err := Create(dir, doc, true)
	assert.NoError(t, err)
	assert.Equal(t, Compact, codec)

	_, err = os.Stat(filepath.Join(dir, CompactFileName))
	assert.NoError(t, err)

	loaded, loadedCodec, err := Load(dir)
	assert.NoError(t, err)
	assert.Equal(t, Compact, loadedCodec)
	sf, err := loaded.GetUint32("size_field")
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), sf)
}

func TestLoadMissingIsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(dir)
	assert.ErrorIs(t, err, errors.ErrNotExist)
}

func TestLoadBothPresentIsEnvironmentError(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, Document{"block_size": 8}, false)
	assert.NoError(t, err)
	_, err = Create(dir, Document{"block_size": 8}, true)
	assert.ErrorIs(t, err, errors.ErrExist)

	// Force both files to exist to exercise Load's ambiguity check.
	assert.NoError(t, Save(dir, Document{"block_size": 8}, Compact))
	_, _, err = Load(dir)
	assert.ErrorIs(t, err, errors.ErrEnvironment)
}

func TestCreateRejectsExisting(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, Document{"block_size": 8}, false)
	assert.NoError(t, err)
	_, err = Create(dir, Document{"block_size": 8}, false)
	assert.ErrorIs(t, err, errors.ErrExist)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	_, err := Create(dir, Document{"last_entry_synced": 1}, true)
	assert.NoError(t, err)

	assert.NoError(t, Save(dir, Document{"last_entry_synced": 42}, Compact))
	loaded, _, err := Load(dir)
	assert.NoError(t, err)
	v, err := loaded.GetUint64("last_entry_synced")
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIntSliceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := Document{}
	doc.SetIntSlice("length_profile", []int{8, 16, 32})
	_, err := Create(dir, doc, false)
	assert.NoError(t, err)

	loaded, _, err := Load(dir)
	assert.NoError(t, err)
	vals, err := loaded.GetIntSlice("length_profile")
	assert.NoError(t, err)
	assert.Equal(t, []int{8, 16, 32}, vals)
}

func TestGetUint64DefaultAbsent(t *testing.T) {
	d := Document{}
	assert.Equal(t, uint64(7), d.GetUint64Default("missing", 7))
}
