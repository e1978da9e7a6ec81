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
package mmio

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	tdberrors "github.com/tempsdb/tempsdb/golibs/errors"
)

func TestCreateRejectsNonPositiveSize(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "f"), 0, false)
	assert.ErrorIs(t, err, tdberrors.ErrInvalid)
}

func TestCreateRejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	bs, err := Create(path, 16, true)
	assert.NoError(t, err)
	assert.NoError(t, bs.Close())

	_, err = Create(path, 16, true)
	assert.ErrorIs(t, err, tdberrors.ErrExist)
}

func TestOpenMissingFileReturnsErrNotExist(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), true)
	assert.ErrorIs(t, err, tdberrors.ErrNotExist)
}

func TestDescriptorBackedWriteReadGrowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	bs, err := Create(path, 8, true)
	assert.NoError(t, err)
	assert.False(t, bs.Mapped())
	assert.Equal(t, int64(8), bs.Size())

	n, err := bs.WriteAt([]byte("abcdefgh"), 0)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)

	assert.NoError(t, bs.Grow(16))
	assert.Equal(t, int64(16), bs.Size())

	n, err = bs.WriteAt([]byte("ijklmnop"), 8)
	assert.NoError(t, err)
	assert.Equal(t, 8, n)

	buf := make([]byte, 16)
	n, err = bs.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, "abcdefghijklmnop", string(buf))

	assert.NoError(t, bs.Sync())
	assert.NoError(t, bs.Close())

	reopened, err := Open(path, true)
	assert.NoError(t, err)
	assert.Equal(t, int64(16), reopened.Size())
	n, err = reopened.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", string(buf))
	assert.NoError(t, reopened.Close())
}

func TestMappedWriteReadGrowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	bs, err := Create(path, 8, false)
	assert.NoError(t, err)
	assert.True(t, bs.Mapped())

	_, err = bs.WriteAt([]byte("12345678"), 0)
	assert.NoError(t, err)
	assert.NoError(t, bs.Grow(12))
	_, err = bs.WriteAt([]byte("90ab"), 8)
	assert.NoError(t, err)

	buf := make([]byte, 12)
	_, err = bs.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, "1234567890ab", string(buf))
	assert.NoError(t, bs.Close())
}

func TestOutOfBoundsReadWriteRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	bs, err := Create(path, 4, true)
	assert.NoError(t, err)
	defer bs.Close()

	_, err = bs.ReadAt(make([]byte, 8), 0)
	assert.ErrorIs(t, err, tdberrors.ErrInvalid)

	_, err = bs.WriteAt(make([]byte, 8), 0)
	assert.ErrorIs(t, err, tdberrors.ErrInvalid)
}

func TestGrowRejectsShrink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	bs, err := Create(path, 8, true)
	assert.NoError(t, err)
	defer bs.Close()

	assert.ErrorIs(t, bs.Grow(4), tdberrors.ErrInvalid)
}

func TestIsRecoverableDistinguishesResourceLimitsFromOtherErrors(t *testing.T) {
	assert.False(t, IsRecoverable(nil))
	assert.False(t, IsRecoverable(tdberrors.ErrInvalid))
	assert.True(t, IsRecoverable(syscall.ENOMEM))
}
