// Copyright 2023 The acquirecloud Authors
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
package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureDirExistsCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "aaa", "bbb")

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.Nil(t, EnsureDirExists(dir))
	fi, err := os.Stat(dir)
	assert.Nil(t, err)
	assert.True(t, fi.IsDir())
}

func TestEnsureDirExistsIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	assert.Nil(t, EnsureDirExists(dir))
	assert.Nil(t, EnsureDirExists(dir))
}

func TestEnsureDirExistsRejectsFileInThePath(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "notadir")
	assert.Nil(t, os.WriteFile(f, []byte("x"), 0640))

	assert.NotNil(t, EnsureDirExists(filepath.Join(f, "child")))
}
