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

// Package tempsdb is the database entry point: a directory multiplexer that
// opens or creates named fixed-length and variable-length series on demand,
// enforcing the reserved-name rule from the directory layout.
package tempsdb

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tempsdb/tempsdb/golibs/container/lru"
	"github.com/tempsdb/tempsdb/golibs/errors"
	"github.com/tempsdb/tempsdb/golibs/files"
	"github.com/tempsdb/tempsdb/golibs/logging"
	"github.com/tempsdb/tempsdb/series"
	"github.com/tempsdb/tempsdb/varlen"
)

const (
	varlenDirName = "varlen"

	// defaultSeriesLockCapacity bounds how many distinct series names can
	// have an in-flight open/create call at once; requests beyond that
	// block in GetOrCreate until a slot is released, the same limiter role
	// the teacher's localLog.lockers plays for per-log locks.
	defaultSeriesLockCapacity = 256
)

var reservedNames = map[string]bool{
	"varlen":   true,
	"metadata": true,
}

func isReservedName(name string) bool {
	if reservedNames[name] {
		return true
	}
	return len(name) >= len("metadata.") && name[:len("metadata.")] == "metadata."
}

type (
	// DB is a directory of named series, opened lazily and cached for the
	// process lifetime.
	DB struct {
		dir string
		log logging.Logger

		lock     sync.Mutex
		fixed    map[string]*series.Series
		varlens  map[string]*varlen.Series
		lockers  *lru.ReleasableCache[string, *nameLock]
		closed   bool

		defaultMaxEntriesPerChunk uint32
		defaultPageSize           uint32
		defaultGzipLevel          int
	}

	nameLock struct {
		mu sync.Mutex
	}

	// Options configures defaults DB uses when creating a series that
	// doesn't already exist on disk.
	Options struct {
		MaxEntriesPerChunk uint32
		PageSize           uint32
		GzipLevel          int
	}
)

// Open opens (creating if absent) the database directory at dir.
func Open(dir string, opts Options) (*DB, error) {
	if opts.MaxEntriesPerChunk == 0 {
		opts.MaxEntriesPerChunk = 4096
	}
	if opts.PageSize == 0 {
		opts.PageSize = 4096
	}
	if err := files.EnsureDirExists(filepath.Join(dir, varlenDirName)); err != nil {
		return nil, fmt.Errorf("tempsdb: %w", err)
	}

	db := &DB{
		dir:                       dir,
		log:                       logging.NewLogger("tempsdb:" + filepath.Base(dir)),
		fixed:                     map[string]*series.Series{},
		varlens:                   map[string]*varlen.Series{},
		defaultMaxEntriesPerChunk: opts.MaxEntriesPerChunk,
		defaultPageSize:           opts.PageSize,
		defaultGzipLevel:          opts.GzipLevel,
	}

	lockers, err := lru.NewReleasableCache[string, *nameLock](defaultSeriesLockCapacity,
		func(ctx context.Context, name string) (*nameLock, error) {
			return &nameLock{}, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	db.lockers = lockers
	return db, nil
}

func (db *DB) seriesDir(name string) string {
	return filepath.Join(db.dir, name)
}

func (db *DB) varlenDir(name string) string {
	return filepath.Join(db.dir, varlenDirName, name)
}

// withNameLock serializes open-or-create for one series name across
// concurrent callers, without holding db.lock for the (possibly slow)
// directory I/O of Open/Create.
func (db *DB) withNameLock(ctx context.Context, name string, f func() error) error {
	rl, err := db.lockers.GetOrCreate(ctx, name)
	if err != nil {
		return fmt.Errorf("tempsdb: could not obtain lock for series %q: %w", name, err)
	}
	defer db.lockers.Release(&rl)
	rl.Value().mu.Lock()
	defer rl.Value().mu.Unlock()
	return f()
}

// Series returns the fixed-length series named name, opening it from disk
// or creating it with blockSize if it doesn't yet exist.
func (db *DB) Series(ctx context.Context, name string, blockSize uint32) (*series.Series, error) {
	if isReservedName(name) {
		return nil, fmt.Errorf("tempsdb: series name %q is reserved: %w", name, errors.ErrInvalid)
	}

	db.lock.Lock()
	if db.closed {
		db.lock.Unlock()
		return nil, fmt.Errorf("tempsdb: %s is closed: %w", db.dir, errors.ErrInvalidState)
	}
	if s, ok := db.fixed[name]; ok {
		db.lock.Unlock()
		return s, nil
	}
	db.lock.Unlock()

	var result *series.Series
	err := db.withNameLock(ctx, name, func() error {
		db.lock.Lock()
		if s, ok := db.fixed[name]; ok {
			db.lock.Unlock()
			result = s
			return nil
		}
		db.lock.Unlock()

		dir := db.seriesDir(name)
		s, err := series.Open(dir)
		if errors.Is(err, errors.ErrNotExist) {
			s, err = series.Create(dir, blockSize, db.defaultMaxEntriesPerChunk, db.defaultPageSize, db.defaultGzipLevel, nil)
		}
		if err != nil {
			return err
		}

		db.lock.Lock()
		db.fixed[name] = s
		db.lock.Unlock()
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Varlen returns the variable-length series named name, opening it from
// disk or creating it with sizeField/profile if it doesn't yet exist.
func (db *DB) Varlen(ctx context.Context, name string, sizeField int, profile []int) (*varlen.Series, error) {
	if isReservedName(name) {
		return nil, fmt.Errorf("tempsdb: varlen series name %q is reserved: %w", name, errors.ErrInvalid)
	}

	db.lock.Lock()
	if db.closed {
		db.lock.Unlock()
		return nil, fmt.Errorf("tempsdb: %s is closed: %w", db.dir, errors.ErrInvalidState)
	}
	if s, ok := db.varlens[name]; ok {
		db.lock.Unlock()
		return s, nil
	}
	db.lock.Unlock()

	var result *varlen.Series
	err := db.withNameLock(ctx, "varlen/"+name, func() error {
		db.lock.Lock()
		if s, ok := db.varlens[name]; ok {
			db.lock.Unlock()
			result = s
			return nil
		}
		db.lock.Unlock()

		dir := db.varlenDir(name)
		s, err := varlen.Open(dir)
		if errors.Is(err, errors.ErrNotExist) {
			s, err = varlen.Create(dir, sizeField, profile, db.defaultMaxEntriesPerChunk, db.defaultPageSize, db.defaultGzipLevel)
		}
		if err != nil {
			return err
		}

		db.lock.Lock()
		db.varlens[name] = s
		db.lock.Unlock()
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes every series opened through this DB. It does not sync them.
func (db *DB) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()
	if db.closed {
		return nil
	}
	var firstErr error
	for name, s := range db.fixed {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tempsdb: closing series %q: %w", name, err)
		}
	}
	for name, s := range db.varlens {
		if err := s.Close(false); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tempsdb: closing varlen series %q: %w", name, err)
		}
	}
	if err := db.lockers.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	db.closed = true
	return firstErr
}
