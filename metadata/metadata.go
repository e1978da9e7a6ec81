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

// Package metadata reads and writes the small key-value document that sits
// alongside a series' chunks, in either of two interchangeable on-disk
// forms: a textual (YAML/JSON-compatible) file named "metadata" or a
// compact binary (msgpack) file named "metadata.msgpack". Exactly one of
// the two is expected to exist for any given series directory.
package metadata

import (
	"fmt"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

// Document is the decoded key-value metadata for a series. Keys are the
// ones spec'd for fixed-length series (block_size, max_entries_per_chunk,
// last_entry_synced, page_size, optional metadata/gzip_level) plus, for a
// varlen root series, size_field and length_profile.
type Document map[string]interface{}

func (d Document) getUint64(key string) (uint64, bool) {
	v, ok := d[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	case float64:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	}
	return 0, false
}

// GetUint64 returns a required uint64-valued key, failing with ErrCorruption
// if the key is absent or not numeric.
func (d Document) GetUint64(key string) (uint64, error) {
	v, ok := d.getUint64(key)
	if !ok {
		return 0, fmt.Errorf("metadata: missing or invalid key %q: %w", key, errors.ErrCorruption)
	}
	return v, nil
}

// GetUint32 returns a required uint32-valued key.
func (d Document) GetUint32(key string) (uint32, error) {
	v, err := d.GetUint64(key)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// GetUint64Default returns a uint64-valued key or def if absent.
func (d Document) GetUint64Default(key string, def uint64) uint64 {
	v, ok := d.getUint64(key)
	if !ok {
		return def
	}
	return v
}

// GetIntSlice returns a required slice-of-positive-int key (e.g. length_profile).
func (d Document) GetIntSlice(key string) ([]int, error) {
	v, ok := d[key]
	if !ok {
		return nil, fmt.Errorf("metadata: missing key %q: %w", key, errors.ErrCorruption)
	}
	raw, ok := v.([]interface{})
	if !ok {
		if is, ok2 := v.([]int); ok2 {
			return is, nil
		}
		return nil, fmt.Errorf("metadata: key %q is not an array: %w", key, errors.ErrCorruption)
	}
	out := make([]int, 0, len(raw))
	for _, e := range raw {
		switch n := e.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		default:
			return nil, fmt.Errorf("metadata: key %q contains a non-numeric element: %w", key, errors.ErrCorruption)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("metadata: key %q must not be empty: %w", key, errors.ErrCorruption)
	}
	return out, nil
}

// SetIntSlice stores a slice of ints under key.
func (d Document) SetIntSlice(key string, vals []int) {
	d[key] = vals
}
