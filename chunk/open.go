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
package chunk

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

// Layout describes which of the three on-disk chunk formats a file name or a
// creation request refers to: Normal (page-aligned, footer), Direct (exact
// fit, no footer), or Direct+gzip (Direct, gzip-framed).
type Layout struct {
	Direct bool
	Gzip   bool
}

const (
	directExt = ".direct"
	gzipExt   = ".gz"
)

// FileName returns the on-disk file name for a chunk whose record 0 has
// timestamp minTs, per the layout's extension convention: "" for Normal,
// ".direct" for Direct, ".gz" for Direct+gzip.
func FileName(minTs uint64, l Layout) string {
	name := strconv.FormatUint(minTs, 10)
	if !l.Direct {
		return name
	}
	if l.Gzip {
		return name + gzipExt
	}
	return name + directExt
}

// ParseFileName extracts the min_ts and layout encoded in a chunk file's base
// name. It rejects names that aren't a plain unsigned integer optionally
// followed by one of the known extensions.
func ParseFileName(name string) (uint64, Layout, error) {
	base := name
	l := Layout{}
	switch {
	case strings.HasSuffix(base, gzipExt):
		base = strings.TrimSuffix(base, gzipExt)
		l.Direct, l.Gzip = true, true
	case strings.HasSuffix(base, directExt):
		base = strings.TrimSuffix(base, directExt)
		l.Direct = true
	}
	minTs, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, Layout{}, fmt.Errorf("chunk: %q is not a valid chunk file name: %w", name, errors.ErrInvalid)
	}
	return minTs, l, nil
}

// defaultPageSize is used for Normal chunk preallocation when Options.PageSize
// is left at zero.
const defaultPageSize = 4096

// Options bundles the knobs needed to create or open a chunk that are not
// part of its on-disk identity (min_ts, layout).
type Options struct {
	// Dir is the series directory the chunk file lives in.
	Dir string
	// DescriptorBased forces descriptor-based I/O for Normal/Direct chunks
	// instead of attempting mmap.
	DescriptorBased bool
	// PageSize is the preallocation unit for Normal chunks. Zero means
	// defaultPageSize.
	PageSize uint32
	// GzipLevel is the compression level used when flushing a gzip chunk;
	// see compress/gzip for valid values.
	GzipLevel int
}

func (o Options) pageSize() uint32 {
	if o.PageSize == 0 {
		return defaultPageSize
	}
	return o.PageSize
}

func (o Options) path(minTs uint64, l Layout) string {
	return filepath.Join(o.Dir, FileName(minTs, l))
}

// Create creates a new chunk of the requested layout, seeded with one record.
func Create(owner Owner, minTs uint64, data []byte, l Layout, o Options) (Chunk, error) {
	path := o.path(minTs, l)
	switch {
	case !l.Direct:
		return CreateNormal(owner, path, minTs, data, o.pageSize(), o.DescriptorBased)
	case l.Gzip:
		return CreateGzip(owner, path, minTs, data, o.GzipLevel)
	default:
		return CreateDirect(owner, path, minTs, data, o.DescriptorBased)
	}
}

// Open opens an existing chunk of the requested layout.
func Open(owner Owner, minTs uint64, l Layout, o Options) (Chunk, error) {
	path := o.path(minTs, l)
	switch {
	case !l.Direct:
		return OpenNormal(owner, path, minTs, o.pageSize(), o.DescriptorBased)
	case l.Gzip:
		return OpenGzip(owner, path, minTs, o.GzipLevel)
	default:
		return OpenDirect(owner, path, minTs, o.DescriptorBased)
	}
}
