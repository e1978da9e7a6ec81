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
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/tempsdb/tempsdb/golibs/errors"
)

// TextualFileName is the on-disk name of the YAML/JSON-compatible codec's file.
const TextualFileName = "metadata"

// CompactFileName is the on-disk name of the msgpack codec's file.
const CompactFileName = "metadata.msgpack"

type (
	// Codec encodes and decodes a Document to and from one on-disk
	// representation.
	Codec interface {
		// FileName is the base name the codec reads/writes within a series
		// directory.
		FileName() string
		Encode(doc Document) ([]byte, error)
		Decode(data []byte) (Document, error)
	}

	textualCodec struct{}
	compactCodec struct{}
)

// Textual is the YAML/JSON-compatible codec, backed by ghodss/yaml (which
// round-trips through encoding/json's struct tags and map semantics).
var Textual Codec = textualCodec{}

// Compact is the msgpack codec.
var Compact Codec = compactCodec{}

func (textualCodec) FileName() string { return TextualFileName }

func (textualCodec) Encode(doc Document) ([]byte, error) {
	data, err := yaml.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, fmt.Errorf("metadata: encoding textual document: %w", err)
	}
	return data, nil
}

func (textualCodec) Decode(data []byte) (Document, error) {
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata: decoding textual document: %w: %w", err, errors.ErrCorruption)
	}
	return Document(m), nil
}

func (compactCodec) FileName() string { return CompactFileName }

func (compactCodec) Encode(doc Document) ([]byte, error) {
	data, err := msgpack.Marshal(map[string]interface{}(doc))
	if err != nil {
		return nil, fmt.Errorf("metadata: encoding compact document: %w", err)
	}
	return data, nil
}

func (compactCodec) Decode(data []byte) (Document, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("metadata: decoding compact document: %w: %w", err, errors.ErrCorruption)
	}
	return Document(m), nil
}

// Load reads the metadata document from dir, auto-detecting which codec's
// file is present. Presence of both is an environment error; presence of
// neither is ErrNotExist.
func Load(dir string) (Document, Codec, error) {
	textualPath := filepath.Join(dir, TextualFileName)
	compactPath := filepath.Join(dir, CompactFileName)
	_, textualErr := os.Stat(textualPath)
	_, compactErr := os.Stat(compactPath)
	textualPresent := textualErr == nil
	compactPresent := compactErr == nil

	if textualPresent && compactPresent {
		return nil, nil, fmt.Errorf("metadata: both %s and %s present in %s: %w", TextualFileName, CompactFileName, dir, errors.ErrEnvironment)
	}
	if !textualPresent && !compactPresent {
		return nil, nil, fmt.Errorf("metadata: no metadata file in %s: %w", dir, errors.ErrNotExist)
	}

	codec := Compact
	path := compactPath
	if textualPresent {
		codec = Textual
		path = textualPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata: reading %s: %w", path, err)
	}
	doc, err := codec.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	return doc, codec, nil
}

// Save atomically (write-temp-then-rename) writes doc to dir using codec.
func Save(dir string, doc Document, codec Codec) error {
	data, err := codec.Encode(doc)
	if err != nil {
		return err
	}
	final := filepath.Join(dir, codec.FileName())
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", codec.FileName(), uuid.NewString()))
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return fmt.Errorf("metadata: writing temp file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("metadata: renaming %s to %s: %w", tmp, final, err)
	}
	return nil
}

// Create writes a brand-new metadata document to dir. It fails with
// ErrExist if either codec's file already exists there. preferCompact
// selects msgpack when true (the default per spec: prefer compact on
// create), otherwise the textual codec is used.
func Create(dir string, doc Document, preferCompact bool) (Codec, error) {
	for _, name := range []string{TextualFileName, CompactFileName} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return nil, fmt.Errorf("metadata: %s already exists in %s: %w", name, dir, errors.ErrExist)
		}
	}
	codec := Textual
	if preferCompact {
		codec = Compact
	}
	if err := Save(dir, doc, codec); err != nil {
		return nil, err
	}
	return codec, nil
}
