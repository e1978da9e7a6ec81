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
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotExist is returned when an object (a series, a chunk, a record) is
	// addressed by an identifier that does not exist.
	ErrNotExist = errors.New("object does not exist")
	// ErrExist is returned when a create operation targets a name that is
	// already occupied.
	ErrExist = errors.New("object already exists")
	// ErrCorruption is returned when on-disk content fails a structural or
	// checksum-level sanity check.
	ErrCorruption = errors.New("data is corrupted")
	// ErrInvalidState is returned when an operation is attempted against an
	// object that is not in a state that allows it (e.g. appending to a
	// sealed chunk).
	ErrInvalidState = errors.New("object is in invalid state for the operation")
	// ErrStillOpen is returned when a destructive operation (delete, close)
	// is attempted while the object still has live references.
	ErrStillOpen = errors.New("object has open references")
	// ErrInvalid is returned when an argument fails validation.
	ErrInvalid = errors.New("invalid value")
	// ErrEnvironment is returned when the runtime environment cannot satisfy
	// a request for reasons outside the caller's control (an unsupported
	// codec, an unmappable file system, conflicting on-disk state).
	ErrEnvironment = errors.New("environment does not support the operation")
	// ErrClosed is returned when an operation is attempted on an object that
	// has already been closed.
	ErrClosed = errors.New("object is closed")
)

var sentinels = map[error]bool{
	ErrNotExist:     true,
	ErrExist:        true,
	ErrCorruption:   true,
	ErrInvalidState: true,
	ErrStillOpen:    true,
	ErrInvalid:      true,
	ErrEnvironment:  true,
	ErrClosed:       true,
}

// jsonErrorMarker delimits a JSON-encoded payload embedded in an error
// message by EmbedObject. It is deliberately unlikely to appear in ordinary
// error text.
const jsonErrorMarker = "\x00json:"

// Is is a thin wrapper around errors.Is, kept so call sites depend on this
// package rather than the standard library directly.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// EmbedObject wraps target, a package sentinel error, with a JSON-encoded
// copy of obj so the caller can recover it later with ExtractObject. It
// panics if obj is nil, if target is nil, or if target is not one of the
// sentinel errors declared in this package.
func EmbedObject(obj any, target error) error {
	if obj == nil {
		panic("errors.EmbedObject: obj must not be nil")
	}
	if target == nil || !sentinels[target] {
		panic("errors.EmbedObject: target must be one of the package sentinel errors")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		panic(err)
	}
	return fmt.Errorf("%s%s%s: %w", jsonErrorMarker, data, jsonErrorMarker, target)
}

// ExtractObject recovers the object embedded in err by EmbedObject into ptr,
// reporting whether one was found and successfully decoded.
func ExtractObject(err error, ptr any) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	start := strings.Index(msg, jsonErrorMarker)
	if start < 0 {
		return false
	}
	rest := msg[start+len(jsonErrorMarker):]
	end := strings.Index(rest, jsonErrorMarker)
	if end < 0 {
		return false
	}
	return json.Unmarshal([]byte(rest[:end]), ptr) == nil
}
