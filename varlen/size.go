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

import "encoding/binary"

// encodeSize packs n into sizeField little-endian bytes. For sizeField == 3
// it encodes n as a 4-byte little-endian value and truncates to the first 3
// bytes, per the on-disk convention: decoding re-expands by zero-extending.
func encodeSize(sizeField, n int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return buf[:sizeField]
}

// decodeSize is the inverse of encodeSize.
func decodeSize(sizeField int, buf []byte) int {
	var full [4]byte
	copy(full[:], buf[:sizeField])
	return int(binary.LittleEndian.Uint32(full[:]))
}
