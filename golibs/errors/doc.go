// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
/*
Package errors contains a small, general class of errors that any package in
this module may return. Callers are expected to wrap one of the package-level
variables with fmt.Errorf("...: %w", ErrX) at the point of failure and test
for it with errors.Is (or the Is helper below) at the point of handling.
*/
package errors
