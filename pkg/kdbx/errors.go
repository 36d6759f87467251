// Copyright 2016 The Sandpass Authors
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

package kdbx

import "github.com/pkg/errors"

// Errors
var (
	ErrWrongSignature     = errors.New("kdbx: not a KDBX database")
	ErrUnsupportedVersion = errors.New("kdbx: unsupported database version")
	ErrFormat             = errors.New("kdbx: malformed database")
	ErrHeaderCorrupt      = errors.New("kdbx: header checksum mismatch")
	ErrInvalidCredentials = errors.New("kdbx: password does not match or database is corrupt")
	ErrUnknownCompression = errors.New("kdbx: unknown compression algorithm")
	ErrInvalidOptions     = errors.New("kdbx: invalid options")
)
