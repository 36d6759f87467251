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

// Package blockstream implements the two KDBX body integrity schemes:
// the SHA-256 hashed blocks of KDBX 3 and the HMAC-SHA256 authenticated
// blocks of KDBX 4.  Readers never return bytes from a block that has
// not been verified, and stop at the first bad block.
package blockstream // import "zombiezen.com/go/kdbx/pkg/blockstream"

import (
	"io"

	"github.com/pkg/errors"
)

// BlockSize is the maximum payload of a block written by the default
// writers.
const BlockSize = 1 << 20

// Errors
var (
	ErrHashMismatch = errors.New("blockstream: block hash mismatch")
	ErrHMACMismatch = errors.New("blockstream: block HMAC mismatch")
	ErrBlockIndex   = errors.New("blockstream: block out of sequence")
	ErrBlockLength  = errors.New("blockstream: invalid block length")

	// ErrTruncated is returned when the input ends before the
	// terminating block.
	ErrTruncated = errors.New("blockstream: stream ended before terminating block")
)

var errClosed = errors.New("blockstream: write on closed writer")

// blockBuffer holds the verified payload of the current block.
type blockBuffer struct {
	buf []byte
	off int
}

func (b *blockBuffer) read(p []byte) int {
	n := copy(p, b.buf[b.off:])
	b.off += n
	return n
}

func (b *blockBuffer) empty() bool {
	return b.off >= len(b.buf)
}

func (b *blockBuffer) reset(data []byte) {
	b.buf = data
	b.off = 0
}

// eofAsTruncated converts the end of the underlying input to
// ErrTruncated.  A block stream may only end after its terminating block.
func eofAsTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}
