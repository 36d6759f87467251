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

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compression is the body compression algorithm.
type Compression uint32

// Compression algorithms
const (
	NoCompression Compression = 0
	GZip          Compression = 1
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case GZip:
		return "gzip"
	default:
		return fmt.Sprintf("Compression(%d)", uint32(c))
	}
}

func (c Compression) valid() bool {
	return c == NoCompression || c == GZip
}

// compress returns a writer that compresses to w.  Closing it flushes
// the compressed stream but does not close w.
func (c Compression) compress(w io.Writer) io.WriteCloser {
	if c == GZip {
		return gzip.NewWriter(w)
	}
	return nopCloser{w}
}

// decompress returns a reader that decompresses r.
func (c Compression) decompress(r io.Reader) (io.Reader, error) {
	if c == GZip {
		return gzip.NewReader(r)
	}
	return r, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error {
	return nil
}
