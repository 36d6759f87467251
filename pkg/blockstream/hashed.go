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

package blockstream

import (
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"zombiezen.com/go/kdbx/pkg/binio"
)

// hashedReader reads KDBX 3 hashed blocks:
//
//	index  uint32
//	hash   [32]byte  SHA-256 of data
//	length int32
//	data   [length]byte
//
// The stream ends with a block of length zero and an all-zero hash.
type hashedReader struct {
	r     binio.Reader
	index uint32
	block blockBuffer
	err   error
}

// NewHashedReader returns a reader that verifies and strips the KDBX 3
// block framing from r.
func NewHashedReader(r io.Reader) io.Reader {
	return &hashedReader{r: binio.Reader{R: r}}
}

func (hr *hashedReader) Read(p []byte) (n int, err error) {
	for hr.block.empty() {
		if hr.err != nil {
			return 0, hr.err
		}
		hr.err = hr.next()
	}
	return hr.block.read(p), nil
}

func (hr *hashedReader) next() error {
	index := hr.r.Uint32()
	var hash [sha256.Size]byte
	hr.r.ReadFull(hash[:])
	length := int32(hr.r.Uint32())
	if hr.r.Err != nil {
		return eofAsTruncated(hr.r.Err)
	}
	if index != hr.index {
		return ErrBlockIndex
	}
	hr.index++
	if length < 0 {
		return ErrBlockLength
	}
	if length == 0 {
		var zero [sha256.Size]byte
		if hash != zero {
			return ErrHashMismatch
		}
		return io.EOF
	}
	data := hr.r.Bytes(int64(length))
	if hr.r.Err != nil {
		return eofAsTruncated(hr.r.Err)
	}
	sum := sha256.Sum256(data)
	if subtle.ConstantTimeCompare(sum[:], hash[:]) != 1 {
		return ErrHashMismatch
	}
	hr.block.reset(data)
	return nil
}

type hashedWriter struct {
	w     binio.Writer
	index uint32
	buf   []byte
	size  int
	err   error
}

// NewHashedWriter returns a writer that frames its input into KDBX 3
// hashed blocks of up to BlockSize bytes.  Close writes the final block
// and the terminator; it does not close w.
func NewHashedWriter(w io.Writer) io.WriteCloser {
	return NewHashedWriterSize(w, BlockSize)
}

// NewHashedWriterSize is like NewHashedWriter but flushes blocks of
// size bytes.
func NewHashedWriterSize(w io.Writer, size int) io.WriteCloser {
	if size <= 0 {
		panic("blockstream: non-positive block size")
	}
	return &hashedWriter{
		w:    binio.Writer{W: w},
		buf:  make([]byte, 0, size),
		size: size,
	}
}

func (hw *hashedWriter) Write(p []byte) (n int, err error) {
	if hw.err != nil {
		return 0, hw.err
	}
	for len(p) > 0 {
		nn := hw.size - len(hw.buf)
		if nn > len(p) {
			nn = len(p)
		}
		hw.buf = append(hw.buf, p[:nn]...)
		p = p[nn:]
		n += nn
		if len(hw.buf) == hw.size {
			if err := hw.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (hw *hashedWriter) flush() error {
	var hash [sha256.Size]byte
	if len(hw.buf) > 0 {
		hash = sha256.Sum256(hw.buf)
	}
	hw.w.Uint32(hw.index)
	hw.w.Bytes(hash[:])
	hw.w.Uint32(uint32(len(hw.buf)))
	hw.w.Bytes(hw.buf)
	hw.index++
	hw.buf = hw.buf[:0]
	hw.err = hw.w.Err
	return hw.err
}

func (hw *hashedWriter) Close() error {
	if hw.err == errClosed {
		return nil
	} else if hw.err != nil {
		return hw.err
	}
	if len(hw.buf) > 0 {
		if err := hw.flush(); err != nil {
			return err
		}
	}
	if err := hw.flush(); err != nil {
		return err
	}
	hw.err = errClosed
	return nil
}
