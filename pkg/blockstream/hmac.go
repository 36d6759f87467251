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
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"math"

	"zombiezen.com/go/kdbx/pkg/binio"
)

// headerIndex is the block index whose key authenticates the KDBX 4
// outer header.
const headerIndex = math.MaxUint64

// BlockKey derives the HMAC key for the block at index from the
// stream-wide key: SHA-512(index as 8 little-endian bytes || key).
func BlockKey(key []byte, index uint64) []byte {
	h := sha512.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], index)
	h.Write(buf[:])
	h.Write(key)
	return h.Sum(nil)
}

// HeaderHMAC returns the HMAC-SHA256 of a KDBX 4 outer header.
func HeaderHMAC(key, header []byte) []byte {
	m := hmac.New(sha256.New, BlockKey(key, headerIndex))
	m.Write(header)
	return m.Sum(nil)
}

// blockMAC computes the HMAC over index || length || data.
func blockMAC(key []byte, index uint64, data []byte) []byte {
	m := hmac.New(sha256.New, BlockKey(key, index))
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], index)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(data)))
	m.Write(buf[:])
	m.Write(data)
	return m.Sum(nil)
}

// hmacReader reads KDBX 4 authenticated blocks:
//
//	hmac   [32]byte  HMAC-SHA256 over index (8 bytes) || length || data
//	length int32
//	data   [length]byte
//
// Block indices are implicit, starting at zero.  The stream ends with
// an authenticated block of length zero.
type hmacReader struct {
	r     binio.Reader
	key   []byte
	index uint64
	block blockBuffer
	err   error
}

// NewHMACReader returns a reader that authenticates and strips the
// KDBX 4 block framing from r.  key is the 64-byte stream HMAC key.
func NewHMACReader(r io.Reader, key []byte) io.Reader {
	return &hmacReader{
		r:   binio.Reader{R: r},
		key: append([]byte(nil), key...),
	}
}

func (hr *hmacReader) Read(p []byte) (n int, err error) {
	for hr.block.empty() {
		if hr.err != nil {
			return 0, hr.err
		}
		hr.err = hr.next()
	}
	return hr.block.read(p), nil
}

func (hr *hmacReader) next() error {
	var mac [sha256.Size]byte
	hr.r.ReadFull(mac[:])
	length := int32(hr.r.Uint32())
	if hr.r.Err != nil {
		return eofAsTruncated(hr.r.Err)
	}
	if length < 0 {
		return ErrBlockLength
	}
	data := hr.r.Bytes(int64(length))
	if hr.r.Err != nil {
		return eofAsTruncated(hr.r.Err)
	}
	if !hmac.Equal(mac[:], blockMAC(hr.key, hr.index, data)) {
		return ErrHMACMismatch
	}
	hr.index++
	if length == 0 {
		return io.EOF
	}
	hr.block.reset(data)
	return nil
}

type hmacWriter struct {
	w     binio.Writer
	key   []byte
	index uint64
	buf   []byte
	size  int
	err   error
}

// NewHMACWriter returns a writer that frames its input into KDBX 4
// authenticated blocks of up to BlockSize bytes.  Close writes the
// final block and the empty terminating block; it does not close w.
func NewHMACWriter(w io.Writer, key []byte) io.WriteCloser {
	return NewHMACWriterSize(w, key, BlockSize)
}

// NewHMACWriterSize is like NewHMACWriter but flushes blocks of size
// bytes.
func NewHMACWriterSize(w io.Writer, key []byte, size int) io.WriteCloser {
	if size <= 0 {
		panic("blockstream: non-positive block size")
	}
	return &hmacWriter{
		w:    binio.Writer{W: w},
		key:  append([]byte(nil), key...),
		buf:  make([]byte, 0, size),
		size: size,
	}
}

func (hw *hmacWriter) Write(p []byte) (n int, err error) {
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

func (hw *hmacWriter) flush() error {
	hw.w.Bytes(blockMAC(hw.key, hw.index, hw.buf))
	hw.w.Uint32(uint32(len(hw.buf)))
	hw.w.Bytes(hw.buf)
	hw.index++
	hw.buf = hw.buf[:0]
	hw.err = hw.w.Err
	return hw.err
}

func (hw *hmacWriter) Close() error {
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
	for i := range hw.key {
		hw.key[i] = 0
	}
	return nil
}
