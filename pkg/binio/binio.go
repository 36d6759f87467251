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

// Package binio provides sticky-error little-endian readers and writers
// for length-prefixed binary fields.
package binio // import "zombiezen.com/go/kdbx/pkg/binio"

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// ErrNegativeLength is returned when a length prefix decodes to a
// negative number.
var ErrNegativeLength = errors.New("binio: negative length")

// smallRead is the largest length that Bytes will allocate up front.
// Longer reads grow a buffer as data arrives so that a forged length
// cannot allocate more memory than the input provides.
const smallRead = 64 << 10

// A Reader reads little-endian values from R.  After the first error,
// all reads are no-ops and return zero values; the error is kept in Err.
type Reader struct {
	R   io.Reader
	Err error

	// N is the number of bytes consumed from R.
	N int64
}

// ReadFull fills p.  A short read sets Err to io.ErrUnexpectedEOF,
// unless nothing was read, in which case Err is io.EOF.
func (r *Reader) ReadFull(p []byte) {
	if r.Err != nil {
		return
	}
	n, err := io.ReadFull(r.R, p)
	r.N += int64(n)
	r.Err = err
}

// Uint8 reads a single byte.
func (r *Reader) Uint8() byte {
	var buf [1]byte
	r.ReadFull(buf[:])
	return buf[0]
}

func (r *Reader) Uint16() uint16 {
	var buf [2]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

func (r *Reader) Uint32() uint32 {
	var buf [4]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (r *Reader) Uint64() uint64 {
	var buf [8]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

// Bytes reads exactly n bytes into a new slice.  Running out of input
// is reported as io.ErrUnexpectedEOF.
func (r *Reader) Bytes(n int64) []byte {
	if r.Err != nil {
		return nil
	}
	if n < 0 {
		r.Err = ErrNegativeLength
		return nil
	}
	if n <= smallRead {
		buf := make([]byte, n)
		r.ReadFull(buf)
		if r.Err == io.EOF && n > 0 {
			r.Err = io.ErrUnexpectedEOF
		}
		return buf
	}
	buf := new(bytes.Buffer)
	nn, err := io.CopyN(buf, r.R, n)
	r.N += nn
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		r.Err = err
		return nil
	}
	return buf.Bytes()
}

// Fail records err if no error has occurred yet.
func (r *Reader) Fail(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// A Writer writes little-endian values to W, remembering the first error.
type Writer struct {
	W   io.Writer
	Err error

	// N is the number of bytes written to W.
	N int64
}

func (w *Writer) Bytes(p []byte) {
	if w.Err != nil {
		return
	}
	n, err := w.W.Write(p)
	w.N += int64(n)
	w.Err = err
}

func (w *Writer) Uint8(b byte) {
	w.Bytes([]byte{b})
}

func (w *Writer) Uint16(i uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], i)
	w.Bytes(buf[:])
}

func (w *Writer) Uint32(i uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], i)
	w.Bytes(buf[:])
}

func (w *Writer) Uint64(i uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], i)
	w.Bytes(buf[:])
}

// Uint32Bytes returns the little-endian encoding of i.
func Uint32Bytes(i uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, i)
	return buf
}

// Uint64Bytes returns the little-endian encoding of i.
func Uint64Bytes(i uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, i)
	return buf
}

// CheckSize returns a *SizeError if val is not want bytes long.
func CheckSize(name string, val []byte, want int) error {
	if n := len(val); n != want {
		return &SizeError{Name: name, Size: n, Want: want}
	}
	return nil
}

// SizeError reports a field whose value has the wrong length.
type SizeError struct {
	Name string
	Size int
	Want int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s field size is %d, should be %d", e.Name, e.Size, e.Want)
}

// A FieldError records the field and byte offset at which decoding failed.
type FieldError struct {
	Field  string
	Offset int64
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s field at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
