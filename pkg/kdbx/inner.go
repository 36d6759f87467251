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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/binio"
	"zombiezen.com/go/kdbx/pkg/protect"
)

// Inner header field IDs
const (
	innerFieldEnd       = 0
	innerFieldStreamID  = 1
	innerFieldStreamKey = 2
	innerFieldBinary    = 3
)

var innerFieldNames = map[byte]string{
	innerFieldEnd:       "end of inner header",
	innerFieldStreamID:  "inner random stream ID",
	innerFieldStreamKey: "inner random stream key",
	innerFieldBinary:    "binary",
}

const binaryProtectedFlag = 0x01

// A Binary is an attachment stored in the KDBX 4 inner header.
// Entries in the document refer to binaries by their index.
type Binary struct {
	// Protected reports whether the binary should be kept in protected
	// memory.  It does not change how the data is stored.
	Protected bool
	Data      []byte
}

// An InnerHeader is the KDBX 4 header stored at the start of the
// decrypted, decompressed body.
type InnerHeader struct {
	InnerRandomStream    protect.Algorithm
	InnerRandomStreamKey []byte
	Binaries             []Binary
}

// readInnerHeader reads an inner header from r, leaving r positioned at
// the start of the document.
func readInnerHeader(r io.Reader) (*InnerHeader, error) {
	br := &binio.Reader{R: r}
	ih := new(InnerHeader)
	seen := make(map[byte]bool)
	for {
		off := br.N
		id := br.Uint8()
		size := int64(int32(br.Uint32()))
		data := br.Bytes(size)
		if br.Err != nil {
			return nil, &binio.FieldError{Field: "inner header", Offset: off, Err: eofAsUnexpected(br.Err)}
		}
		name, known := innerFieldNames[id]
		if !known {
			return nil, &binio.FieldError{
				Field:  fmt.Sprintf("inner field %d", id),
				Offset: off,
				Err:    errors.Wrap(ErrFormat, "unknown inner header field"),
			}
		}
		if id != innerFieldBinary && seen[id] {
			return nil, &binio.FieldError{Field: name, Offset: off, Err: errors.Wrap(ErrFormat, "duplicate field")}
		}
		seen[id] = true
		var err error
		switch id {
		case innerFieldEnd:
			if !seen[innerFieldStreamID] || !seen[innerFieldStreamKey] {
				return nil, errors.Wrap(ErrFormat, "inner header missing random stream")
			}
			return ih, nil
		case innerFieldStreamID:
			if err = binio.CheckSize(name, data, 4); err == nil {
				ih.InnerRandomStream = protect.Algorithm(binary.LittleEndian.Uint32(data))
				err = ih.InnerRandomStream.Check()
			}
		case innerFieldStreamKey:
			if len(data) == 0 {
				err = errors.Wrap(ErrFormat, "empty key")
			}
			ih.InnerRandomStreamKey = data
		case innerFieldBinary:
			if len(data) == 0 {
				err = errors.Wrap(ErrFormat, "binary without flags")
				break
			}
			ih.Binaries = append(ih.Binaries, Binary{
				Protected: data[0]&binaryProtectedFlag != 0,
				Data:      data[1:],
			})
		}
		if err != nil {
			return nil, &binio.FieldError{Field: name, Offset: off, Err: err}
		}
	}
}

func (ih *InnerHeader) write(w io.Writer) error {
	bw := &binio.Writer{W: w}
	field := func(id byte, data ...[]byte) {
		n := 0
		for _, d := range data {
			n += len(d)
		}
		bw.Uint8(id)
		bw.Uint32(uint32(n))
		for _, d := range data {
			bw.Bytes(d)
		}
	}
	field(innerFieldStreamID, binio.Uint32Bytes(uint32(ih.InnerRandomStream)))
	field(innerFieldStreamKey, ih.InnerRandomStreamKey)
	for _, b := range ih.Binaries {
		var flags byte
		if b.Protected {
			flags |= binaryProtectedFlag
		}
		field(innerFieldBinary, []byte{flags}, b.Data)
	}
	field(innerFieldEnd)
	return bw.Err
}
