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

// Package kdbx reads and writes the KeePass 2 database container
// (KDBX versions 3.1 and 4).  It handles the header, key derivation,
// encryption, compression and integrity framing, and hands the caller
// the plaintext document together with the stream used to mask the
// document's protected values.
package kdbx // import "zombiezen.com/go/kdbx/pkg/kdbx"

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/binio"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
	"zombiezen.com/go/kdbx/pkg/protect"
	"zombiezen.com/go/kdbx/pkg/variant"
)

// File header magic numbers
const (
	magic1    = 0x9aa2d903
	magic2    = 0xb54bfb67
	magic2KDB = 0xb54bfb65 // KeePass 1.x
)

// Versions written by this package.
const (
	Version3 uint32 = 0x00030001
	Version4 uint32 = 0x00040000
)

// maxMinor is the newest minor version accepted for each major version.
var maxMinor = map[uint16]uint16{3: 1, 4: 1}

// Header field IDs
const (
	fieldEnd                 = 0
	fieldComment             = 1
	fieldCipherID            = 2
	fieldCompressionFlags    = 3
	fieldMasterSeed          = 4
	fieldTransformSeed       = 5
	fieldTransformRounds     = 6
	fieldEncryptionIV        = 7
	fieldProtectedStreamKey  = 8
	fieldStreamStartBytes    = 9
	fieldInnerRandomStreamID = 10
	fieldKDFParameters       = 11
	fieldPublicCustomData    = 12
)

var fieldNames = map[byte]string{
	fieldEnd:                 "end of header",
	fieldComment:             "comment",
	fieldCipherID:            "cipher ID",
	fieldCompressionFlags:    "compression flags",
	fieldMasterSeed:          "master seed",
	fieldTransformSeed:       "transform seed",
	fieldTransformRounds:     "transform rounds",
	fieldEncryptionIV:        "encryption IV",
	fieldProtectedStreamKey:  "protected stream key",
	fieldStreamStartBytes:    "stream start bytes",
	fieldInnerRandomStreamID: "inner random stream ID",
	fieldKDFParameters:       "KDF parameters",
	fieldPublicCustomData:    "public custom data",
}

// fieldVersions lists the major versions in which a field may appear.
var fieldVersions = map[byte][]uint16{
	fieldEnd:                 {3, 4},
	fieldComment:             {3, 4},
	fieldCipherID:            {3, 4},
	fieldCompressionFlags:    {3, 4},
	fieldMasterSeed:          {3, 4},
	fieldTransformSeed:       {3},
	fieldTransformRounds:     {3},
	fieldEncryptionIV:        {3, 4},
	fieldProtectedStreamKey:  {3},
	fieldStreamStartBytes:    {3},
	fieldInnerRandomStreamID: {3},
	fieldKDFParameters:       {4},
	fieldPublicCustomData:    {4},
}

var endOfHeader = []byte("\r\n\r\n")

// A Header is the plaintext outer header of a database.
type Header struct {
	// Version is the file format version: the major version in the high
	// 16 bits and the minor version in the low 16 bits.
	Version uint32

	Cipher       kdbcrypt.Cipher
	Compression  Compression
	MasterSeed   []byte
	EncryptionIV []byte

	// KDFParameters hold the key derivation function and its
	// parameters.  For KDBX 3 they are built from the transform seed
	// and rounds fields.
	KDFParameters *variant.Dictionary

	// PublicCustomData is optional plaintext data (KDBX 4 only).
	PublicCustomData *variant.Dictionary

	Comment []byte

	// KDBX 3 only.  In KDBX 4 these are in the inner header or, for
	// StreamStartBytes, replaced by the header HMAC.
	ProtectedStreamKey []byte
	StreamStartBytes   []byte
	InnerRandomStream  protect.Algorithm
}

// Major returns the major format version.
func (h *Header) Major() uint16 {
	return uint16(h.Version >> 16)
}

// Minor returns the minor format version.
func (h *Header) Minor() uint16 {
	return uint16(h.Version)
}

// KDF returns the key derivation function named in the KDF parameters.
func (h *Header) KDF() (kdf.Algorithm, error) {
	if h.KDFParameters == nil {
		return 0, errors.Wrap(ErrFormat, "no KDF parameters")
	}
	return kdf.FromParameters(h.KDFParameters)
}

// readHeader reads the outer header from r, returning the header and
// its raw bytes.
func readHeader(r io.Reader) (*Header, []byte, error) {
	raw := new(bytes.Buffer)
	br := &binio.Reader{R: io.TeeReader(r, raw)}
	sig1, sig2 := br.Uint32(), br.Uint32()
	version := br.Uint32()
	if br.Err != nil {
		if br.Err == io.EOF || br.Err == io.ErrUnexpectedEOF {
			return nil, nil, ErrWrongSignature
		}
		return nil, nil, br.Err
	}
	if sig1 != magic1 {
		return nil, nil, ErrWrongSignature
	}
	switch sig2 {
	case magic2:
	case magic2KDB:
		return nil, nil, errors.Wrap(ErrUnsupportedVersion, "KeePass 1.x database")
	default:
		return nil, nil, ErrWrongSignature
	}
	h := &Header{Version: version}
	if newest, ok := maxMinor[h.Major()]; !ok || h.Minor() > newest {
		return nil, nil, errors.Wrapf(ErrUnsupportedVersion, "%d.%d", h.Major(), h.Minor())
	}

	seen := make(map[byte]bool)
	var transformSeed, transformRounds []byte
	for {
		off := br.N
		id := br.Uint8()
		var size int64
		if h.Major() == 3 {
			size = int64(br.Uint16())
		} else {
			size = int64(int32(br.Uint32()))
		}
		data := br.Bytes(size)
		if br.Err != nil {
			name := fieldNames[id]
			if name == "" {
				name = "header"
			}
			return nil, nil, &binio.FieldError{Field: name, Offset: off, Err: eofAsUnexpected(br.Err)}
		}
		name, known := fieldNames[id]
		if !known || !allowed(id, h.Major()) {
			return nil, nil, &binio.FieldError{
				Field:  fmt.Sprintf("field %d", id),
				Offset: off,
				Err:    errors.Wrapf(ErrFormat, "not allowed in KDBX %d", h.Major()),
			}
		}
		if seen[id] {
			return nil, nil, &binio.FieldError{Field: name, Offset: off, Err: errors.Wrap(ErrFormat, "duplicate field")}
		}
		seen[id] = true
		if id == fieldEnd {
			break
		}
		var err error
		switch id {
		case fieldComment:
			h.Comment = data
		case fieldCipherID:
			err = readCipher(h, data)
		case fieldCompressionFlags:
			if err = binio.CheckSize(name, data, 4); err == nil {
				h.Compression = Compression(binary.LittleEndian.Uint32(data))
				if !h.Compression.valid() {
					err = errors.Wrapf(ErrUnknownCompression, "%d", uint32(h.Compression))
				}
			}
		case fieldMasterSeed:
			h.MasterSeed, err = data, binio.CheckSize(name, data, 32)
		case fieldTransformSeed:
			transformSeed, err = data, binio.CheckSize(name, data, 32)
		case fieldTransformRounds:
			transformRounds, err = data, binio.CheckSize(name, data, 8)
		case fieldEncryptionIV:
			h.EncryptionIV = data
		case fieldProtectedStreamKey:
			h.ProtectedStreamKey, err = data, binio.CheckSize(name, data, 32)
		case fieldStreamStartBytes:
			h.StreamStartBytes, err = data, binio.CheckSize(name, data, 32)
		case fieldInnerRandomStreamID:
			if err = binio.CheckSize(name, data, 4); err == nil {
				h.InnerRandomStream = protect.Algorithm(binary.LittleEndian.Uint32(data))
				err = h.InnerRandomStream.Check()
			}
		case fieldKDFParameters:
			h.KDFParameters, err = variant.Parse(data)
		case fieldPublicCustomData:
			h.PublicCustomData, err = variant.Parse(data)
		}
		if err != nil {
			return nil, nil, &binio.FieldError{Field: name, Offset: off, Err: err}
		}
	}

	required := []byte{fieldCipherID, fieldCompressionFlags, fieldMasterSeed, fieldEncryptionIV}
	if h.Major() == 3 {
		required = append(required, fieldTransformSeed, fieldTransformRounds, fieldProtectedStreamKey, fieldStreamStartBytes, fieldInnerRandomStreamID)
	} else {
		required = append(required, fieldKDFParameters)
	}
	for _, id := range required {
		if !seen[id] {
			return nil, nil, errors.Wrapf(ErrFormat, "missing %s field", fieldNames[id])
		}
	}
	if want := h.Cipher.IVSize(); len(h.EncryptionIV) != want {
		return nil, nil, &binio.FieldError{
			Field: fieldNames[fieldEncryptionIV],
			Err:   &binio.SizeError{Name: fieldNames[fieldEncryptionIV], Size: len(h.EncryptionIV), Want: want},
		}
	}
	if h.Major() == 3 {
		h.KDFParameters = kdf.AESParameters(transformSeed, binary.LittleEndian.Uint64(transformRounds))
	}
	if _, err := h.KDF(); err != nil {
		return nil, nil, &binio.FieldError{Field: fieldNames[fieldKDFParameters], Err: err}
	}
	return h, raw.Bytes(), nil
}

func allowed(id byte, major uint16) bool {
	for _, v := range fieldVersions[id] {
		if v == major {
			return true
		}
	}
	return false
}

func readCipher(h *Header, data []byte) error {
	id, err := uuid.FromBytes(data)
	if err != nil {
		return &binio.SizeError{Name: fieldNames[fieldCipherID], Size: len(data), Want: 16}
	}
	h.Cipher, err = kdbcrypt.CipherFromUUID(id)
	return err
}

// marshal encodes the header.  The result is the exact byte sequence
// covered by the header hash and HMAC.
func (h *Header) marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	w := &binio.Writer{W: buf}
	w.Uint32(magic1)
	w.Uint32(magic2)
	w.Uint32(h.Version)

	major := h.Major()
	field := func(id byte, data []byte) {
		w.Uint8(id)
		if major == 3 {
			w.Uint16(uint16(len(data)))
		} else {
			w.Uint32(uint32(len(data)))
		}
		w.Bytes(data)
	}

	cipherID := h.Cipher.UUID()
	field(fieldCipherID, cipherID[:])
	field(fieldCompressionFlags, binio.Uint32Bytes(uint32(h.Compression)))
	field(fieldMasterSeed, h.MasterSeed)
	if major == 3 {
		seed, rounds, err := kdf.ReadAESParameters(h.KDFParameters)
		if err != nil {
			return nil, err
		}
		field(fieldTransformSeed, seed)
		field(fieldTransformRounds, binio.Uint64Bytes(rounds))
	}
	field(fieldEncryptionIV, h.EncryptionIV)
	if major == 3 {
		field(fieldProtectedStreamKey, h.ProtectedStreamKey)
		field(fieldStreamStartBytes, h.StreamStartBytes)
		field(fieldInnerRandomStreamID, binio.Uint32Bytes(uint32(h.InnerRandomStream)))
	} else {
		params, err := h.KDFParameters.MarshalBinary()
		if err != nil {
			return nil, err
		}
		field(fieldKDFParameters, params)
		if h.PublicCustomData != nil && h.PublicCustomData.Len() > 0 {
			data, err := h.PublicCustomData.MarshalBinary()
			if err != nil {
				return nil, err
			}
			field(fieldPublicCustomData, data)
		}
	}
	if len(h.Comment) > 0 {
		field(fieldComment, h.Comment)
	}
	field(fieldEnd, endOfHeader)
	if w.Err != nil {
		return nil, w.Err
	}
	return buf.Bytes(), nil
}

// hashHeader returns the SHA-256 of the raw header bytes.
func hashHeader(raw []byte) []byte {
	sum := sha256.Sum256(raw)
	return sum[:]
}

func eofAsUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
