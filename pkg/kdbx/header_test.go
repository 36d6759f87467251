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
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/kdbx/pkg/binio"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
	"zombiezen.com/go/kdbx/pkg/protect"
	"zombiezen.com/go/kdbx/pkg/variant"
)

type testField struct {
	id   byte
	data []byte
}

// buildHeader encodes a header with the given fields, in order.  An
// end field is not added automatically.
func buildHeader(sig2, version uint32, fields ...testField) []byte {
	buf := new(bytes.Buffer)
	w := &binio.Writer{W: buf}
	w.Uint32(magic1)
	w.Uint32(sig2)
	w.Uint32(version)
	for _, f := range fields {
		w.Uint8(f.id)
		if version>>16 == 3 {
			w.Uint16(uint16(len(f.data)))
		} else {
			w.Uint32(uint32(len(f.data)))
		}
		w.Bytes(f.data)
	}
	return buf.Bytes()
}

// v4Fields returns a minimal valid set of KDBX 4 header fields,
// including the end field.
func v4Fields() []testField {
	aes := kdbcrypt.AES256.UUID()
	params, err := kdf.AESParameters(make([]byte, 32), 10).MarshalBinary()
	if err != nil {
		panic(err)
	}
	return []testField{
		{fieldCipherID, aes[:]},
		{fieldCompressionFlags, binio.Uint32Bytes(0)},
		{fieldMasterSeed, make([]byte, 32)},
		{fieldEncryptionIV, make([]byte, 16)},
		{fieldKDFParameters, params},
		{fieldEnd, endOfHeader},
	}
}

// replaceField returns fields with the field id replaced by f, or with
// it removed if f is nil.
func replaceField(fields []testField, id byte, f *testField) []testField {
	var out []testField
	for _, x := range fields {
		if x.id != id {
			out = append(out, x)
		} else if f != nil {
			out = append(out, *f)
		}
	}
	return out
}

// insertField inserts f before the end field.
func insertField(fields []testField, f testField) []testField {
	out := append([]testField(nil), fields[:len(fields)-1]...)
	out = append(out, f)
	return append(out, fields[len(fields)-1])
}

func TestReadHeader(t *testing.T) {
	raw := buildHeader(magic2, Version4, v4Fields()...)
	h, gotRaw, err := readHeader(bytes.NewReader(append(raw, "body"...)))
	require.NoError(t, err)
	assert.Equal(t, raw, gotRaw)
	assert.Equal(t, Version4, h.Version)
	assert.Equal(t, kdbcrypt.AES256, h.Cipher)
	assert.Equal(t, NoCompression, h.Compression)
	a, err := h.KDF()
	require.NoError(t, err)
	assert.Equal(t, kdf.AES, a)
}

func TestReadHeader_Versions(t *testing.T) {
	tests := []struct {
		sig2    uint32
		version uint32
		err     error
	}{
		{magic2, 0x00040000, nil},
		{magic2, 0x00040001, nil},
		{magic2, 0x00040002, ErrUnsupportedVersion},
		{magic2, 0x00050000, ErrUnsupportedVersion},
		{magic2, 0x00020000, ErrUnsupportedVersion},
		{magic2KDB, 0x00030001, ErrUnsupportedVersion},
		{0x12345678, 0x00040000, ErrWrongSignature},
	}
	for _, test := range tests {
		raw := buildHeader(test.sig2, test.version, v4Fields()...)
		_, _, err := readHeader(bytes.NewReader(raw))
		if test.err == nil {
			assert.NoError(t, err, "sig %#x version %#x", test.sig2, test.version)
		} else {
			assert.True(t, errors.Is(err, test.err), "sig %#x version %#x: error = %v; want %v", test.sig2, test.version, err, test.err)
		}
	}
}

func TestReadHeader_WrongSignature(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("abc"),
		[]byte("<?xml version=\"1.0\"?><KeePassFile/>"),
	}
	for _, in := range inputs {
		_, err := NewReader(bytes.NewReader(in), kdbcrypt.PasswordCredentials("x"))
		assert.Equal(t, ErrWrongSignature, err, "input %q", in)
	}
}

func TestReadHeader_Malformed(t *testing.T) {
	unknownCipher := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	tests := []struct {
		name   string
		fields []testField
		err    error
	}{
		{
			name:   "unknown field",
			fields: insertField(v4Fields(), testField{13, []byte{1}}),
			err:    ErrFormat,
		},
		{
			name:   "KDBX 3 field",
			fields: insertField(v4Fields(), testField{fieldProtectedStreamKey, make([]byte, 32)}),
			err:    ErrFormat,
		},
		{
			name:   "duplicate field",
			fields: insertField(v4Fields(), testField{fieldMasterSeed, make([]byte, 32)}),
			err:    ErrFormat,
		},
		{
			name:   "missing master seed",
			fields: replaceField(v4Fields(), fieldMasterSeed, nil),
			err:    ErrFormat,
		},
		{
			name:   "missing KDF parameters",
			fields: replaceField(v4Fields(), fieldKDFParameters, nil),
			err:    ErrFormat,
		},
		{
			name:   "unknown cipher",
			fields: replaceField(v4Fields(), fieldCipherID, &testField{fieldCipherID, unknownCipher[:]}),
			err:    kdbcrypt.ErrUnknownCipher,
		},
		{
			name:   "unknown compression",
			fields: replaceField(v4Fields(), fieldCompressionFlags, &testField{fieldCompressionFlags, binio.Uint32Bytes(2)}),
			err:    ErrUnknownCompression,
		},
		{
			name:   "truncated",
			fields: v4Fields()[:3],
			err:    io.ErrUnexpectedEOF,
		},
		{
			name:   "bad KDF parameters",
			fields: replaceField(v4Fields(), fieldKDFParameters, &testField{fieldKDFParameters, []byte{0x00, 0x01, 0x42}}),
			err:    variant.ErrFormat,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw := buildHeader(magic2, Version4, test.fields...)
			_, _, err := readHeader(bytes.NewReader(raw))
			assert.True(t, errors.Is(err, test.err), "error = %v; want %v", err, test.err)
		})
	}
}

func TestReadHeader_FieldSize(t *testing.T) {
	tests := []struct {
		name   string
		fields []testField
	}{
		{"short master seed", replaceField(v4Fields(), fieldMasterSeed, &testField{fieldMasterSeed, make([]byte, 16)})},
		{"IV for wrong cipher", replaceField(v4Fields(), fieldEncryptionIV, &testField{fieldEncryptionIV, make([]byte, 12)})},
		{"short cipher ID", replaceField(v4Fields(), fieldCipherID, &testField{fieldCipherID, make([]byte, 4)})},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw := buildHeader(magic2, Version4, test.fields...)
			_, _, err := readHeader(bytes.NewReader(raw))
			var sizeErr *binio.SizeError
			assert.True(t, errors.As(err, &sizeErr), "error = %v; want size error", err)
		})
	}
}

func TestHeaderMarshal(t *testing.T) {
	pcd := variant.New()
	pcd.SetBool("flag", true)
	tests := []*Header{
		{
			Version:            Version3,
			Cipher:             kdbcrypt.Twofish,
			Compression:        GZip,
			MasterSeed:         bytes.Repeat([]byte{1}, 32),
			EncryptionIV:       bytes.Repeat([]byte{2}, 16),
			KDFParameters:      kdf.AESParameters(bytes.Repeat([]byte{3}, 32), 6000),
			Comment:            []byte("v3"),
			ProtectedStreamKey: bytes.Repeat([]byte{4}, 32),
			StreamStartBytes:   bytes.Repeat([]byte{5}, 32),
			InnerRandomStream:  protect.Salsa20,
		},
		{
			Version:          Version4,
			Cipher:           kdbcrypt.ChaCha20,
			Compression:      NoCompression,
			MasterSeed:       bytes.Repeat([]byte{1}, 32),
			EncryptionIV:     bytes.Repeat([]byte{2}, 12),
			KDFParameters:    cheapParameters(kdf.Argon2id),
			PublicCustomData: pcd,
		},
	}
	for _, want := range tests {
		raw, err := want.marshal()
		require.NoError(t, err)
		got, gotRaw, err := readHeader(bytes.NewReader(raw))
		require.NoError(t, err, "version %#x", want.Version)
		assert.Equal(t, raw, gotRaw)

		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Cipher, got.Cipher)
		assert.Equal(t, want.Compression, got.Compression)
		assert.Equal(t, want.MasterSeed, got.MasterSeed)
		assert.Equal(t, want.EncryptionIV, got.EncryptionIV)
		assert.Equal(t, want.Comment, got.Comment)
		assert.Equal(t, want.ProtectedStreamKey, got.ProtectedStreamKey)
		assert.Equal(t, want.StreamStartBytes, got.StreamStartBytes)
		assert.Equal(t, want.InnerRandomStream, got.InnerRandomStream)
		wantParams, err := want.KDFParameters.MarshalBinary()
		require.NoError(t, err)
		gotParams, err := got.KDFParameters.MarshalBinary()
		require.NoError(t, err)
		assert.Equal(t, wantParams, gotParams)
		if want.PublicCustomData != nil {
			require.NotNil(t, got.PublicCustomData)
			assert.Equal(t, want.PublicCustomData.Names(), got.PublicCustomData.Names())
		}

		// Re-encoding reproduces the same bytes.
		again, err := got.marshal()
		require.NoError(t, err)
		assert.Equal(t, raw, again)
	}
}

func TestInnerHeader(t *testing.T) {
	want := &InnerHeader{
		InnerRandomStream:    protect.ChaCha20,
		InnerRandomStreamKey: bytes.Repeat([]byte{7}, 64),
		Binaries: []Binary{
			{Protected: true, Data: []byte("a")},
			{Data: []byte("bc")},
		},
	}
	buf := new(bytes.Buffer)
	require.NoError(t, want.write(buf))
	buf.WriteString("document")

	got, err := readInnerHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "document", buf.String())
}

func TestInnerHeader_Malformed(t *testing.T) {
	field := func(id byte, data []byte) []byte {
		return append(append([]byte{id}, binio.Uint32Bytes(uint32(len(data)))...), data...)
	}
	stream := field(innerFieldStreamID, binio.Uint32Bytes(uint32(protect.ChaCha20)))
	key := field(innerFieldStreamKey, make([]byte, 64))
	end := field(innerFieldEnd, nil)
	join := func(parts ...[]byte) []byte {
		return bytes.Join(parts, nil)
	}

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"missing key", join(stream, end), ErrFormat},
		{"missing stream", join(key, end), ErrFormat},
		{"duplicate stream", join(stream, stream, key, end), ErrFormat},
		{"unknown field", join(stream, key, field(9, nil), end), ErrFormat},
		{"binary without flags", join(stream, key, field(innerFieldBinary, nil), end), ErrFormat},
		{"unknown stream", join(field(innerFieldStreamID, binio.Uint32Bytes(9)), key, end), protect.ErrUnknownAlgorithm},
		{"truncated", join(stream, key), io.ErrUnexpectedEOF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := readInnerHeader(bytes.NewReader(test.data))
			assert.True(t, errors.Is(err, test.err), "error = %v; want %v", err, test.err)
		})
	}
}
