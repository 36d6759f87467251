// Copyright 2016 Ross Light
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

package kdbcrypt

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"io/ioutil"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCiphers = []Cipher{AES256, Twofish, ChaCha20}

func TestCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	sizes := []int{0, 1, 15, 16, 17, 1023, 1024, 4097}
	for _, c := range allCiphers {
		for _, n := range sizes {
			plain := make([]byte, n)
			for i := range plain {
				plain[i] = byte(i * 7)
			}
			iv := make([]byte, c.IVSize())
			iv[0] = 1

			enc := new(bytes.Buffer)
			w, err := c.NewEncrypter(enc, key, iv)
			require.NoError(t, err, "%v.NewEncrypter", c)
			_, err = io.Copy(w, iotest.OneByteReader(bytes.NewReader(plain)))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			switch c {
			case ChaCha20:
				assert.Equal(t, n, enc.Len(), "%v ciphertext length", c)
			default:
				assert.Equal(t, (n/16+1)*16, enc.Len(), "%v ciphertext length", c)
			}

			r, err := c.NewDecrypter(bytes.NewReader(enc.Bytes()), key, iv)
			require.NoError(t, err, "%v.NewDecrypter", c)
			got, err := ioutil.ReadAll(r)
			require.NoError(t, err, "%v decrypt %d bytes", c, n)
			assert.Equal(t, plain, got, "%v round trip of %d bytes", c, n)
		}
	}
}

func TestCipherUUID(t *testing.T) {
	for _, c := range allCiphers {
		got, err := CipherFromUUID(c.UUID())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	assert.Equal(t, "31c1f2e6-bf71-4350-be58-05216afc5aff", AES256.UUID().String())

	_, err := CipherFromUUID(uuid.MustParse("00000000-0000-0000-0000-000000000001"))
	assert.True(t, errors.Is(err, ErrUnknownCipher), "CipherFromUUID(unknown) error = %v", err)
}

func TestCipherParameterErrors(t *testing.T) {
	key := make([]byte, KeySize)
	_, err := AES256.NewEncrypter(ioutil.Discard, key, make([]byte, 12))
	assert.True(t, errors.Is(err, ErrIVSize), "AES with 12-byte IV: %v", err)
	_, err = ChaCha20.NewDecrypter(bytes.NewReader(nil), key, make([]byte, 16))
	assert.True(t, errors.Is(err, ErrIVSize), "ChaCha20 with 16-byte IV: %v", err)
	_, err = Twofish.NewEncrypter(ioutil.Discard, key[:16], make([]byte, 16))
	assert.Equal(t, ErrKeySize, err)
	_, err = Cipher(42).NewEncrypter(ioutil.Discard, key, nil)
	assert.Equal(t, ErrUnknownCipher, err)
}

func TestCredentials(t *testing.T) {
	pw := sha256.Sum256([]byte("swordfish"))
	fileKey := bytes.Repeat([]byte{0xaa}, 32)

	tests := []struct {
		name     string
		password []byte
		keyFile  []byte
		want     []byte
	}{
		{
			name:     "PasswordOnly",
			password: []byte("swordfish"),
			want:     sum(pw[:]),
		},
		{
			name:    "KeyFileOnly",
			keyFile: fileKey,
			want:    sum(fileKey),
		},
		{
			name:     "Both",
			password: []byte("swordfish"),
			keyFile:  fileKey,
			want:     sum(append(append([]byte{}, pw[:]...), fileKey...)),
		},
		{
			name:     "EmptyPassword",
			password: []byte{},
			want:     sum(sum(nil)),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c, err := NewCredentials(test.password, test.keyFile)
			require.NoError(t, err)
			assert.Equal(t, test.want, c.CompositeKey())
		})
	}

	_, err := NewCredentials(nil, nil)
	assert.Equal(t, ErrNoCredentials, err)
	_, err = NewCredentials(nil, []byte{1, 2, 3})
	assert.Error(t, err)

	c := PasswordCredentials("swordfish")
	k := c.CompositeKey()
	k[0] ^= 0xff
	assert.Equal(t, sum(pw[:]), c.CompositeKey(), "CompositeKey returned shared memory")
	c.Destroy()
	assert.Equal(t, make([]byte, 32), c.CompositeKey())
}

func TestReadKeyFile(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	hexKey := hex.EncodeToString(raw)
	other := strings.Repeat("not a key ", 100)
	v1 := `<?xml version="1.0" encoding="utf-8"?>
<KeyFile>
	<Meta><Version>1.00</Version></Meta>
	<Key><Data>` + base64.StdEncoding.EncodeToString(raw) + `</Data></Key>
</KeyFile>`
	v2 := `<?xml version="1.0" encoding="utf-8"?>
<KeyFile>
	<Meta>
		<Version>2.0</Version>
	</Meta>
	<Key>
		<Data Hash="630DCD29">
			00010203 04050607 08090A0B 0C0D0E0F
			10111213 14151617 18191A1B 1C1D1E1F
		</Data>
	</Key>
</KeyFile>`
	v2Bad := strings.Replace(v2, "630DCD29", "00000000", 1)

	tests := []struct {
		name string
		data string
		want []byte
		err  error
	}{
		{name: "Raw", data: string(raw), want: raw},
		{name: "Hex", data: hexKey, want: raw},
		{name: "Other", data: other, want: sum([]byte(other))},
		{name: "XMLv1", data: v1, want: raw},
		{name: "XMLv2", data: v2, want: raw},
		{name: "XMLv2BadHash", data: v2Bad, err: ErrKeyFileHash},
		{name: "Large", data: strings.Repeat("x", maxXMLKeyFile+100), want: sum([]byte(strings.Repeat("x", maxXMLKeyFile+100)))},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ReadKeyFile(strings.NewReader(test.data))
			if test.err != nil {
				assert.Equal(t, test.err, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestWriteKeyFile(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	buf := new(bytes.Buffer)
	require.NoError(t, WriteKeyFile(buf, key))
	assert.Contains(t, buf.String(), `Hash="630DCD29"`)

	got, err := ReadKeyFile(buf)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func sum(b []byte) []byte {
	s := sha256.Sum256(b)
	return s[:]
}
