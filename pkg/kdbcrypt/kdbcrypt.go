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

// Package kdbcrypt provides the KDBX outer ciphers and the composite
// key built from a user's credentials.
package kdbcrypt // import "zombiezen.com/go/kdbx/pkg/kdbcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/twofish"
	"zombiezen.com/go/kdbx/pkg/cipherio"
)

// Errors
var (
	ErrUnknownCipher = errors.New("kdbcrypt: unknown cipher")
	ErrKeySize       = errors.New("kdbcrypt: key must be 32 bytes")
	ErrIVSize        = errors.New("kdbcrypt: wrong IV size for cipher")
)

// KeySize is the size in bytes of the final key for every cipher.
const KeySize = 32

// Cipher is a cipher algorithm used to encrypt the database body.
type Cipher int

// Available ciphers
const (
	AES256 Cipher = iota
	Twofish
	ChaCha20
)

var cipherUUIDs = [...]uuid.UUID{
	AES256:   uuid.MustParse("31c1f2e6-bf71-4350-be58-05216afc5aff"),
	Twofish:  uuid.MustParse("ad68f29f-576f-4bb9-a36a-d47af965346c"),
	ChaCha20: uuid.MustParse("d6038a2b-8b6f-4cb5-a524-339a31dbb59a"),
}

// CipherFromUUID returns the cipher identified by id in a KDBX header.
func CipherFromUUID(id uuid.UUID) (Cipher, error) {
	for c, u := range cipherUUIDs {
		if u == id {
			return Cipher(c), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownCipher, "%v", id)
}

// Valid reports whether c is a known cipher.
func (c Cipher) Valid() bool {
	return c >= 0 && int(c) < len(cipherUUIDs)
}

// UUID returns the identifier stored in the header for c.
func (c Cipher) UUID() uuid.UUID {
	if !c.Valid() {
		return uuid.Nil
	}
	return cipherUUIDs[c]
}

// IVSize returns the length of the encryption IV that c expects.
func (c Cipher) IVSize() int {
	switch c {
	case AES256, Twofish:
		return 16
	case ChaCha20:
		return chacha20.NonceSize
	default:
		return 0
	}
}

func (c Cipher) String() string {
	switch c {
	case AES256:
		return "AES-256"
	case Twofish:
		return "Twofish"
	case ChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("Cipher(%d)", int(c))
	}
}

func (c Cipher) block(key []byte) (cipher.Block, error) {
	switch c {
	case AES256:
		return aes.NewCipher(key)
	case Twofish:
		return twofish.NewCipher(key)
	default:
		return nil, ErrUnknownCipher
	}
}

func (c Cipher) check(key, iv []byte) error {
	if !c.Valid() {
		return ErrUnknownCipher
	}
	if len(key) != KeySize {
		return ErrKeySize
	}
	if len(iv) != c.IVSize() {
		return errors.Wrapf(ErrIVSize, "%v takes %d bytes, got %d", c, c.IVSize(), len(iv))
	}
	return nil
}

// NewEncrypter creates a new writer that encrypts to w.  Closing the
// new writer flushes the final, padded block for block ciphers but does
// not close w.
func (c Cipher) NewEncrypter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	if err := c.check(key, iv); err != nil {
		return nil, err
	}
	if c == ChaCha20 {
		s, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return nil, err
		}
		return cipherio.NewStreamWriter(w, s), nil
	}
	b, err := c.block(key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewWriter(w, cipher.NewCBCEncrypter(b, iv)), nil
}

// NewDecrypter creates a new reader that decrypts r and, for block
// ciphers, strips padding.
func (c Cipher) NewDecrypter(r io.Reader, key, iv []byte) (io.Reader, error) {
	if err := c.check(key, iv); err != nil {
		return nil, err
	}
	if c == ChaCha20 {
		s, err := chacha20.NewUnauthenticatedCipher(key, iv)
		if err != nil {
			return nil, err
		}
		return cipherio.NewStreamReader(r, s), nil
	}
	b, err := c.block(key)
	if err != nil {
		return nil, err
	}
	return cipherio.NewReader(r, cipher.NewCBCDecrypter(b, iv)), nil
}

// Wipe overwrites b with zeroes.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
