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

// Package protect implements the inner random stream that masks
// protected values (passwords and other sensitive fields) inside a
// decrypted KDBX document.
//
// A single Stream is created per load or save.  Every protected value
// in the document must pass through it in document order: the
// keystream position is shared by all values, so skipping a value or
// processing values out of order corrupts every value after it.
package protect // import "zombiezen.com/go/kdbx/pkg/protect"

import (
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
)

// Errors
var (
	ErrUnknownAlgorithm = errors.New("protect: unknown inner stream algorithm")
	ErrUnsupported      = errors.New("protect: unsupported inner stream algorithm")
)

// Algorithm identifies the inner random stream cipher.  The values are
// those stored in the KDBX header.
type Algorithm uint32

// Inner stream algorithms
const (
	None     Algorithm = 0
	ArcFour  Algorithm = 1 // recognized but not supported
	Salsa20  Algorithm = 2
	ChaCha20 Algorithm = 3
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "None"
	case ArcFour:
		return "ArcFourVariant"
	case Salsa20:
		return "Salsa20"
	case ChaCha20:
		return "ChaCha20"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint32(a))
	}
}

// Check returns an error if a cannot be used to create a Stream.
func (a Algorithm) Check() error {
	switch a {
	case None, Salsa20, ChaCha20:
		return nil
	case ArcFour:
		return errors.Wrapf(ErrUnsupported, "%v", a)
	default:
		return errors.Wrapf(ErrUnknownAlgorithm, "%d", uint32(a))
	}
}

// KeySize returns the size of the random key generated for new
// databases.
func (a Algorithm) KeySize() int {
	if a == ChaCha20 {
		return 64
	}
	return 32
}

// salsa20IV is the fixed nonce KeePass uses for the Salsa20 inner stream.
var salsa20IV = [8]byte{0xe8, 0x30, 0x09, 0x4b, 0x97, 0x20, 0x5d, 0x2a}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// A Stream is a stateful keystream.  It must not be copied, and it is
// not safe for concurrent use.
type Stream struct {
	noCopy noCopy
	alg    Algorithm
	s      cipher.Stream
}

// New returns a Stream for alg seeded from key, positioned at the
// start of the keystream.
func New(alg Algorithm, key []byte) (*Stream, error) {
	if err := alg.Check(); err != nil {
		return nil, err
	}
	st := &Stream{alg: alg}
	switch alg {
	case Salsa20:
		st.s = newSalsa20(sha256.Sum256(key))
	case ChaCha20:
		h := sha512.Sum512(key)
		s, err := chacha20.NewUnauthenticatedCipher(h[:32], h[32:44])
		if err != nil {
			return nil, err
		}
		st.s = s
	}
	return st, nil
}

// Algorithm returns the stream's algorithm.
func (st *Stream) Algorithm() Algorithm {
	return st.alg
}

// XORKeyStream XORs each byte in src with the next byte of the
// keystream and stores the result in dst.  With the None algorithm it
// copies src to dst.
func (st *Stream) XORKeyStream(dst, src []byte) {
	if st.s == nil {
		copy(dst, src)
		return
	}
	st.s.XORKeyStream(dst, src)
}

// Protect masks the next protected value, returning a new slice.
func (st *Stream) Protect(plain []byte) []byte {
	out := make([]byte, len(plain))
	st.XORKeyStream(out, plain)
	return out
}

// Unprotect recovers the next protected value, returning a new slice.
func (st *Stream) Unprotect(masked []byte) []byte {
	return st.Protect(masked)
}

// ProtectString masks plain and encodes it as base64, the form
// protected values take in the document.
func (st *Stream) ProtectString(plain []byte) string {
	return base64.StdEncoding.EncodeToString(st.Protect(plain))
}

// UnprotectString decodes a base64 protected value and unmasks it.
// The keystream does not advance if s is not valid base64.
func (st *Stream) UnprotectString(s string) ([]byte, error) {
	masked, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "protect: decoding value")
	}
	return st.Unprotect(masked), nil
}

// salsa20Stream is a Salsa20/20 keystream that keeps its position
// across calls.
type salsa20Stream struct {
	key     [32]byte
	counter [16]byte
	block   [64]byte
	used    int
}

func newSalsa20(key [32]byte) *salsa20Stream {
	s := &salsa20Stream{key: key, used: 64}
	copy(s.counter[:8], salsa20IV[:])
	return s
}

func (s *salsa20Stream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("protect: output smaller than input")
	}
	for i := range src {
		if s.used == len(s.block) {
			s.refill()
		}
		dst[i] = src[i] ^ s.block[s.used]
		s.used++
	}
}

func (s *salsa20Stream) refill() {
	var zero [64]byte
	salsa.XORKeyStream(s.block[:], zero[:], &s.counter, &s.key)
	n := binary.LittleEndian.Uint64(s.counter[8:])
	binary.LittleEndian.PutUint64(s.counter[8:], n+1)
	s.used = 0
}
