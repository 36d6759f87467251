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

package cipherio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
	"testing/iotest"

	"golang.org/x/crypto/chacha20"
)

// A cipherTest is a single test case of a reader or writer.
// The block cipher mode is assumed to encrypt by adding one to all bytes.
// Each test case may be used multiple times to test different reader/writer conditions.
type cipherTest struct {
	plain     []byte
	cipher    []byte
	blockSize int
	readErr   error
}

var tests = []cipherTest{
	{
		plain:     []byte{},
		cipher:    []byte{},
		blockSize: 4,
		readErr:   io.ErrUnexpectedEOF,
	},
	{
		plain:     []byte{},
		cipher:    []byte{1},
		blockSize: 4,
		readErr:   io.ErrUnexpectedEOF,
	},
	{
		plain:     []byte{},
		cipher:    []byte{5, 5, 5, 5},
		blockSize: 4,
	},
	{
		plain:     []byte{42},
		cipher:    []byte{43, 4, 4, 4},
		blockSize: 4,
	},
	{
		plain:     []byte{0, 1, 2, 3},
		cipher:    []byte{1, 2, 3, 4, 5, 5, 5, 5},
		blockSize: 4,
	},
	{
		plain:     []byte{0, 1, 2, 3, 42},
		cipher:    []byte{1, 2, 3, 4, 43, 4, 4, 4},
		blockSize: 4,
	},
	{
		plain:     []byte{0, 1, 2, 3, 4, 5, 6, 7},
		cipher:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 5, 5, 5, 5},
		blockSize: 4,
	},
	{
		plain:     []byte{0, 1, 2, 3, 4, 5, 6, 7, 42},
		cipher:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 43, 4, 4, 4},
		blockSize: 4,
	},
}

func TestReader(t *testing.T) {
	for _, test := range tests {
		plain := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 255}

		r := NewReader(bytes.NewReader(test.cipher), mode)
		_, err := io.Copy(plain, r)

		subject := fmt.Sprintf("io.Copy(..., NewReader(bytes.NewReader(%v), %#v))", test.cipher, mode)
		if err != test.readErr {
			t.Errorf("%s error = %v; want %v", subject, err, test.readErr)
		}
		if !bytes.Equal(plain.Bytes(), test.plain) {
			t.Errorf("%s data = %v; want %v", subject, plain.Bytes(), test.plain)
		}
	}
}

func TestReader_OneByteInput(t *testing.T) {
	for _, test := range tests {
		plain := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 255}
		src := iotest.OneByteReader(bytes.NewReader(test.cipher))

		r := NewReader(src, mode)
		_, err := io.Copy(plain, r)

		subject := fmt.Sprintf("io.Copy(..., NewReader(iotest.OneByteReader(bytes.NewReader(%v)), %#v))", test.cipher, mode)
		if err != test.readErr {
			t.Errorf("%s error = %v; want %v", subject, err, test.readErr)
		}
		if !bytes.Equal(plain.Bytes(), test.plain) {
			t.Errorf("%s data = %v; want %v", subject, plain.Bytes(), test.plain)
		}
	}
}

func TestReader_OneByteOutput(t *testing.T) {
	for _, test := range tests {
		plain := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 255}

		r := iotest.OneByteReader(NewReader(bytes.NewReader(test.cipher), mode))
		_, err := io.Copy(plain, r)

		subject := fmt.Sprintf("io.Copy(..., iotest.OneByteReader(NewReader(bytes.NewReader(%v)), %#v))", test.cipher, mode)
		if err != test.readErr {
			t.Errorf("%s error = %v; want %v", subject, err, test.readErr)
		}
		if !bytes.Equal(plain.Bytes(), test.plain) {
			t.Errorf("%s data = %v; want %v", subject, plain.Bytes(), test.plain)
		}
	}
}

func TestReader_SourceError(t *testing.T) {
	// The source fails after what would be a complete, validly padded
	// stream.  The last block must not be released as plaintext.
	srcErr := errors.New("source failed")
	cipher := []byte{1, 2, 3, 4, 5, 5, 5, 5}
	mode := fakeBlockMode{size: 4, delta: 255}
	src := io.MultiReader(bytes.NewReader(cipher), iotest.ErrReader(srcErr))

	plain := new(bytes.Buffer)
	_, err := io.Copy(plain, NewReader(src, mode))

	if err != srcErr {
		t.Errorf("io.Copy error = %v; want %v", err, srcErr)
	}
	if want := []byte{0, 1, 2, 3}; !bytes.Equal(plain.Bytes(), want) {
		t.Errorf("io.Copy data = %v; want %v", plain.Bytes(), want)
	}
}

func TestWriter(t *testing.T) {
	for _, test := range tests {
		if test.readErr != nil {
			continue
		}
		cipher := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 1}

		w := NewWriter(cipher, mode)
		_, err := io.Copy(w, bytes.NewReader(test.plain))
		cerr := w.Close()

		subject := fmt.Sprintf("io.Copy(NewWriter(..., %#v), bytes.NewReader(%v))", mode, test.cipher)
		if err != nil {
			t.Errorf("%s error: %v", subject, err)
		}
		if cerr != nil {
			t.Errorf("%s Close() error: %v", subject, cerr)
		}
		if !bytes.Equal(cipher.Bytes(), test.cipher) {
			t.Errorf("%s data = %v; want %v", subject, cipher.Bytes(), test.cipher)
		}
	}
}

func TestWriter_OneByte(t *testing.T) {
	for _, test := range tests {
		if test.readErr != nil {
			continue
		}
		cipher := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 1}

		w := NewWriter(cipher, mode)
		_, err := io.Copy(w, iotest.OneByteReader(bytes.NewReader(test.plain)))
		cerr := w.Close()

		subject := fmt.Sprintf("io.Copy(NewWriter(..., %#v), iotest.OneByteReader(bytes.NewReader(%v)))", mode, test.cipher)
		if err != nil {
			t.Errorf("%s error: %v", subject, err)
		}
		if cerr != nil {
			t.Errorf("%s Close() error: %v", subject, cerr)
		}
		if !bytes.Equal(cipher.Bytes(), test.cipher) {
			t.Errorf("%s data = %v; want %v", subject, cipher.Bytes(), test.cipher)
		}
	}
}

func TestWriter_TightBuffer(t *testing.T) {
	for _, test := range tests {
		if test.readErr != nil {
			continue
		}
		cipher := new(bytes.Buffer)
		mode := fakeBlockMode{size: test.blockSize, delta: 1}

		w := newWriter(cipher, mode, test.blockSize)
		_, err := io.Copy(w, bytes.NewReader(test.plain))
		cerr := w.Close()

		subject := fmt.Sprintf("io.Copy(newWriter(..., %#v, %d), bytes.NewReader(%v)))", mode, test.blockSize, test.cipher)
		if err != nil {
			t.Errorf("%s error: %v", subject, err)
		}
		if cerr != nil {
			t.Errorf("%s Close() error: %v", subject, cerr)
		}
		if !bytes.Equal(cipher.Bytes(), test.cipher) {
			t.Errorf("%s data = %v; want %v", subject, cipher.Bytes(), test.cipher)
		}
	}
}

func TestStreamWriter(t *testing.T) {
	key := make([]byte, chacha20.KeySize)
	nonce := make([]byte, chacha20.NonceSize)
	plain := bytes.Repeat([]byte("0123456789abcdef"), 200)

	want := make([]byte, len(plain))
	s, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		t.Fatal(err)
	}
	s.XORKeyStream(want, plain)

	s, _ = chacha20.NewUnauthenticatedCipher(key, nonce)
	got := new(bytes.Buffer)
	w := NewStreamWriter(got, s)
	if _, err := io.Copy(w, iotest.OneByteReader(bytes.NewReader(plain))); err != nil {
		t.Errorf("io.Copy(NewStreamWriter(...), ...) error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Error("NewStreamWriter output differs from XORKeyStream")
	}
	if _, err := w.Write([]byte{1}); err == nil {
		t.Error("Write after Close succeeded")
	}

	s, _ = chacha20.NewUnauthenticatedCipher(key, nonce)
	back := new(bytes.Buffer)
	if _, err := io.Copy(back, NewStreamReader(bytes.NewReader(got.Bytes()), s)); err != nil {
		t.Errorf("io.Copy(..., NewStreamReader(...)) error: %v", err)
	}
	if !bytes.Equal(back.Bytes(), plain) {
		t.Error("NewStreamReader did not recover plaintext")
	}
}

type fakeBlockMode struct {
	delta byte
	size  int
}

func (mode fakeBlockMode) BlockSize() int {
	return mode.size
}

func (mode fakeBlockMode) CryptBlocks(dst, src []byte) {
	for i := range src {
		dst[i] = src[i] + mode.delta
	}
}
