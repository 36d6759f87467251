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
	"crypto/hmac"
	"crypto/subtle"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/protect"
)

// A Reader decrypts a database and provides its plaintext document.
// Every byte returned by Read has passed the integrity check of its
// block.
type Reader struct {
	header     *Header
	headerHash []byte
	inner      *InnerHeader
	protector  *protect.Stream
	r          io.Reader
	err        error
}

// NewReader reads the header from r, derives the keys from creds and
// verifies them.  A wrong password or key file is reported as
// ErrInvalidCredentials before any plaintext is available.
func NewReader(r io.Reader, creds *kdbcrypt.Credentials) (*Reader, error) {
	h, raw, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("kdbx: opening version %d.%d database (cipher %v, compression %v)",
		h.Major(), h.Minor(), h.Cipher, h.Compression)
	k, err := deriveKeys(h, creds)
	if err != nil {
		return nil, err
	}
	defer k.wipe()

	rd := &Reader{
		header:     h,
		headerHash: hashHeader(raw),
	}
	if h.Major() == 3 {
		err = rd.init3(r, k)
	} else {
		err = rd.init4(r, raw, k)
	}
	if err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) init3(r io.Reader, k *keys) error {
	h := rd.header
	dec, err := h.Cipher.NewDecrypter(r, k.cipher, h.EncryptionIV)
	if err != nil {
		return err
	}
	start := make([]byte, len(h.StreamStartBytes))
	if _, err := io.ReadFull(dec, start); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ErrInvalidCredentials
		}
		return errors.Wrap(err, "kdbx: reading stream start bytes")
	}
	if subtle.ConstantTimeCompare(start, h.StreamStartBytes) != 1 {
		return ErrInvalidCredentials
	}
	body, err := h.Compression.decompress(blockstream.NewHashedReader(dec))
	if err != nil {
		return errors.Wrap(err, "kdbx: starting decompression")
	}
	rd.protector, err = protect.New(h.InnerRandomStream, h.ProtectedStreamKey)
	if err != nil {
		return err
	}
	rd.r = body
	return nil
}

func (rd *Reader) init4(r io.Reader, raw []byte, k *keys) error {
	h := rd.header
	var sum, mac [32]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return errors.Wrap(eofAsUnexpected(err), "kdbx: reading header hash")
	}
	if _, err := io.ReadFull(r, mac[:]); err != nil {
		return errors.Wrap(eofAsUnexpected(err), "kdbx: reading header HMAC")
	}
	if subtle.ConstantTimeCompare(sum[:], rd.headerHash) != 1 {
		return ErrHeaderCorrupt
	}
	if !hmac.Equal(mac[:], blockstream.HeaderHMAC(k.hmac, raw)) {
		return ErrInvalidCredentials
	}
	dec, err := h.Cipher.NewDecrypter(blockstream.NewHMACReader(r, k.hmac), k.cipher, h.EncryptionIV)
	if err != nil {
		return err
	}
	body, err := h.Compression.decompress(dec)
	if err != nil {
		return errors.Wrap(err, "kdbx: starting decompression")
	}
	rd.inner, err = readInnerHeader(body)
	if err != nil {
		return err
	}
	rd.protector, err = protect.New(rd.inner.InnerRandomStream, rd.inner.InnerRandomStreamKey)
	if err != nil {
		return err
	}
	rd.r = body
	return nil
}

// Read reads plaintext from the document.
func (rd *Reader) Read(p []byte) (n int, err error) {
	if rd.err != nil {
		return 0, rd.err
	}
	n, err = rd.r.Read(p)
	if err != nil && err != io.EOF {
		err = errors.Wrap(err, "kdbx: reading body")
	}
	rd.err = err
	return n, err
}

// Header returns the database's outer header.
func (rd *Reader) Header() *Header {
	return rd.header
}

// InnerHeader returns the KDBX 4 inner header or nil for KDBX 3.
func (rd *Reader) InnerHeader() *InnerHeader {
	return rd.inner
}

// Binaries returns the attachments in the inner header.
func (rd *Reader) Binaries() []Binary {
	if rd.inner == nil {
		return nil
	}
	return rd.inner.Binaries
}

// HeaderHash returns the SHA-256 of the outer header.  KDBX 3
// documents record it to detect header tampering.
func (rd *Reader) HeaderHash() []byte {
	return append([]byte(nil), rd.headerHash...)
}

// Protector returns the stream for unmasking protected values.  The
// same stream must be used for every protected value, in document
// order.
func (rd *Reader) Protector() *protect.Stream {
	return rd.protector
}

// Load opens a database and calls consume with its plaintext document.
// After consume returns, the rest of the body is read and verified, so
// a nil error means the whole file was authentic.
func Load(r io.Reader, creds *kdbcrypt.Credentials, consume func(io.Reader, *protect.Stream) error) (*Header, error) {
	rd, err := NewReader(r, creds)
	if err != nil {
		return nil, err
	}
	if err := consume(rd, rd.Protector()); err != nil {
		return nil, err
	}
	if _, err := io.Copy(ioutil.Discard, rd); err != nil {
		return nil, err
	}
	return rd.header, nil
}
