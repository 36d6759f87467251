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
	"io"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/binio"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/protect"
)

var errClosed = errors.New("kdbx: write on closed writer")

// A Writer encrypts a plaintext document into a database.  Close must
// be called to write the final blocks.
type Writer struct {
	header     *Header
	headerHash []byte
	inner      *InnerHeader
	protector  *protect.Stream
	w          io.Writer

	// closers are closed in order: compression, then block framing or
	// cipher, then the outermost layer.
	closers []io.Closer
	err     error
}

// NewWriter writes a new header to w using fresh random seeds and
// returns a Writer for the document.  Options are checked before any
// random data is read or key derived.
func NewWriter(w io.Writer, creds *kdbcrypt.Credentials, opts *Options) (*Writer, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, kdbcrypt.ErrNoCredentials
	}
	h, inner, err := newHeader(opts)
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("kdbx: writing version %d.%d database (cipher %v, compression %v)",
		h.Major(), h.Minor(), h.Cipher, h.Compression)
	raw, err := h.marshal()
	if err != nil {
		return nil, err
	}
	k, err := deriveKeys(h, creds)
	if err != nil {
		return nil, err
	}
	defer k.wipe()

	wr := &Writer{
		header:     h,
		headerHash: hashHeader(raw),
		inner:      inner,
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if h.Major() == 3 {
		err = wr.init3(w, k, opts)
	} else {
		err = wr.init4(w, raw, k, inner, opts)
	}
	if err != nil {
		return nil, err
	}
	return wr, nil
}

// newHeader fills in a header from opts with a fresh master seed, IV
// and protected stream key.
func newHeader(opts *Options) (*Header, *InnerHeader, error) {
	rand := &binio.Reader{R: opts.getRand()}
	h := &Header{
		Version:     opts.getHeaderVersion(),
		Cipher:      opts.getCipher(),
		Compression: opts.getCompression(),
	}
	if opts != nil {
		h.Comment = opts.Comment
	}
	h.MasterSeed = rand.Bytes(32)
	h.EncryptionIV = rand.Bytes(int64(h.Cipher.IVSize()))
	if rand.Err != nil {
		return nil, nil, errors.Wrap(rand.Err, "kdbx: generating seeds")
	}
	var err error
	h.KDFParameters, err = opts.newKDFParameters(rand.R)
	if err != nil {
		return nil, nil, err
	}

	stream := opts.getInnerStream()
	streamKey := rand.Bytes(int64(stream.KeySize()))
	if h.Major() == 3 {
		h.InnerRandomStream = stream
		h.ProtectedStreamKey = streamKey
		h.StreamStartBytes = rand.Bytes(32)
		if rand.Err != nil {
			return nil, nil, errors.Wrap(rand.Err, "kdbx: generating seeds")
		}
		return h, nil, nil
	}
	if rand.Err != nil {
		return nil, nil, errors.Wrap(rand.Err, "kdbx: generating seeds")
	}
	if opts != nil && opts.PublicCustomData != nil {
		h.PublicCustomData = opts.PublicCustomData.Clone()
	}
	inner := &InnerHeader{
		InnerRandomStream:    stream,
		InnerRandomStreamKey: streamKey,
	}
	if opts != nil {
		inner.Binaries = opts.Binaries
	}
	return h, inner, nil
}

func (wr *Writer) init3(w io.Writer, k *keys, opts *Options) error {
	h := wr.header
	enc, err := h.Cipher.NewEncrypter(w, k.cipher, h.EncryptionIV)
	if err != nil {
		return err
	}
	if _, err := enc.Write(h.StreamStartBytes); err != nil {
		return err
	}
	blocks := blockstream.NewHashedWriterSize(enc, opts.getBlockSize())
	body := h.Compression.compress(blocks)
	wr.protector, err = protect.New(h.InnerRandomStream, h.ProtectedStreamKey)
	if err != nil {
		return err
	}
	wr.w = body
	wr.closers = []io.Closer{body, blocks, enc}
	return nil
}

func (wr *Writer) init4(w io.Writer, raw []byte, k *keys, inner *InnerHeader, opts *Options) error {
	h := wr.header
	if _, err := w.Write(wr.headerHash); err != nil {
		return err
	}
	if _, err := w.Write(blockstream.HeaderHMAC(k.hmac, raw)); err != nil {
		return err
	}
	blocks := blockstream.NewHMACWriterSize(w, k.hmac, opts.getBlockSize())
	enc, err := h.Cipher.NewEncrypter(blocks, k.cipher, h.EncryptionIV)
	if err != nil {
		return err
	}
	body := h.Compression.compress(enc)
	if err := inner.write(body); err != nil {
		return err
	}
	wr.protector, err = protect.New(inner.InnerRandomStream, inner.InnerRandomStreamKey)
	if err != nil {
		return err
	}
	wr.w = body
	wr.closers = []io.Closer{body, enc, blocks}
	return nil
}

// Write writes plaintext to the document.
func (wr *Writer) Write(p []byte) (n int, err error) {
	if wr.err != nil {
		return 0, wr.err
	}
	n, err = wr.w.Write(p)
	if err != nil {
		wr.err = err
	}
	return n, err
}

// Close flushes the document and writes the final blocks.  It does not
// close the underlying writer.
func (wr *Writer) Close() error {
	if wr.err == errClosed {
		return nil
	} else if wr.err != nil {
		return wr.err
	}
	for _, c := range wr.closers {
		if err := c.Close(); err != nil {
			wr.err = err
			return err
		}
	}
	wr.err = errClosed
	return nil
}

// Header returns the header that was written.
func (wr *Writer) Header() *Header {
	return wr.header
}

// InnerHeader returns the KDBX 4 inner header or nil for KDBX 3.
func (wr *Writer) InnerHeader() *InnerHeader {
	return wr.inner
}

// HeaderHash returns the SHA-256 of the written header.
func (wr *Writer) HeaderHash() []byte {
	return append([]byte(nil), wr.headerHash...)
}

// Protector returns the stream for masking protected values.  The same
// stream must be used for every protected value, in document order.
func (wr *Writer) Protector() *protect.Stream {
	return wr.protector
}

// Save writes a new database to w.  produce is called to write the
// plaintext document; the database is finished only if it succeeds.
func Save(w io.Writer, creds *kdbcrypt.Credentials, opts *Options, produce func(io.Writer, *protect.Stream) error) (*Header, error) {
	wr, err := NewWriter(w, creds, opts)
	if err != nil {
		return nil, err
	}
	if err := produce(wr, wr.Protector()); err != nil {
		return nil, err
	}
	if err := wr.Close(); err != nil {
		return nil, err
	}
	return wr.header, nil
}
