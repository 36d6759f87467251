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
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/blockstream"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
	"zombiezen.com/go/kdbx/pkg/kdf"
	"zombiezen.com/go/kdbx/pkg/protect"
	"zombiezen.com/go/kdbx/pkg/variant"
)

// Options is the set of parameters for writing a database.
// Nil is treated the same as the zero value.
type Options struct {
	// Version is the major format version to write: 3 or 4.
	// Defaults to 4.
	Version int

	// Cipher to encrypt with.  Defaults to AES-256.
	Cipher kdbcrypt.Cipher

	// KDF is the key derivation function used with fresh default
	// parameters.  Defaults to AES-KDF.  Ignored if KDFParameters is set.
	KDF kdf.Algorithm

	// KDFParameters, if not nil, are used instead of fresh parameters.
	// They are copied, never modified.  KDBX 3 requires AES-KDF.
	KDFParameters *variant.Dictionary

	Compression Compression

	// InnerStream is the protected value cipher.  Defaults to ChaCha20
	// for KDBX 4 and Salsa20 for KDBX 3, which supports only Salsa20.
	InnerStream protect.Algorithm

	// Binaries are attachments stored in the inner header (KDBX 4 only).
	Binaries []Binary

	// PublicCustomData is stored unencrypted in the header (KDBX 4 only).
	PublicCustomData *variant.Dictionary

	// Comment is stored unencrypted in the header.
	Comment []byte

	// Random number source, used for seeds, IVs and keys.
	// Defaults to crypto/rand.Reader.
	Rand io.Reader

	// blockSize overrides the integrity block size in tests.
	blockSize int
}

func (opts *Options) getVersion() int {
	if opts == nil || opts.Version == 0 {
		return 4
	}
	return opts.Version
}

func (opts *Options) getHeaderVersion() uint32 {
	if opts.getVersion() == 3 {
		return Version3
	}
	return Version4
}

func (opts *Options) getCipher() kdbcrypt.Cipher {
	if opts == nil {
		return kdbcrypt.AES256
	}
	return opts.Cipher
}

func (opts *Options) getKDF() (kdf.Algorithm, error) {
	if opts == nil {
		return kdf.AES, nil
	}
	if opts.KDFParameters != nil {
		return kdf.FromParameters(opts.KDFParameters)
	}
	return opts.KDF, nil
}

func (opts *Options) getCompression() Compression {
	if opts == nil {
		return NoCompression
	}
	return opts.Compression
}

func (opts *Options) getInnerStream() protect.Algorithm {
	if opts == nil || opts.InnerStream == protect.None {
		if opts.getVersion() == 3 {
			return protect.Salsa20
		}
		return protect.ChaCha20
	}
	return opts.InnerStream
}

func (opts *Options) getRand() io.Reader {
	if opts == nil || opts.Rand == nil {
		return rand.Reader
	}
	return opts.Rand
}

func (opts *Options) getBlockSize() int {
	if opts == nil || opts.blockSize <= 0 {
		return blockstream.BlockSize
	}
	return opts.blockSize
}

// newKDFParameters returns a copy of the configured parameters or fresh
// ones for the configured algorithm.
func (opts *Options) newKDFParameters(r io.Reader) (*variant.Dictionary, error) {
	if opts != nil && opts.KDFParameters != nil {
		return opts.KDFParameters.Clone(), nil
	}
	a, err := opts.getKDF()
	if err != nil {
		return nil, err
	}
	return a.NewParameters(r)
}

// validate checks the options before any random data is drawn or any
// key is derived.
func (opts *Options) validate() error {
	version := opts.getVersion()
	if version != 3 && version != 4 {
		return errors.Wrapf(ErrInvalidOptions, "version %d", version)
	}
	if c := opts.getCipher(); !c.Valid() {
		return errors.Wrapf(ErrInvalidOptions, "%v", c)
	}
	a, err := opts.getKDF()
	if err != nil {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	if !a.Valid() {
		return errors.Wrapf(ErrInvalidOptions, "%v", a)
	}
	if opts != nil && opts.KDFParameters != nil {
		if err := a.Validate(opts.KDFParameters); err != nil {
			return errors.Wrap(ErrInvalidOptions, err.Error())
		}
	}
	if c := opts.getCompression(); !c.valid() {
		return errors.Wrapf(ErrInvalidOptions, "%v", c)
	}
	if err := opts.getInnerStream().Check(); err != nil {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	if version == 3 {
		switch {
		case a != kdf.AES:
			return errors.Wrapf(ErrInvalidOptions, "KDBX 3 cannot use %v", a)
		case opts.getInnerStream() != protect.Salsa20:
			return errors.Wrapf(ErrInvalidOptions, "KDBX 3 cannot use %v inner stream", opts.getInnerStream())
		case len(opts.Binaries) > 0:
			return errors.Wrap(ErrInvalidOptions, "KDBX 3 stores binaries in the document")
		case opts.PublicCustomData != nil && opts.PublicCustomData.Len() > 0:
			return errors.Wrap(ErrInvalidOptions, "KDBX 3 has no public custom data")
		}
	}
	return nil
}
