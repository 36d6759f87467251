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
	"crypto/sha256"
	"crypto/sha512"

	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/kdbcrypt"
)

// keys are the per-file keys derived from the credentials and header.
type keys struct {
	cipher []byte // 32 bytes
	hmac   []byte // 64 bytes, KDBX 4 only
}

// deriveKeys runs the header's KDF on the composite key and derives
// the cipher key and, for KDBX 4, the HMAC key.
func deriveKeys(h *Header, creds *kdbcrypt.Credentials) (*keys, error) {
	if creds == nil {
		return nil, kdbcrypt.ErrNoCredentials
	}
	alg, err := h.KDF()
	if err != nil {
		return nil, err
	}
	composite := creds.CompositeKey()
	defer kdbcrypt.Wipe(composite)
	transformed, err := alg.Transform(composite, h.KDFParameters.Clone())
	if err != nil {
		return nil, errors.Wrap(err, "kdbx: deriving key")
	}
	defer kdbcrypt.Wipe(transformed)
	seeded := alg.Seed(h.MasterSeed, transformed)
	defer kdbcrypt.Wipe(seeded)

	k := new(keys)
	c := sha256.New()
	c.Write(h.MasterSeed)
	c.Write(seeded)
	k.cipher = c.Sum(nil)
	if h.Major() >= 4 {
		m := sha512.New()
		m.Write(h.MasterSeed)
		m.Write(seeded)
		m.Write([]byte{0x01})
		k.hmac = m.Sum(nil)
	}
	return k, nil
}

func (k *keys) wipe() {
	kdbcrypt.Wipe(k.cipher)
	kdbcrypt.Wipe(k.hmac)
}
