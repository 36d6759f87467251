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
	"crypto/sha256"

	"github.com/pkg/errors"
)

// ErrNoCredentials is returned when neither a password nor a key file is given.
var ErrNoCredentials = errors.New("kdbcrypt: no password or key file")

// Credentials hold the composite key derived from a password and/or a
// key file.  Only the 32-byte digest is retained.
type Credentials struct {
	key [sha256.Size]byte
}

// NewCredentials combines a password and a key file key (as returned
// by ReadKeyFile) into a composite key.  A nil password or key file is
// omitted; a non-nil empty password is still a component.
func NewCredentials(password, keyFileKey []byte) (*Credentials, error) {
	if password == nil && keyFileKey == nil {
		return nil, ErrNoCredentials
	}
	h := sha256.New()
	if password != nil {
		p := sha256.Sum256(password)
		h.Write(p[:])
		Wipe(p[:])
	}
	if keyFileKey != nil {
		if len(keyFileKey) != sha256.Size {
			return nil, errors.Errorf("kdbcrypt: key file key is %d bytes, should be %d", len(keyFileKey), sha256.Size)
		}
		h.Write(keyFileKey)
	}
	c := new(Credentials)
	h.Sum(c.key[:0])
	return c, nil
}

// PasswordCredentials returns the credentials for a password alone.
func PasswordCredentials(password string) *Credentials {
	c, _ := NewCredentials([]byte(password), nil)
	return c
}

// CompositeKey returns a copy of the composite key.  The caller owns
// the returned slice and should Wipe it when done.
func (c *Credentials) CompositeKey() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key[:])
	return k
}

// Destroy zeroes the composite key.  The credentials must not be used
// afterward.
func (c *Credentials) Destroy() {
	Wipe(c.key[:])
}
