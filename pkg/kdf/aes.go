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

package kdf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/variant"
)

// DefaultAESRounds is the number of AES-KDF rounds used for new databases.
const DefaultAESRounds = 60000

type aesParameters struct {
	rounds uint64
	seed   []byte
}

func newAESParameters(rand io.Reader) (*variant.Dictionary, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, errors.Wrap(err, "kdf: generating AES-KDF seed")
	}
	p := variant.New()
	p.SetBytes(ParamUUID, algorithmUUIDs[AES][:])
	p.SetUint64(ParamRounds, DefaultAESRounds)
	p.SetBytes(ParamSeed, seed)
	return p, nil
}

// AESParameters returns the dictionary form of the fixed KDBX 3
// transform fields.
func AESParameters(seed []byte, rounds uint64) *variant.Dictionary {
	p := variant.New()
	p.SetBytes(ParamUUID, algorithmUUIDs[AES][:])
	p.SetUint64(ParamRounds, rounds)
	p.SetBytes(ParamSeed, seed)
	return p
}

// ReadAESParameters returns the seed and round count from an AES-KDF
// parameter dictionary.
func ReadAESParameters(params *variant.Dictionary) (seed []byte, rounds uint64, err error) {
	p, err := readAESParameters(params)
	if err != nil {
		return nil, 0, err
	}
	return p.seed, p.rounds, nil
}

func readAESParameters(params *variant.Dictionary) (*aesParameters, error) {
	var p aesParameters
	var err error
	if p.rounds, err = params.Uint64(ParamRounds); err != nil {
		return nil, &ParameterError{Name: ParamRounds, Err: err}
	}
	if p.rounds == 0 {
		return nil, &ParameterError{Name: ParamRounds, Err: errors.New("must be positive")}
	}
	if p.seed, err = params.Bytes(ParamSeed); err != nil {
		return nil, &ParameterError{Name: ParamSeed, Err: err}
	}
	if len(p.seed) != 32 {
		return nil, &ParameterError{Name: ParamSeed, Err: errors.Errorf("seed is %d bytes, should be 32", len(p.seed))}
	}
	return &p, nil
}

func transformAES(key []byte, params *variant.Dictionary) ([]byte, error) {
	p, err := readAESParameters(params)
	if err != nil {
		return nil, err
	}
	if len(key) != sha256.Size {
		return nil, errors.Errorf("kdf: composite key is %d bytes, should be %d", len(key), sha256.Size)
	}
	c, err := aes.NewCipher(p.seed)
	if err != nil {
		return nil, err
	}
	var tk [sha256.Size]byte
	copy(tk[:], key)
	transformKeyBlock(c, tk[:aes.BlockSize], p.rounds)
	transformKeyBlock(c, tk[aes.BlockSize:], p.rounds)
	out := sha256.Sum256(tk[:])
	for i := range tk {
		tk[i] = 0
	}
	return out[:], nil
}

// transformKeyBlock encrypts the 16-byte block b in place rounds times.
func transformKeyBlock(c cipher.Block, b []byte, rounds uint64) {
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(b, b)
	}
}
