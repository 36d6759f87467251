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

// Package kdf implements the key derivation functions that stretch a
// KDBX composite key: AES-KDF, Argon2d and Argon2id.  Each function is
// identified by a UUID stored in its parameter dictionary.
package kdf // import "zombiezen.com/go/kdbx/pkg/kdf"

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/variant"
)

// Errors
var (
	ErrUnknownKDF        = errors.New("kdf: unknown key derivation function")
	ErrInvalidParameters = errors.New("kdf: invalid parameters")
	ErrUnsupported       = errors.New("kdf: unsupported parameters")
)

// Parameter names in the KDF dictionary.
const (
	ParamUUID        = "$UUID"
	ParamRounds      = "R" // AES-KDF
	ParamSeed        = "S" // AES-KDF seed or Argon2 salt
	ParamParallelism = "P"
	ParamMemory      = "M" // bytes
	ParamIterations  = "I"
	ParamVersion     = "V"
	ParamSecretKey   = "K"
	ParamAssocData   = "A"
)

// Algorithm is a key derivation function.
type Algorithm int

// Available algorithms
const (
	AES Algorithm = iota
	Argon2d
	Argon2id
)

var algorithmUUIDs = [...]uuid.UUID{
	AES:      uuid.MustParse("c9d9f39a-628a-4460-bf74-0d08c18a4fea"),
	Argon2d:  uuid.MustParse("ef636ddf-8c29-444b-91f7-a9a403e30a0c"),
	Argon2id: uuid.MustParse("9e298b19-56db-4773-b23d-fc3ec6f0a1e6"),
}

// aesKDBX4UUID is an alternate identifier for AES-KDF seen in some
// KDBX 4 files.  It is accepted on read but never written.
var aesKDBX4UUID = uuid.MustParse("7c02bb82-79a7-4ac0-927d-114a00648238")

// FromUUID returns the algorithm identified by id.
func FromUUID(id uuid.UUID) (Algorithm, error) {
	if id == aesKDBX4UUID {
		return AES, nil
	}
	for a, u := range algorithmUUIDs {
		if u == id {
			return Algorithm(a), nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownKDF, "%v", id)
}

// FromParameters returns the algorithm named by the $UUID entry of params.
func FromParameters(params *variant.Dictionary) (Algorithm, error) {
	b, err := params.Bytes(ParamUUID)
	if err != nil {
		return 0, &ParameterError{Name: ParamUUID, Err: err}
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return 0, &ParameterError{Name: ParamUUID, Err: err}
	}
	return FromUUID(id)
}

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a >= 0 && int(a) < len(algorithmUUIDs)
}

// UUID returns the identifier of a.
func (a Algorithm) UUID() uuid.UUID {
	if !a.Valid() {
		return uuid.Nil
	}
	return algorithmUUIDs[a]
}

func (a Algorithm) String() string {
	switch a {
	case AES:
		return "AES-KDF"
	case Argon2d:
		return "Argon2d"
	case Argon2id:
		return "Argon2id"
	default:
		return fmt.Sprintf("Algorithm(%d)", int(a))
	}
}

// NewParameters returns a fresh parameter set for a, with a random
// seed or salt read from rand and default costs.
func (a Algorithm) NewParameters(rand io.Reader) (*variant.Dictionary, error) {
	switch a {
	case AES:
		return newAESParameters(rand)
	case Argon2d, Argon2id:
		return newArgon2Parameters(a, rand)
	default:
		return nil, ErrUnknownKDF
	}
}

// Validate checks that params hold a complete, well-formed parameter
// set for a.  Missing entries are never filled with defaults.
func (a Algorithm) Validate(params *variant.Dictionary) error {
	switch a {
	case AES:
		_, err := readAESParameters(params)
		return err
	case Argon2d, Argon2id:
		_, err := readArgon2Parameters(a, params)
		return err
	default:
		return ErrUnknownKDF
	}
}

// Transform stretches the composite key with a's parameters.  The
// result is always 32 bytes.  params is not modified.
func (a Algorithm) Transform(key []byte, params *variant.Dictionary) ([]byte, error) {
	start := time.Now()
	var (
		out []byte
		err error
	)
	switch a {
	case AES:
		out, err = transformAES(key, params)
	case Argon2d, Argon2id:
		out, err = transformArgon2(a, key, params)
	default:
		return nil, ErrUnknownKDF
	}
	if err != nil {
		return nil, err
	}
	log.Debug.Printf("kdf: %v took %v", a, time.Since(start))
	return out, nil
}

// Seed post-processes a transformed key before the cipher and HMAC keys
// are derived from it.  Argon2d output is hashed once more with the
// master seed; the other algorithms return a copy of transformed.
func (a Algorithm) Seed(masterSeed, transformed []byte) []byte {
	if a != Argon2d {
		return append([]byte(nil), transformed...)
	}
	h := sha256.New()
	h.Write(masterSeed)
	h.Write(transformed)
	return h.Sum(nil)
}

// Transform looks up the algorithm named in params and runs it.
func Transform(key []byte, params *variant.Dictionary) ([]byte, Algorithm, error) {
	a, err := FromParameters(params)
	if err != nil {
		return nil, 0, err
	}
	out, err := a.Transform(key, params)
	return out, a, err
}

// ParameterError reports a missing or malformed KDF parameter.
// It matches ErrInvalidParameters with errors.Is.
type ParameterError struct {
	Name string
	Err  error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("kdf: parameter %q: %v", e.Name, e.Err)
}

func (e *ParameterError) Unwrap() error {
	return e.Err
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameters
}
