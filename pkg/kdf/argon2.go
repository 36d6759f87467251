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
	"io"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"zombiezen.com/go/kdbx/pkg/argon2d"
	"zombiezen.com/go/kdbx/pkg/variant"
)

// Default Argon2 costs for new databases.
const (
	DefaultArgon2Iterations  = 2
	DefaultArgon2Memory      = 64 << 20 // bytes
	DefaultArgon2Parallelism = 2
)

// Argon2 versions
const (
	Argon2Version10 = argon2d.Version10
	Argon2Version13 = argon2d.Version13
)

const (
	minArgon2Salt        = 8
	maxArgon2Parallelism = 1<<24 - 1
)

type argon2Parameters struct {
	salt        []byte
	parallelism uint32
	memoryKiB   uint32
	iterations  uint32
	version     uint32
	secret      []byte
	assoc       []byte
}

func newArgon2Parameters(a Algorithm, rand io.Reader) (*variant.Dictionary, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand, salt); err != nil {
		return nil, errors.Wrapf(err, "kdf: generating %v salt", a)
	}
	p := variant.New()
	p.SetBytes(ParamUUID, algorithmUUIDs[a][:])
	p.SetBytes(ParamSeed, salt)
	p.SetUint32(ParamParallelism, DefaultArgon2Parallelism)
	p.SetUint64(ParamMemory, DefaultArgon2Memory)
	p.SetUint64(ParamIterations, DefaultArgon2Iterations)
	p.SetUint32(ParamVersion, Argon2Version13)
	return p, nil
}

func readArgon2Parameters(a Algorithm, params *variant.Dictionary) (*argon2Parameters, error) {
	var p argon2Parameters
	var err error
	if p.salt, err = params.Bytes(ParamSeed); err != nil {
		return nil, &ParameterError{Name: ParamSeed, Err: err}
	}
	if len(p.salt) < minArgon2Salt || uint64(len(p.salt)) > math.MaxUint32 {
		return nil, &ParameterError{Name: ParamSeed, Err: errors.Errorf("salt is %d bytes", len(p.salt))}
	}

	if p.parallelism, err = params.Uint32(ParamParallelism); err != nil {
		return nil, &ParameterError{Name: ParamParallelism, Err: err}
	}
	if p.parallelism < 1 || p.parallelism > maxArgon2Parallelism {
		return nil, &ParameterError{Name: ParamParallelism, Err: errors.Errorf("parallelism %d out of range", p.parallelism)}
	}

	memory, err := params.Uint64(ParamMemory)
	if err != nil {
		return nil, &ParameterError{Name: ParamMemory, Err: err}
	}
	if memory%1024 != 0 || memory/1024 > math.MaxUint32 || memory/1024 < 8*uint64(p.parallelism) {
		return nil, &ParameterError{Name: ParamMemory, Err: errors.Errorf("memory %d bytes out of range", memory)}
	}
	p.memoryKiB = uint32(memory / 1024)

	iterations, err := params.Uint64(ParamIterations)
	if err != nil {
		return nil, &ParameterError{Name: ParamIterations, Err: err}
	}
	if iterations < 1 || iterations > math.MaxUint32 {
		return nil, &ParameterError{Name: ParamIterations, Err: errors.Errorf("iterations %d out of range", iterations)}
	}
	p.iterations = uint32(iterations)

	if p.version, err = params.Uint32(ParamVersion); err != nil {
		return nil, &ParameterError{Name: ParamVersion, Err: err}
	}
	if p.version != Argon2Version10 && p.version != Argon2Version13 {
		return nil, &ParameterError{Name: ParamVersion, Err: errors.Errorf("unknown version %#x", p.version)}
	}

	if params.Has(ParamSecretKey) {
		if p.secret, err = params.Bytes(ParamSecretKey); err != nil {
			return nil, &ParameterError{Name: ParamSecretKey, Err: err}
		}
	}
	if params.Has(ParamAssocData) {
		if p.assoc, err = params.Bytes(ParamAssocData); err != nil {
			return nil, &ParameterError{Name: ParamAssocData, Err: err}
		}
	}

	if a == Argon2id {
		// golang.org/x/crypto/argon2 implements version 1.3 only, has no
		// secret or associated data inputs and takes at most 255 lanes.
		switch {
		case p.version != Argon2Version13:
			return nil, errors.Wrapf(ErrUnsupported, "Argon2id version %#x", p.version)
		case len(p.secret) > 0 || len(p.assoc) > 0:
			return nil, errors.Wrap(ErrUnsupported, "Argon2id with secret key or associated data")
		case p.parallelism > math.MaxUint8:
			return nil, errors.Wrapf(ErrUnsupported, "Argon2id with %d lanes", p.parallelism)
		}
	}
	return &p, nil
}

func transformArgon2(a Algorithm, key []byte, params *variant.Dictionary) ([]byte, error) {
	p, err := readArgon2Parameters(a, params)
	if err != nil {
		return nil, err
	}
	if a == Argon2id {
		return argon2.IDKey(key, p.salt, p.iterations, p.memoryKiB, uint8(p.parallelism), 32), nil
	}
	return argon2d.Key(key, p.salt, p.secret, p.assoc, p.iterations, p.memoryKiB, p.parallelism, 32, p.version), nil
}
