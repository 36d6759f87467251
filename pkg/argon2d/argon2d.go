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

// Package argon2d implements the data-dependent Argon2d variant of the
// Argon2 memory-hard hash function (RFC 9106), which
// golang.org/x/crypto/argon2 does not export.
//
// Lanes are filled one after another in a single goroutine.
package argon2d // import "zombiezen.com/go/kdbx/pkg/argon2d"

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Versions of the algorithm.
const (
	Version10 uint32 = 0x10
	Version13 uint32 = 0x13
)

const (
	blockLength = 128
	syncPoints  = 4
	modeD       = 0
)

type block [blockLength]uint64

// Key derives a key of keyLen bytes from password and salt.  memory is
// in KiB and is rounded down to a multiple of 4*threads (with a minimum
// of 8*threads).  secret and data are optional.  Key panics if time or
// threads is zero or version is not Version10 or Version13.
func Key(password, salt, secret, data []byte, time, memory, threads, keyLen, version uint32) []byte {
	if time < 1 {
		panic("argon2d: number of rounds too small")
	}
	if threads < 1 {
		panic("argon2d: parallelism degree too low")
	}
	if version != Version10 && version != Version13 {
		panic("argon2d: unknown version")
	}
	h0 := initHash(password, salt, secret, data, time, memory, threads, keyLen, version)

	memory = memory / (syncPoints * threads) * (syncPoints * threads)
	if memory < 2*syncPoints*threads {
		memory = 2 * syncPoints * threads
	}
	B := initBlocks(&h0, memory, threads)
	processBlocks(B, time, memory, threads, version)
	return extractKey(B, memory, threads, keyLen)
}

func initHash(password, salt, secret, data []byte, time, memory, threads, keyLen, version uint32) [blake2b.Size + 8]byte {
	var (
		h0     [blake2b.Size + 8]byte
		params [24]byte
		tmp    [4]byte
	)
	b2, _ := blake2b.New512(nil)
	binary.LittleEndian.PutUint32(params[0:4], threads)
	binary.LittleEndian.PutUint32(params[4:8], keyLen)
	binary.LittleEndian.PutUint32(params[8:12], memory)
	binary.LittleEndian.PutUint32(params[12:16], time)
	binary.LittleEndian.PutUint32(params[16:20], version)
	binary.LittleEndian.PutUint32(params[20:24], modeD)
	b2.Write(params[:])
	for _, in := range [][]byte{password, salt, secret, data} {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(in)))
		b2.Write(tmp[:])
		b2.Write(in)
	}
	b2.Sum(h0[:0])
	return h0
}

func initBlocks(h0 *[blake2b.Size + 8]byte, memory, threads uint32) []block {
	var block0 [1024]byte
	B := make([]block, memory)
	for lane := uint32(0); lane < threads; lane++ {
		j := lane * (memory / threads)
		binary.LittleEndian.PutUint32(h0[blake2b.Size+4:], lane)
		for k := uint32(0); k < 2; k++ {
			binary.LittleEndian.PutUint32(h0[blake2b.Size:], k)
			blake2bHash(block0[:], h0[:])
			for i := range B[j+k] {
				B[j+k][i] = binary.LittleEndian.Uint64(block0[i*8:])
			}
		}
	}
	return B
}

func processBlocks(B []block, time, memory, threads, version uint32) {
	laneLen := memory / threads
	segLen := laneLen / syncPoints
	xor := version == Version13

	for n := uint32(0); n < time; n++ {
		for slice := uint32(0); slice < syncPoints; slice++ {
			for lane := uint32(0); lane < threads; lane++ {
				index := uint32(0)
				if n == 0 && slice == 0 {
					// The first two blocks of each lane come from initBlocks.
					index = 2
				}
				offset := lane*laneLen + slice*segLen + index
				for ; index < segLen; index, offset = index+1, offset+1 {
					prev := offset - 1
					if index == 0 && slice == 0 {
						prev += laneLen
					}
					random := B[prev][0]
					ref := indexAlpha(random, laneLen, segLen, threads, n, slice, lane, index)
					processBlock(&B[offset], &B[prev], &B[ref], xor)
				}
			}
		}
	}
}

func extractKey(B []block, memory, threads, keyLen uint32) []byte {
	laneLen := memory / threads
	for lane := uint32(0); lane < threads-1; lane++ {
		for i, v := range B[lane*laneLen+laneLen-1] {
			B[memory-1][i] ^= v
		}
	}

	var last [1024]byte
	for i, v := range B[memory-1] {
		binary.LittleEndian.PutUint64(last[i*8:], v)
	}
	key := make([]byte, keyLen)
	blake2bHash(key, last[:])
	return key
}

// indexAlpha picks the reference block for the block at index within
// the given pass, slice and lane.
func indexAlpha(rand uint64, laneLen, segLen, threads, n, slice, lane, index uint32) uint32 {
	refLane := uint32(rand>>32) % threads
	if n == 0 && slice == 0 {
		refLane = lane
	}
	m, s := 3*segLen, ((slice+1)%syncPoints)*segLen
	if lane == refLane {
		m += index
	}
	if n == 0 {
		m, s = slice*segLen, 0
		if slice == 0 || lane == refLane {
			m += index
		}
	}
	if index == 0 || lane == refLane {
		m--
	}
	return phi(rand, uint64(m), uint64(s), refLane, laneLen)
}

func phi(rand, m, s uint64, lane, laneLen uint32) uint32 {
	p := rand & 0xffffffff
	p = (p * p) >> 32
	p = (p * m) >> 32
	return lane*laneLen + uint32((s+m-(p+1))%uint64(laneLen))
}

// blake2bHash is the variable-length hash function H'.
func blake2bHash(out []byte, in []byte) {
	var b2 hash.Hash
	if n := len(out); n < blake2b.Size {
		b2, _ = blake2b.New(n, nil)
	} else {
		b2, _ = blake2b.New512(nil)
	}

	var buffer [blake2b.Size]byte
	binary.LittleEndian.PutUint32(buffer[:4], uint32(len(out)))
	b2.Write(buffer[:4])
	b2.Write(in)

	if len(out) <= blake2b.Size {
		b2.Sum(out[:0])
		return
	}

	outLen := len(out)
	b2.Sum(buffer[:0])
	b2.Reset()
	copy(out, buffer[:32])
	out = out[32:]
	for len(out) > blake2b.Size {
		b2.Write(buffer[:])
		b2.Sum(buffer[:0])
		copy(out, buffer[:32])
		out = out[32:]
		b2.Reset()
	}

	if outLen%blake2b.Size > 0 {
		r := ((outLen + 31) / 32) - 2
		b2, _ = blake2b.New(outLen-32*r, nil)
	}
	b2.Write(buffer[:])
	b2.Sum(out[:0])
}
