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

package argon2d

// processBlock computes the compression function G(in1, in2) and
// stores it in out, XORing with the previous contents of out when xor
// is set (version 1.3).
func processBlock(out, in1, in2 *block, xor bool) {
	var t block
	for i := range t {
		t[i] = in1[i] ^ in2[i]
	}
	// Rows
	for i := 0; i < blockLength; i += 16 {
		blamka(&t,
			i+0, i+1, i+2, i+3, i+4, i+5, i+6, i+7,
			i+8, i+9, i+10, i+11, i+12, i+13, i+14, i+15,
		)
	}
	// Columns
	for i := 0; i < blockLength/8; i += 2 {
		blamka(&t,
			i, i+1, 16+i, 16+i+1, 32+i, 32+i+1, 48+i, 48+i+1,
			64+i, 64+i+1, 80+i, 80+i+1, 96+i, 96+i+1, 112+i, 112+i+1,
		)
	}
	if xor {
		for i := range t {
			out[i] ^= in1[i] ^ in2[i] ^ t[i]
		}
	} else {
		for i := range t {
			out[i] = in1[i] ^ in2[i] ^ t[i]
		}
	}
}

// blamka applies the BLAKE2b round, with multiplication-hardened G, to
// the 16 words of t at the given indices.
func blamka(t *block, i0, i1, i2, i3, i4, i5, i6, i7, i8, i9, i10, i11, i12, i13, i14, i15 int) {
	v := [16]uint64{
		t[i0], t[i1], t[i2], t[i3], t[i4], t[i5], t[i6], t[i7],
		t[i8], t[i9], t[i10], t[i11], t[i12], t[i13], t[i14], t[i15],
	}

	g(&v[0], &v[4], &v[8], &v[12])
	g(&v[1], &v[5], &v[9], &v[13])
	g(&v[2], &v[6], &v[10], &v[14])
	g(&v[3], &v[7], &v[11], &v[15])

	g(&v[0], &v[5], &v[10], &v[15])
	g(&v[1], &v[6], &v[11], &v[12])
	g(&v[2], &v[7], &v[8], &v[13])
	g(&v[3], &v[4], &v[9], &v[14])

	t[i0], t[i1], t[i2], t[i3], t[i4], t[i5], t[i6], t[i7] = v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7]
	t[i8], t[i9], t[i10], t[i11], t[i12], t[i13], t[i14], t[i15] = v[8], v[9], v[10], v[11], v[12], v[13], v[14], v[15]
}

func g(a, b, c, d *uint64) {
	*a += *b + 2*uint64(uint32(*a))*uint64(uint32(*b))
	*d ^= *a
	*d = *d>>32 | *d<<32
	*c += *d + 2*uint64(uint32(*c))*uint64(uint32(*d))
	*b ^= *c
	*b = *b>>24 | *b<<40
	*a += *b + 2*uint64(uint32(*a))*uint64(uint32(*b))
	*d ^= *a
	*d = *d>>16 | *d<<48
	*c += *d + 2*uint64(uint32(*c))*uint64(uint32(*d))
	*b ^= *c
	*b = *b<<1 | *b>>63
}
