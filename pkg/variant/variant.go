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

// Package variant reads and writes KeePass variant dictionaries, the
// typed key/value maps that carry KDF parameters in KDBX 4 headers.
package variant // import "zombiezen.com/go/kdbx/pkg/variant"

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"zombiezen.com/go/kdbx/pkg/binio"
)

// Version is the dictionary format version written by MarshalBinary.
const Version uint16 = 0x0100

const versionCriticalMask = 0xff00

// Errors
var (
	ErrFormat       = errors.New("variant: malformed dictionary")
	ErrVersion      = errors.New("variant: unsupported dictionary version")
	ErrNotFound     = errors.New("variant: no such entry")
	ErrTypeMismatch = errors.New("variant: entry has a different type")
)

// Type is the type tag of a dictionary entry.
type Type byte

// Entry types
const (
	UInt32    Type = 0x04
	UInt64    Type = 0x05
	Bool      Type = 0x08
	Int32     Type = 0x0c
	Int64     Type = 0x0d
	String    Type = 0x18
	ByteArray Type = 0x42

	terminator Type = 0x00
)

// size returns the fixed value size of t or -1 for variable length types.
func (t Type) size() int {
	switch t {
	case UInt32, Int32:
		return 4
	case UInt64, Int64:
		return 8
	case Bool:
		return 1
	case String, ByteArray:
		return -1
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case UInt32:
		return "UInt32"
	case UInt64:
		return "UInt64"
	case Bool:
		return "Bool"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case String:
		return "String"
	case ByteArray:
		return "ByteArray"
	default:
		return fmt.Sprintf("Type(%#02x)", byte(t))
	}
}

// EntryError names the entry an error applies to.
type EntryError struct {
	Name string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("%v %q", e.Err, e.Name)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

type entry struct {
	name  string
	typ   Type
	value []byte
}

// A Dictionary is an ordered set of uniquely named, typed values.
// The zero value is an empty dictionary of the current Version.
type Dictionary struct {
	version uint16
	entries []entry
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{version: Version}
}

// Parse decodes a serialized dictionary.
func Parse(b []byte) (*Dictionary, error) {
	d := new(Dictionary)
	if err := d.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return d, nil
}

// Version returns the format version the dictionary was read with.
func (d *Dictionary) Version() uint16 {
	if d.version == 0 {
		return Version
	}
	return d.version
}

// Len returns the number of entries.
func (d *Dictionary) Len() int {
	return len(d.entries)
}

// Names returns the entry names in insertion order.
func (d *Dictionary) Names() []string {
	names := make([]string, len(d.entries))
	for i := range d.entries {
		names[i] = d.entries[i].name
	}
	return names
}

func (d *Dictionary) find(name string) int {
	for i := range d.entries {
		if d.entries[i].name == name {
			return i
		}
	}
	return -1
}

// Type reports the type of the named entry.
func (d *Dictionary) Type(name string) (Type, bool) {
	i := d.find(name)
	if i < 0 {
		return 0, false
	}
	return d.entries[i].typ, true
}

// Has reports whether the dictionary contains an entry called name.
func (d *Dictionary) Has(name string) bool {
	return d.find(name) >= 0
}

// Delete removes the named entry, reporting whether it was present.
func (d *Dictionary) Delete(name string) bool {
	i := d.find(name)
	if i < 0 {
		return false
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	return true
}

// Clone returns a deep copy of d.
func (d *Dictionary) Clone() *Dictionary {
	c := &Dictionary{
		version: d.version,
		entries: make([]entry, len(d.entries)),
	}
	for i, e := range d.entries {
		c.entries[i] = entry{name: e.name, typ: e.typ, value: append([]byte(nil), e.value...)}
	}
	return c
}

// set replaces the value of an existing entry in place or appends a new one.
func (d *Dictionary) set(name string, typ Type, value []byte) {
	if i := d.find(name); i >= 0 {
		d.entries[i].typ = typ
		d.entries[i].value = value
		return
	}
	d.entries = append(d.entries, entry{name: name, typ: typ, value: value})
}

func (d *Dictionary) get(name string, typ Type) ([]byte, error) {
	i := d.find(name)
	if i < 0 {
		return nil, &EntryError{Name: name, Err: ErrNotFound}
	}
	if d.entries[i].typ != typ {
		return nil, &EntryError{Name: name, Err: errors.Wrapf(ErrTypeMismatch, "%v, not %v", d.entries[i].typ, typ)}
	}
	return d.entries[i].value, nil
}

func (d *Dictionary) SetUint32(name string, v uint32) {
	d.set(name, UInt32, binio.Uint32Bytes(v))
}

func (d *Dictionary) SetUint64(name string, v uint64) {
	d.set(name, UInt64, binio.Uint64Bytes(v))
}

func (d *Dictionary) SetBool(name string, v bool) {
	b := []byte{0}
	if v {
		b[0] = 1
	}
	d.set(name, Bool, b)
}

func (d *Dictionary) SetInt32(name string, v int32) {
	d.set(name, Int32, binio.Uint32Bytes(uint32(v)))
}

func (d *Dictionary) SetInt64(name string, v int64) {
	d.set(name, Int64, binio.Uint64Bytes(uint64(v)))
}

func (d *Dictionary) SetString(name string, v string) {
	d.set(name, String, []byte(v))
}

// SetBytes stores a copy of v.
func (d *Dictionary) SetBytes(name string, v []byte) {
	d.set(name, ByteArray, append([]byte{}, v...))
}

func (d *Dictionary) Uint32(name string) (uint32, error) {
	b, err := d.get(name, UInt32)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Dictionary) Uint64(name string) (uint64, error) {
	b, err := d.get(name, UInt64)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *Dictionary) Bool(name string) (bool, error) {
	b, err := d.get(name, Bool)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func (d *Dictionary) Int32(name string) (int32, error) {
	b, err := d.get(name, Int32)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *Dictionary) Int64(name string) (int64, error) {
	b, err := d.get(name, Int64)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (d *Dictionary) String(name string) (string, error) {
	b, err := d.get(name, String)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes returns a copy of the named byte array.
func (d *Dictionary) Bytes(name string) ([]byte, error) {
	b, err := d.get(name, ByteArray)
	if err != nil {
		return nil, err
	}
	return append([]byte{}, b...), nil
}

// MarshalBinary encodes the dictionary in entry order.
func (d *Dictionary) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	w := &binio.Writer{W: buf}
	w.Uint16(d.Version())
	for _, e := range d.entries {
		w.Uint8(byte(e.typ))
		w.Uint32(uint32(len(e.name)))
		w.Bytes([]byte(e.name))
		w.Uint32(uint32(len(e.value)))
		w.Bytes(e.value)
	}
	w.Uint8(byte(terminator))
	if w.Err != nil {
		return nil, w.Err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the contents of d with the dictionary
// encoded in b.  Unknown types, duplicate names and trailing data are
// errors.
func (d *Dictionary) UnmarshalBinary(b []byte) error {
	r := &binio.Reader{R: bytes.NewReader(b)}
	version := r.Uint16()
	if r.Err != nil {
		return errors.Wrap(ErrFormat, "reading version")
	}
	if version&versionCriticalMask > Version&versionCriticalMask {
		return errors.Wrapf(ErrVersion, "%#04x", version)
	}
	var entries []entry
	for {
		off := r.N
		typ := Type(r.Uint8())
		if r.Err != nil {
			return errors.Wrap(ErrFormat, "missing terminator")
		}
		if typ == terminator {
			break
		}
		name := string(readLength(r))
		value := readLength(r)
		if r.Err != nil {
			return &binio.FieldError{Field: "dictionary entry", Offset: off, Err: errors.Wrap(ErrFormat, r.Err.Error())}
		}
		switch sz := typ.size(); {
		case sz == 0:
			return &EntryError{Name: name, Err: errors.Wrapf(ErrFormat, "unknown type %v", typ)}
		case sz > 0 && len(value) != sz:
			return &EntryError{Name: name, Err: errors.Wrapf(ErrFormat, "%v value is %d bytes", typ, len(value))}
		}
		for i := range entries {
			if entries[i].name == name {
				return &EntryError{Name: name, Err: errors.Wrap(ErrFormat, "duplicate entry")}
			}
		}
		entries = append(entries, entry{name: name, typ: typ, value: value})
	}
	if r.N != int64(len(b)) {
		return errors.Wrap(ErrFormat, "trailing data after terminator")
	}
	d.version = version
	d.entries = entries
	return nil
}

// readLength reads an int32 length prefix followed by that many bytes.
func readLength(r *binio.Reader) []byte {
	n := int32(r.Uint32())
	if r.Err != nil {
		return nil
	}
	return r.Bytes(int64(n))
}
