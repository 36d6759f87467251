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
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"io"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
)

// Key file errors
var (
	ErrKeyFileHash    = errors.New("kdbcrypt: key file data does not match its hash")
	ErrKeyFileVersion = errors.New("kdbcrypt: unsupported key file version")
)

// maxXMLKeyFile is the largest file that is tried as an XML key file.
const maxXMLKeyFile = 64 << 10

type xmlKeyFile struct {
	XMLName xml.Name `xml:"KeyFile"`
	Version string   `xml:"Meta>Version"`
	Data    struct {
		Hash  string `xml:"Hash,attr,omitempty"`
		Value string `xml:",chardata"`
	} `xml:"Key>Data"`
}

// ReadKeyFile reads a key file and returns the 32-byte key used in
// NewCredentials.  It understands KeePass XML key files (versions 1.0
// and 2.0), 32-byte binary files and 64-character hex files.  Any
// other file is hashed with SHA-256.
func ReadKeyFile(r io.Reader) ([]byte, error) {
	data, err := ioutil.ReadAll(io.LimitReader(r, maxXMLKeyFile+1))
	if err != nil {
		return nil, err
	}
	if len(data) <= maxXMLKeyFile {
		if k, ok, err := parseXMLKeyFile(data); ok {
			return k, err
		}
	}
	switch len(data) {
	case 32:
		return data, nil
	case 64:
		h := make([]byte, hex.DecodedLen(len(data)))
		if _, err := hex.Decode(h, data); err == nil {
			return h, nil
		}
	}
	s := sha256.New()
	s.Write(data)
	if _, err := io.Copy(s, r); err != nil {
		return nil, err
	}
	return s.Sum(nil), nil
}

// parseXMLKeyFile reports ok = false if data is not an XML key file.
func parseXMLKeyFile(data []byte) (key []byte, ok bool, err error) {
	if !bytes.Contains(data, []byte("<KeyFile")) {
		return nil, false, nil
	}
	var kf xmlKeyFile
	if err := xml.Unmarshal(data, &kf); err != nil {
		return nil, false, nil
	}
	value := strings.Join(strings.Fields(kf.Data.Value), "")
	if value == "" {
		return nil, false, nil
	}
	switch {
	case strings.HasPrefix(kf.Version, "1."):
		key, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, true, errors.Wrap(err, "kdbcrypt: key file data")
		}
	case strings.HasPrefix(kf.Version, "2."):
		key, err = hex.DecodeString(value)
		if err != nil {
			return nil, true, errors.Wrap(err, "kdbcrypt: key file data")
		}
		if kf.Data.Hash != "" {
			want, err := hex.DecodeString(kf.Data.Hash)
			if err != nil {
				return nil, true, errors.Wrap(err, "kdbcrypt: key file hash")
			}
			sum := sha256.Sum256(key)
			if len(want) == 0 || len(want) > len(sum) || subtle.ConstantTimeCompare(sum[:len(want)], want) != 1 {
				return nil, true, ErrKeyFileHash
			}
		}
	default:
		return nil, true, errors.Wrapf(ErrKeyFileVersion, "%q", kf.Version)
	}
	if len(key) != sha256.Size {
		// Non-standard key lengths are hashed, as KeePass does.
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return key, true, nil
}

// WriteKeyFile writes key as a version 2.0 XML key file.
func WriteKeyFile(w io.Writer, key []byte) error {
	if len(key) != sha256.Size {
		return ErrKeySize
	}
	var kf xmlKeyFile
	kf.Version = "2.0"
	sum := sha256.Sum256(key)
	kf.Data.Hash = strings.ToUpper(hex.EncodeToString(sum[:4]))
	h := strings.ToUpper(hex.EncodeToString(key))
	groups := make([]string, 0, len(h)/8)
	for i := 0; i < len(h); i += 8 {
		groups = append(groups, h[i:i+8])
	}
	kf.Data.Value = strings.Join(groups, " ")
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "\t")
	if err := enc.Encode(&kf); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
