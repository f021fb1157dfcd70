// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warren's standard CBOR encoding configuration.
//
// Warren uses two serialization formats with a clear boundary: JSON for
// the wire protocol the proxy terminates (line-delimited JSON-RPC on
// both the editor and agent sides), and CBOR for internal artifacts —
// currently the session transcript stream written by the ACP proxy.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, which makes transcript
// files diffable and content-addressable.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2).
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Warren never uses non-string map keys. When the decoder's
		// target is any (e.g., map[string]any values), it must pick a
		// concrete Go map type. The CBOR default is
		// map[interface{}]interface{}, which is incompatible with
		// encoding/json and most Go code expecting map[string]any.
		// This setting only affects any-typed targets — struct field
		// decoding is unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading CBOR from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
