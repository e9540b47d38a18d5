// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package cborrpc implements a small request/response protocol over a
// stream of CBOR values.  A request names a method and carries a list
// of parameters; the response carries either a result or an error
// message.  Keys are sent as byte strings for compatibility with older
// peers.
package cborrpc

import (
	"errors"
	"reflect"

	"github.com/satori/go.uuid"
	"github.com/ugorji/go/codec"
)

// Request defines the fields of a CBOR-RPC request.
type Request struct {
	// Name of the RPC method to invoke.
	Method string
	// Sequential, non-unique identifier for this request.
	ID uint
	// List of arbitrary parameters.
	Params []interface{}
}

// Response defines the fields of a CBOR-RPC response.
type Response struct {
	// Identifier of the Request this answers.
	ID uint
	// Arbitrary response object; should be nil on error.
	Result interface{}
	// Error message on failure; should be empty on success.
	Error string
}

// Actual "wire format" representation for top-level messages.
type wireFormat []interface{}

// MapBySlice is a marker for the codec library to indicate this is
// actually a map.
func (w wireFormat) MapBySlice() {}

var errMalformed = errors.New("cborrpc: malformed message")

// ErrClosed is returned by a Client used after Close.
var ErrClosed = errors.New("cborrpc: client closed")

func text(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	}
	return "", false
}

func unsigned(v interface{}) (uint, bool) {
	switch n := v.(type) {
	case uint64:
		return uint(n), true
	case int64:
		if n >= 0 {
			return uint(n), true
		}
	}
	return 0, false
}

// stringKeyed converts a decoded map to one keyed by strings,
// accepting byte string keys.
func stringKeyed(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		s, ok := text(k)
		if !ok {
			return nil, false
		}
		out[s] = v
	}
	return out, true
}

func decodeMap(cbor *codec.CborHandle, data []byte) map[string]interface{} {
	var raw interface{}
	codec.NewDecoderBytes(data, cbor).MustDecode(&raw)
	m, ok := stringKeyed(raw)
	if !ok {
		panic(errMalformed)
	}
	return m
}

// reqExt converts Request.
type reqExt struct {
	cbor *codec.CborHandle
}

func (x reqExt) WriteExt(v interface{}) (resp []byte) {
	request := v.(Request)
	wire := wireFormat{
		[]byte("method"),
		[]byte(request.Method),
		[]byte("id"),
		uint64(request.ID),
		[]byte("params"),
		request.Params,
	}
	codec.NewEncoderBytes(&resp, x.cbor).MustEncode(wire)
	return
}

func (x reqExt) ReadExt(v interface{}, data []byte) {
	wire := decodeMap(x.cbor, data)
	result := v.(*Request)
	var ok bool
	if result.Method, ok = text(wire["method"]); !ok {
		panic(errMalformed)
	}
	if result.ID, ok = unsigned(wire["id"]); !ok {
		panic(errMalformed)
	}
	result.Params, _ = wire["params"].([]interface{})
}

func (x reqExt) ConvertExt(v interface{}) interface{} {
	return x.WriteExt(v)
}

func (x reqExt) UpdateExt(dest interface{}, v interface{}) {
	x.ReadExt(dest, v.([]byte))
}

// respExt converts Response.
type respExt struct {
	cbor *codec.CborHandle
}

func (x respExt) WriteExt(v interface{}) (resp []byte) {
	response := v.(Response)
	wire := wireFormat{
		[]byte("id"),
		uint64(response.ID),
	}
	if response.Result != nil {
		wire = append(wire, []byte("result"), response.Result)
	}
	if response.Error != "" {
		errorDict := map[string]string{"message": response.Error}
		wire = append(wire, []byte("error"), errorDict)
	}
	codec.NewEncoderBytes(&resp, x.cbor).MustEncode(wire)
	return
}

func (x respExt) ReadExt(v interface{}, data []byte) {
	wire := decodeMap(x.cbor, data)
	response := v.(*Response)
	var ok bool
	if response.ID, ok = unsigned(wire["id"]); !ok {
		panic(errMalformed)
	}
	response.Result = wire["result"]
	if errorDict, ok := stringKeyed(wire["error"]); ok {
		response.Error, _ = text(errorDict["message"])
	}
}

func (x respExt) ConvertExt(v interface{}) interface{} {
	return x.WriteExt(v)
}

func (x respExt) UpdateExt(dest interface{}, v interface{}) {
	x.ReadExt(dest, v.([]byte))
}

// uuidExt encodes UUIDs as 16-byte strings.
type uuidExt struct{}

func (uuidExt) WriteExt(v interface{}) []byte {
	panic("uuidExt.WriteExt not implemented")
}

func (uuidExt) ReadExt(v interface{}, data []byte) {
	panic("uuidExt.ReadExt not implemented")
}

func (uuidExt) ConvertExt(v interface{}) interface{} {
	if p, ok := v.(*uuid.UUID); ok {
		return p.Bytes()
	}
	return v.(uuid.UUID).Bytes()
}

func (uuidExt) UpdateExt(dest interface{}, v interface{}) {
	bytes := v.([]byte)
	if len(bytes) != 16 {
		panic("encoded UUID must have 16 bytes")
	}
	uuidp := dest.(*uuid.UUID)
	*uuidp = uuid.UUID{}
	copy(uuidp[:], bytes)
}

// SetExts sets up the CBOR codec to understand the objects in this
// package.
func SetExts(cbor *codec.CborHandle) error {
	if err := cbor.SetExt(reflect.TypeOf(Request{}), 24, &reqExt{cbor}); err != nil {
		return err
	}
	if err := cbor.SetExt(reflect.TypeOf(Response{}), 24, &respExt{cbor}); err != nil {
		return err
	}
	return cbor.SetExt(reflect.TypeOf(uuid.UUID{}), 37, uuidExt{})
}

// NewHandle returns a CBOR handle with the extensions set.
func NewHandle() (*codec.CborHandle, error) {
	cbor := new(codec.CborHandle)
	if err := SetExts(cbor); err != nil {
		return nil, err
	}
	return cbor, nil
}
