// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restdata

import (
	"io"
	"mime"

	"github.com/ugorji/go/codec"
)

// Decode tries to decode a restdata object from a reader, such as an
// HTTP request or response.  out must be a pointer type.
func Decode(contentType string, r io.Reader, out interface{}) error {
	if contentType == "" {
		// RFC 7231 section 3.1.1.5
		contentType = "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ErrBadRequest{Err: err}
	}
	switch mediaType {
	case "text/json", "application/json", JSONMediaType, V1JSONMediaType:
	default:
		return ErrUnsupportedMediaType{Type: mediaType}
	}
	return codec.NewDecoder(r, NewJSONHandle()).Decode(out)
}

// Encode writes v as JSON.
func Encode(w io.Writer, v interface{}) error {
	return codec.NewEncoder(w, NewJSONHandle()).Encode(v)
}

// NewJSONHandle returns the codec handle used on the wire.  Struct
// fields are named by their json tags.
func NewJSONHandle() *codec.JsonHandle {
	return &codec.JsonHandle{}
}
