// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cborrpc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/mitchellh/mapstructure"
)

// ErrParamCount is returned when a request carries the wrong number
// of parameters for its method.
var ErrParamCount = errors.New("wrong number of parameters")

// CreateParamList matches the parameters of a request to the inputs
// of funcv, the method that will be called.  Each parameter is
// decoded into the matching input type; byte strings are accepted
// where strings are expected.  The result can be passed to
// funcv.Call().
func CreateParamList(funcv reflect.Value, params []interface{}) ([]reflect.Value, error) {
	funct := funcv.Type()
	if len(params) != funct.NumIn() {
		return nil, ErrParamCount
	}
	args := make([]reflect.Value, len(params))
	for i, raw := range params {
		arg, err := decodeParam(funct.In(i), raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i, err)
		}
		args[i] = arg
	}
	return args, nil
}

func decodeParam(t reflect.Type, raw interface{}) (reflect.Value, error) {
	ptr := reflect.New(t)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DecodeBytesAsString,
		Result:     ptr.Interface(),
	})
	if err == nil {
		err = decoder.Decode(raw)
	}
	return ptr.Elem(), err
}

// DecodeBytesAsString is a mapstructure decode hook that accepts a
// byte slice where a string is expected.
func DecodeBytesAsString(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() == reflect.String && from.Kind() == reflect.Slice && from.Elem().Kind() == reflect.Uint8 {
		return string(data.([]uint8)), nil
	}
	return data, nil
}

// MethodName converts a "snake case" name, like 'open_module', to the
// exported Go method name 'OpenModule'.
func MethodName(s string) string {
	words := strings.Split(s, "_")
	for n, word := range words {
		if word == "" {
			continue
		}
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		words[n] = string(r)
	}
	return strings.Join(words, "")
}
