// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restdata

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponseRemote(t *testing.T) {
	var e ErrorResponse
	e.FromError(fmt.Errorf("restart: %w", remote.DomainError{Domain: remote.CDSP, Op: "open", Err: remote.ErrInvalidDevice}))
	assert.Equal(t, "remote", e.Error)
	assert.Equal(t, remote.Code(remote.ErrInvalidDevice), e.Code)
	assert.Equal(t, remote.ErrInvalidDevice, e.ToError())
}

func TestErrorResponsePlain(t *testing.T) {
	var e ErrorResponse
	e.FromError(errors.New("something broke"))
	assert.Equal(t, "error", e.Error)
	assert.EqualError(t, e.ToError(), "something broke")
}

func TestErrorResponsePanic(t *testing.T) {
	var e ErrorResponse
	e.FromPanic("oops")
	assert.Equal(t, "panic", e.Error)
	assert.Equal(t, "oops", e.Message)
	assert.NotEmpty(t, e.Stack)
}

func TestWrappedStatus(t *testing.T) {
	var status ErrorStatus = ErrNotFound{Err: remote.ErrInvalidDomain}
	assert.Equal(t, http.StatusNotFound, status.HTTPStatus())
	assert.True(t, errors.Is(ErrNotFound{Err: remote.ErrInvalidDomain}, remote.ErrInvalidDomain))
	assert.Equal(t, http.StatusBadRequest, ErrBadRequest{Err: errors.New("x")}.HTTPStatus())
}

func TestEncodeDecode(t *testing.T) {
	in := Domain{
		DomainShort: DomainShort{Resource: Resource{URL: "/domain/adsp"}, Name: "adsp"},
		State:       "ready",
		Handles:     2,
		PMQoS:       true,
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, in))
	assert.Contains(t, buf.String(), `"pm_qos":true`)

	var out Domain
	require.NoError(t, Decode(V1JSONMediaType+"; charset=utf-8", &buf, &out))
	assert.Equal(t, in, out)
}

func TestDecodeMediaTypes(t *testing.T) {
	var out RootData
	err := Decode("image/png", strings.NewReader("{}"), &out)
	assert.Equal(t, ErrUnsupportedMediaType{Type: "image/png"}, err)

	err = Decode("", strings.NewReader("{}"), &out)
	assert.Equal(t, ErrUnsupportedMediaType{Type: "application/octet-stream"}, err)

	require.NoError(t, Decode("text/json", strings.NewReader(`{"domains_url":"/domain"}`), &out))
	assert.Equal(t, "/domain", out.DomainsURL)
}
