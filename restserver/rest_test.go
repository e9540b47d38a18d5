// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failResponseWriter struct {
	Headers    http.Header
	StatusCode int
}

func (rw *failResponseWriter) Header() http.Header {
	if rw.Headers == nil {
		rw.Headers = make(http.Header)
	}
	return rw.Headers
}

func (rw *failResponseWriter) Write([]byte) (int, error) {
	return 0, errors.New("foo")
}

func (rw *failResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
}

func newRouter(t *testing.T) http.Handler {
	m := domain.NewManager(domain.Config{
		Opener:    memory.New(),
		ShellDirs: []string{t.TempDir()},
	})
	t.Cleanup(m.Shutdown)
	return NewRouter(m)
}

func serve(t *testing.T, router http.Handler, method, path, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// TestDoubleFault checks that, if there is an error writing a JSON
// response, it doesn't actually panic the process.
func TestDoubleFault(t *testing.T) {
	router := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/domain/adsp", nil)
	resp := &failResponseWriter{}
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoot(t *testing.T) {
	rec := serve(t, newRouter(t), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, restdata.V1JSONMediaType, rec.Header().Get("Content-Type"))
	var root restdata.RootData
	require.NoError(t, restdata.Decode(rec.Header().Get("Content-Type"), rec.Body, &root))
	assert.Equal(t, "/domain", root.DomainsURL)
	assert.Equal(t, "/domain/{domain}", root.DomainURL)
}

func TestDomain(t *testing.T) {
	rec := serve(t, newRouter(t), http.MethodGet, "/domain/cdsp-session1", "application/json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var d restdata.Domain
	require.NoError(t, restdata.Decode(rec.Header().Get("Content-Type"), rec.Body, &d))
	assert.Equal(t, "cdsp-session1", d.Name)
	assert.Equal(t, "/domain/cdsp-session1", d.URL)
	assert.Equal(t, "/domain/cdsp-session1/restart", d.RestartURL)
	assert.Equal(t, "closed", d.State)
}

func TestHead(t *testing.T) {
	rec := serve(t, newRouter(t), http.MethodHead, "/domain", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestErrors(t *testing.T) {
	router := newRouter(t)

	rec := serve(t, router, http.MethodGet, "/domain/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e restdata.ErrorResponse
	require.NoError(t, restdata.Decode(rec.Header().Get("Content-Type"), rec.Body, &e))
	assert.Equal(t, remote.ErrInvalidDomain, e.ToError())

	rec = serve(t, router, http.MethodPost, "/domain/adsp", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(t, router, http.MethodGet, "/domain", "image/png")
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)

	rec = serve(t, router, http.MethodGet, "/domain", "text/json;q=2")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteDomain(t *testing.T) {
	rec := serve(t, newRouter(t), http.MethodDelete, "/domain/adsp", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestNegotiateResponse(t *testing.T) {
	tests := []struct {
		Accept string
		Type   string
	}{
		{"", restdata.V1JSONMediaType},
		{"*/*", restdata.V1JSONMediaType},
		{"text/*", "text/json"},
		{"application/json", "application/json"},
		{"text/html, application/json;q=0.5", "application/json"},
		{"*/*;q=0.1, " + restdata.JSONMediaType, restdata.JSONMediaType},
		{"application/*, text/json", "text/json"},
	}
	for _, test := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if test.Accept != "" {
			req.Header.Set("Accept", test.Accept)
		}
		got, err := negotiateResponse(req)
		if assert.NoError(t, err, test.Accept) {
			assert.Equal(t, test.Type, got, test.Accept)
		}
	}
}

func TestRemoteStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, remoteStatus(remote.ErrBadHandle))
	assert.Equal(t, http.StatusConflict, remoteStatus(remote.DomainError{Err: remote.ErrBadState}))
	assert.Equal(t, http.StatusInternalServerError, remoteStatus(errors.New("other")))
}
