// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener

import (
	"encoding/binary"

	"github.com/diffeo/go-fastrpc/remote"
)

// Method shapes of the listener interface, bound to
// remote.ListenerHandle on the remote side.
var (
	// Init2SC starts serving.
	Init2SC = remote.MustScalars(0, 0, 0, 0, 0)

	// Next2SC: in previous result, in packed previous response;
	// out next call header, out packed request.
	Next2SC = remote.MustScalars(1, 2, 2, 0, 0)

	// GetInBufs2SC: in context; out packed request.
	GetInBufs2SC = remote.MustScalars(2, 1, 1, 0, 0)
)

const (
	resultLen = 8
	headerLen = 16
)

var order = binary.LittleEndian

// A request region is the packed input buffers of a call, followed
// by the output capacities as packed uint32s and the input handles as
// packed uint64s.  A response region is the packed output buffers
// followed by the output handles.

// header describes the next call handed to the listener.
type header struct {
	ctx    uint32
	handle uint32
	sc     remote.Scalars
	reqLen uint32
}

func (h header) put(b []byte) {
	order.PutUint32(b[0:], h.ctx)
	order.PutUint32(b[4:], h.handle)
	order.PutUint32(b[8:], uint32(h.sc))
	order.PutUint32(b[12:], h.reqLen)
}

func getHeader(b []byte) (header, error) {
	if len(b) < headerLen {
		return header{}, remote.ErrBadParm
	}
	return header{
		ctx:    order.Uint32(b[0:]),
		handle: order.Uint32(b[4:]),
		sc:     remote.Scalars(order.Uint32(b[8:])),
		reqLen: order.Uint32(b[12:]),
	}, nil
}

func putResult(b []byte, ctx uint32, err error) {
	order.PutUint32(b[0:], ctx)
	order.PutUint32(b[4:], uint32(remote.Code(err)))
}

func getResult(b []byte) (ctx uint32, result int32, err error) {
	if len(b) < resultLen {
		return 0, 0, remote.ErrBadParm
	}
	return order.Uint32(b), int32(order.Uint32(b[4:])), nil
}

func packUint32s(v []uint32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		order.PutUint32(b[4*i:], x)
	}
	return b
}

func packUint64s(v []uint64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		order.PutUint64(b[8*i:], x)
	}
	return b
}

func unpackUint32s(b []byte, n int) ([]uint32, error) {
	if len(b) != 4*n {
		return nil, remote.ErrBadParm
	}
	v := make([]uint32, n)
	for i := range v {
		v[i] = order.Uint32(b[4*i:])
	}
	return v, nil
}

func unpackUint64s(b []byte, n int) ([]uint64, error) {
	if len(b) != 8*n {
		return nil, remote.ErrBadParm
	}
	v := make([]uint64, n)
	for i := range v {
		v[i] = order.Uint64(b[8*i:])
	}
	return v, nil
}

// client calls the listener interface through a session.
type client struct {
	inv remote.Invoker
}

func (c client) init() error {
	return c.inv.Invoke(remote.ListenerHandle, Init2SC, nil)
}

// next reports the previous call's result and response and waits for
// the next call.  The request is copied into req up to its length;
// the returned header tells the full length.
func (c client) next(ctx uint32, result error, resp, req []byte) (header, []byte, error) {
	var res [resultLen]byte
	var hdr [headerLen]byte
	putResult(res[:], ctx, result)
	args := []remote.Arg{
		remote.BufArg(res[:]),
		remote.BufArg(resp),
		remote.BufArg(hdr[:]),
		remote.BufArg(req),
	}
	if err := c.inv.Invoke(remote.ListenerHandle, Next2SC, args); err != nil {
		return header{}, nil, err
	}
	h, err := getHeader(args[2].Buf)
	return h, args[3].Buf, err
}

// inBufs fetches the whole request of call ctx into req.
func (c client) inBufs(ctx uint32, req []byte) ([]byte, error) {
	var b [4]byte
	order.PutUint32(b[:], ctx)
	args := []remote.Arg{remote.BufArg(b[:]), remote.BufArg(req)}
	if err := c.inv.Invoke(remote.ListenerHandle, GetInBufs2SC, args); err != nil {
		return nil, err
	}
	return args[1].Buf, nil
}
