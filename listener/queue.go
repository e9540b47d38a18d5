// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener

import (
	"sync"

	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/wire"
)

// Queue is the remote side of the listener interface: code running
// in the remote process calls host modules through it, and the host's
// listener fetches those calls with next2.
type Queue struct {
	calls     chan *pending
	closed    chan struct{}
	closeOnce sync.Once

	lock    sync.Mutex
	active  map[uint32]*pending
	nextCtx uint32
}

type pending struct {
	handle uint32
	sc     remote.Scalars
	args   []remote.Arg
	req    []byte
	done   chan error
}

// NewQueue creates an open queue.
func NewQueue() *Queue {
	return &Queue{
		calls:  make(chan *pending),
		closed: make(chan struct{}),
		active: make(map[uint32]*pending),
	}
}

// Close fails every waiting call and every later one with
// remote.ErrDeviceClosed.  It may be called more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Call invokes handle on the host and waits for the result.  Output
// buffers and handles in args are filled in from the response.
func (q *Queue) Call(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	if err := sc.Check(args); err != nil {
		return err
	}
	nIn, nOut := sc.InBufs(), sc.OutBufs()
	bufs := make([][]byte, 0, nIn+2)
	for _, arg := range args[:nIn] {
		bufs = append(bufs, arg.Buf)
	}
	caps := make([]uint32, nOut)
	for i, arg := range args[nIn : nIn+nOut] {
		caps[i] = uint32(len(arg.Buf))
	}
	handles := make([]uint64, sc.InHandles())
	for i, arg := range args[sc.Buffers() : sc.Buffers()+sc.InHandles()] {
		handles[i] = arg.Handle
	}
	bufs = append(bufs, packUint32s(caps), packUint64s(handles))

	p := &pending{
		handle: handle,
		sc:     sc,
		args:   args,
		req:    wire.PackBuffers(nil, bufs),
		done:   make(chan error, 1),
	}
	select {
	case q.calls <- p:
	case <-q.closed:
		return remote.ErrDeviceClosed
	}
	select {
	case err := <-p.done:
		return err
	case <-q.closed:
		return remote.ErrDeviceClosed
	}
}

// Skel serves the listener interface from q.
func (q *Queue) Skel() modtable.Stateless {
	return func(sc remote.Scalars, args []remote.Arg) error {
		switch sc {
		case Init2SC:
			return nil
		case Next2SC:
			return q.next(args)
		case GetInBufs2SC:
			if len(args[0].Buf) < 4 {
				return remote.ErrBadParm
			}
			p := q.lookup(order.Uint32(args[0].Buf))
			if p == nil {
				return remote.ErrBadParm
			}
			n := copy(args[1].Buf, p.req)
			args[1].Buf = args[1].Buf[:n]
			return nil
		}
		return remote.ErrUnsupported
	}
}

func (q *Queue) lookup(ctx uint32) *pending {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.active[ctx]
}

func (q *Queue) next(args []remote.Arg) error {
	ctx, result, err := getResult(args[0].Buf)
	if err != nil {
		return err
	}
	if ctx != 0 {
		q.complete(ctx, result, args[1].Buf)
	}
	if len(args[2].Buf) < headerLen {
		return remote.ErrBadParm
	}

	var p *pending
	select {
	case p = <-q.calls:
	case <-q.closed:
		return remote.ErrDeviceClosed
	}
	q.lock.Lock()
	q.nextCtx++
	if q.nextCtx == 0 {
		q.nextCtx++
	}
	ctx = q.nextCtx
	q.active[ctx] = p
	q.lock.Unlock()

	header{ctx: ctx, handle: p.handle, sc: p.sc, reqLen: uint32(len(p.req))}.put(args[2].Buf)
	args[2].Buf = args[2].Buf[:headerLen]
	n := copy(args[3].Buf, p.req)
	args[3].Buf = args[3].Buf[:n]
	return nil
}

// complete hands the host's answer for ctx back to its caller.
func (q *Queue) complete(ctx uint32, result int32, resp []byte) {
	q.lock.Lock()
	p := q.active[ctx]
	delete(q.active, ctx)
	q.lock.Unlock()
	if p == nil {
		return
	}
	err := remote.FromCode(result)
	if err == nil {
		err = fillResponse(p.sc, p.args, resp)
	}
	p.done <- err
}

func fillResponse(sc remote.Scalars, args []remote.Arg, resp []byte) error {
	parts, err := wire.UnpackBuffers(resp)
	if err != nil {
		return err
	}
	nIn, nOut := sc.InBufs(), sc.OutBufs()
	if len(parts) != nOut+1 {
		return remote.ErrBadParm
	}
	handles, err := unpackUint64s(parts[nOut], sc.OutHandles())
	if err != nil {
		return err
	}
	var tooSmall bool
	for i, part := range parts[:nOut] {
		arg := &args[nIn+i]
		if len(part) > len(arg.Buf) {
			tooSmall = true
		}
		n := copy(arg.Buf, part)
		arg.Buf = arg.Buf[:n]
	}
	first := sc.Buffers() + sc.InHandles()
	for i, h := range handles {
		args[first+i].Handle = h
	}
	if tooSmall {
		return remote.ErrBufferTooSmall
	}
	return nil
}
