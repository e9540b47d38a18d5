// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package wire marshals invocations into the flat byte layout shared
// with the remote side and defines the fixed-layout records the kernel
// device consumes.
//
// A marshaled invocation is one primary buffer.  Every buffer argument
// contributes a 4-byte little-endian length; buffers whose contents
// travel in the current direction follow their length, padded to an
// 8-byte boundary.  Handles follow the buffers as 8-byte aligned
// 64-bit values.  In the Request direction input buffers and input
// handles carry content; in the Response direction output buffers and
// output handles do.
package wire

import (
	"encoding/binary"

	"github.com/diffeo/go-fastrpc/remote"
)

// Direction selects which half of an invocation is being marshaled.
type Direction int

const (
	// Request is caller to callee.
	Request Direction = iota

	// Response is callee back to caller.
	Response
)

func (d Direction) String() string {
	if d == Response {
		return "response"
	}
	return "request"
}

var order = binary.LittleEndian

// Options tune Encode.
type Options struct {
	// Base is the address the primary buffer will be visible at on
	// the other side; argument pointers are Base plus an offset.
	Base uint64

	// PageSize, if nonzero, asks for page descriptors covering
	// every non-empty buffer carried in this direction.
	PageSize uint64
}

// Message is a marshaled invocation.
type Message struct {
	// Data is the primary buffer.
	Data []byte

	// Args has one entry per buffer argument, pointing at its
	// payload slot in Data.
	Args []InvokeArg64

	// Pages is filled only when Options.PageSize is set.
	Pages []Page64
}

func align(off, to int) int {
	return (off + to - 1) &^ (to - 1)
}

func carries(dir Direction, i, nIn int) bool {
	if dir == Request {
		return i < nIn
	}
	return i >= nIn
}

// handleRange returns the slice of args holding the handles that
// travel in dir.
func handleRange(dir Direction, sc remote.Scalars) (int, int) {
	first := sc.Buffers()
	if dir == Request {
		return first, first + sc.InHandles()
	}
	first += sc.InHandles()
	return first, first + sc.OutHandles()
}

// Size returns the length of the primary buffer Encode would build.
func Size(dir Direction, sc remote.Scalars, args []remote.Arg) int {
	nIn := sc.InBufs()
	off := 0
	for i := 0; i < sc.Buffers(); i++ {
		off = align(off, 4) + 4
		if n := len(args[i].Buf); n > 0 && carries(dir, i, nIn) {
			off = align(off, 8) + n
		}
	}
	first, last := handleRange(dir, sc)
	if last > first {
		off = align(off, 8) + 8*(last-first)
	}
	return off
}

// Encode marshals args as described by sc.
func Encode(dir Direction, sc remote.Scalars, args []remote.Arg, opts Options) (*Message, error) {
	if err := sc.Check(args); err != nil {
		return nil, err
	}
	for i := 0; i < sc.Buffers(); i++ {
		if uint64(len(args[i].Buf)) > 0xffffffff {
			return nil, remote.ErrBadParm
		}
	}
	nIn := sc.InBufs()
	msg := &Message{
		Data: make([]byte, Size(dir, sc, args)),
		Args: make([]InvokeArg64, sc.Buffers()),
	}
	off := 0
	for i := 0; i < sc.Buffers(); i++ {
		buf := args[i].Buf
		off = align(off, 4)
		order.PutUint32(msg.Data[off:], uint32(len(buf)))
		off += 4
		msg.Args[i] = InvokeArg64{Ptr: opts.Base + uint64(off), Length: uint64(len(buf)), FD: -1}
		if len(buf) == 0 || !carries(dir, i, nIn) {
			continue
		}
		off = align(off, 8)
		msg.Args[i].Ptr = opts.Base + uint64(off)
		copy(msg.Data[off:], buf)
		off += len(buf)
		if opts.PageSize > 0 {
			msg.Pages = append(msg.Pages, pageSpan(msg.Args[i].Ptr, uint64(len(buf)), opts.PageSize))
		}
	}
	first, last := handleRange(dir, sc)
	if last > first {
		off = align(off, 8)
		for _, arg := range args[first:last] {
			order.PutUint64(msg.Data[off:], arg.Handle)
			off += 8
		}
	}
	return msg, nil
}

func pageSpan(ptr, length, pageSize uint64) Page64 {
	start := ptr &^ (pageSize - 1)
	end := (ptr + length + pageSize - 1) &^ (pageSize - 1)
	return Page64{Addr: start, Size: end - start}
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) uint32() (uint32, error) {
	r.off = align(r.off, 4)
	if r.off+4 > len(r.data) {
		return 0, remote.ErrBadParm
	}
	v := order.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	r.off = align(r.off, 8)
	if r.off+8 > len(r.data) {
		return 0, remote.ErrBadParm
	}
	v := order.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	r.off = align(r.off, 8)
	if r.off+n > len(r.data) {
		return nil, remote.ErrBadParm
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// sized returns a slice of length n, reusing b's storage if it is
// large enough.
func sized(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}

// Decode unmarshals data produced by Encode(dir, sc, ...) into args.
//
// Decoding a Request fills in input buffers with their contents and
// sizes output buffers to the announced capacity, reusing the storage
// already in args where it is large enough.
//
// Decoding a Response checks that input buffer lengths match the
// caller's and copies output buffers into the caller's storage.  An
// output longer than the caller's buffer is copied up to the buffer's
// length and reported as remote.ErrBufferTooSmall.
func Decode(dir Direction, sc remote.Scalars, data []byte, args []remote.Arg) error {
	if err := sc.Check(args); err != nil {
		return err
	}
	nIn := sc.InBufs()
	r := &reader{data: data}
	var tooSmall bool
	for i := 0; i < sc.Buffers(); i++ {
		n32, err := r.uint32()
		if err != nil {
			return err
		}
		n := int(n32)
		if !carries(dir, i, nIn) {
			if dir == Request {
				args[i].Buf = sized(args[i].Buf, n)
			} else if n != len(args[i].Buf) {
				return remote.ErrBadParm
			}
			continue
		}
		var payload []byte
		if n > 0 {
			if payload, err = r.bytes(n); err != nil {
				return err
			}
		}
		if dir == Request {
			args[i].Buf = sized(args[i].Buf, n)
			copy(args[i].Buf, payload)
			continue
		}
		if n > len(args[i].Buf) {
			tooSmall = true
			n = len(args[i].Buf)
		}
		copy(args[i].Buf, payload[:n])
		args[i].Buf = args[i].Buf[:n]
	}
	first, last := handleRange(dir, sc)
	for i := first; i < last; i++ {
		h, err := r.uint64()
		if err != nil {
			return err
		}
		args[i].Handle = h
	}
	if tooSmall {
		return remote.ErrBufferTooSmall
	}
	return nil
}
