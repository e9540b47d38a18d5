// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package wire

import "github.com/diffeo/go-fastrpc/remote"

// BatchSize returns the length of PackBuffers(bufs).
func BatchSize(bufs [][]byte) int {
	off := 4
	for _, b := range bufs {
		off = align(off, 4) + 4
		if len(b) > 0 {
			off = align(off, 8) + len(b)
		}
	}
	return off
}

// PackBuffers lays out several buffers in one region: a count, then
// each buffer as a length followed by its 8-byte aligned contents.
// dst is reused when it has room.
func PackBuffers(dst []byte, bufs [][]byte) []byte {
	dst = sized(dst, BatchSize(bufs))
	order.PutUint32(dst, uint32(len(bufs)))
	off := 4
	for _, b := range bufs {
		off = pad(dst, off, 4)
		order.PutUint32(dst[off:], uint32(len(b)))
		off += 4
		if len(b) > 0 {
			off = pad(dst, off, 8)
			off += copy(dst[off:], b)
		}
	}
	return dst
}

// pad zeroes dst from off up to the next multiple of to and returns
// the aligned offset.
func pad(dst []byte, off, to int) int {
	next := align(off, to)
	clear(dst[off:next])
	return next
}

// UnpackBuffers splits a region built by PackBuffers.  The returned
// slices alias data.
func UnpackBuffers(data []byte) ([][]byte, error) {
	r := &reader{data: data}
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if int(n) > len(data)/4 {
		return nil, remote.ErrBadParm
	}
	bufs := make([][]byte, n)
	for i := range bufs {
		size, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if size == 0 {
			bufs[i] = []byte{}
			continue
		}
		if bufs[i], err = r.bytes(int(size)); err != nil {
			return nil, err
		}
	}
	return bufs, nil
}
