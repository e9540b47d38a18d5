// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package wire

import (
	"fmt"
	"math"

	"github.com/diffeo/go-fastrpc/remote"
)

var errShort = fmt.Errorf("wire: record truncated: %w", remote.ErrBadParm)

func narrow(v uint64, what string) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("wire: %s %#x does not fit 32 bits: %w", what, v, remote.ErrBadParm)
	}
	return uint32(v), nil
}

// To32 converts a native record for a 32-bit peer, field by field.
// It fails if any pointer, length or context does not fit.
func To32(m Message64) (Message32, error) {
	var (
		out Message32
		err error
	)
	out.Header.Handle = m.Header.Handle
	out.Header.Scalars = m.Header.Scalars
	if out.Header.Ctx, err = narrow(m.Header.Ctx, "ctx"); err != nil {
		return out, err
	}
	if out.Header.Args, err = narrow(m.Header.Args, "args pointer"); err != nil {
		return out, err
	}
	out.Args = make([]InvokeArg32, len(m.Args))
	for i, a := range m.Args {
		if out.Args[i].Ptr, err = narrow(a.Ptr, "arg pointer"); err != nil {
			return out, err
		}
		if out.Args[i].Length, err = narrow(a.Length, "arg length"); err != nil {
			return out, err
		}
		out.Args[i].FD = a.FD
		out.Args[i].Attr = a.Attr
	}
	out.Pages = make([]Page32, len(m.Pages))
	for i, p := range m.Pages {
		if out.Pages[i].Addr, err = narrow(p.Addr, "page address"); err != nil {
			return out, err
		}
		if out.Pages[i].Size, err = narrow(p.Size, "page size"); err != nil {
			return out, err
		}
	}
	return out, nil
}

// To64 widens a 32-bit record to the native layout.
func To64(m Message32) Message64 {
	out := Message64{
		Header: Invoke64{
			Ctx:     uint64(m.Header.Ctx),
			Handle:  m.Header.Handle,
			Scalars: m.Header.Scalars,
			Args:    uint64(m.Header.Args),
		},
		Args:  make([]InvokeArg64, len(m.Args)),
		Pages: make([]Page64, len(m.Pages)),
	}
	for i, a := range m.Args {
		out.Args[i] = InvokeArg64{Ptr: uint64(a.Ptr), Length: uint64(a.Length), FD: a.FD, Attr: a.Attr}
	}
	for i, p := range m.Pages {
		out.Pages[i] = Page64{Addr: uint64(p.Addr), Size: uint64(p.Size)}
	}
	return out
}

// Record builds the native record for an encoded invocation.
func (msg *Message) Record(handle uint32, sc remote.Scalars, ctx, args uint64) Message64 {
	return Message64{
		Header: Invoke64{Ctx: ctx, Handle: handle, Scalars: uint32(sc), Args: args},
		Args:   msg.Args,
		Pages:  msg.Pages,
	}
}
