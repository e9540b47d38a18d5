// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package remote

// Arg is one invocation argument.  Whether Buf or Handle is
// meaningful depends only on the argument's position relative to the
// scalars word: buffers come first, then handles.
type Arg struct {
	// Buf is a buffer argument.  For output buffers its length is
	// the capacity the caller offers.
	Buf []byte

	// Handle is an opaque 64-bit handle argument.
	Handle uint64
}

// BufArg wraps a buffer argument.
func BufArg(b []byte) Arg { return Arg{Buf: b} }

// HandleArg wraps a handle argument.
func HandleArg(h uint64) Arg { return Arg{Handle: h} }

// Invoker is anything that can carry out an invocation on a 32-bit
// handle: a module dispatch table, a device session, a test fake.
type Invoker interface {
	Invoke(handle uint32, sc Scalars, args []Arg) error
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(handle uint32, sc Scalars, args []Arg) error

// Invoke calls f.
func (f InvokerFunc) Invoke(handle uint32, sc Scalars, args []Arg) error {
	return f(handle, sc, args)
}
