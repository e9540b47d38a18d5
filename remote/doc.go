// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package remote defines the vocabulary shared by every layer of the
// transport: the scalars word describing a call, the argument union,
// domain identifiers, reserved handles, and the status codes that
// travel over the wire as integer results.
//
// An invocation is a (handle, scalars, args) triple.  The scalars word
// packs a method index and the number of each kind of argument; the
// argument slice always holds input buffers, then output buffers, then
// input handles, then output handles, in that order.  Nothing in this
// package blocks or allocates shared state.
package remote
