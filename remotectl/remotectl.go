// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package remotectl implements both sides of the reserved system
// interfaces: remote control, bound to remote.RemotectlHandle, which
// opens and closes modules on the far side and sets session
// parameters; and current process, bound to
// remote.CurrentProcessHandle, which carries process and thread exit
// notifications.
package remotectl

import (
	"encoding/binary"
	"errors"

	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
)

// Method shapes of the remote control interface.
var (
	// OpenSC: in name, out diagnostic text, out handle.
	OpenSC = remote.MustScalars(0, 1, 1, 0, 1)

	// CloseSC: out diagnostic text, in handle.
	CloseSC = remote.MustScalars(1, 0, 1, 1, 0)

	// SetParamSC: in packed request id and parameters.
	SetParamSC = remote.MustScalars(2, 1, 0, 0, 0)
)

// DiagnosticLen is the capacity offered for loader diagnostics.
const DiagnosticLen = 255

// Parameter request ids for SetParam.
const (
	// ParamThreadParams sets (priority, stack size) of the remote
	// threads serving this session.
	ParamThreadParams uint32 = 1

	// ParamAdaptiveQoS turns adaptive QoS on (1) or off (0).
	ParamAdaptiveQoS uint32 = 2
)

// Client calls the remote control interface through an invoker.
type Client struct {
	Invoker remote.Invoker
}

// Open opens uri on the far side and returns its handle there.
func (c Client) Open(uri string) (uint32, error) {
	args := []remote.Arg{
		remote.BufArg([]byte(uri)),
		remote.BufArg(make([]byte, DiagnosticLen)),
		{},
	}
	err := c.Invoker.Invoke(remote.RemotectlHandle, OpenSC, args)
	if err != nil {
		return 0, withDiagnostic(err, uri, args[1].Buf)
	}
	return uint32(args[2].Handle), nil
}

// Close closes a handle returned by Open.
func (c Client) Close(h uint32) error {
	args := []remote.Arg{
		remote.BufArg(make([]byte, DiagnosticLen)),
		remote.HandleArg(uint64(h)),
	}
	return c.Invoker.Invoke(remote.RemotectlHandle, CloseSC, args)
}

// SetParam sends a session parameter request.
func (c Client) SetParam(req uint32, params ...uint32) error {
	buf := make([]byte, 4*(1+len(params)))
	binary.LittleEndian.PutUint32(buf, req)
	for i, p := range params {
		binary.LittleEndian.PutUint32(buf[4*(i+1):], p)
	}
	return c.Invoker.Invoke(remote.RemotectlHandle, SetParamSC, []remote.Arg{remote.BufArg(buf)})
}

func withDiagnostic(err error, uri string, diag []byte) error {
	if !errors.Is(err, remote.ErrNoSuchModule) {
		return err
	}
	if n := cstrlen(diag); n > 0 {
		return remote.ModuleError{URI: uri, LoadError: string(diag[:n])}
	}
	return remote.ModuleError{URI: uri}
}

func cstrlen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

// Opener is what the remote control skeleton serves; a
// *modtable.Table is one.
type Opener interface {
	Open(uri string) (uint32, error)
	Close(handle uint32) error
}

// ParamSetter optionally handles SetParam requests.
type ParamSetter interface {
	SetParam(req uint32, params []uint32) error
}

// Skel serves the remote control interface from o.
func Skel(o Opener) modtable.Stateless {
	return func(sc remote.Scalars, args []remote.Arg) error {
		switch sc {
		case OpenSC:
			h, err := o.Open(string(args[0].Buf))
			if err != nil {
				writeDiagnostic(&args[1], err)
				return err
			}
			args[1].Buf = args[1].Buf[:0]
			args[2].Handle = uint64(h)
			return nil
		case CloseSC:
			err := o.Close(uint32(args[1].Handle))
			if err != nil {
				writeDiagnostic(&args[0], err)
				return err
			}
			args[0].Buf = args[0].Buf[:0]
			return nil
		case SetParamSC:
			ps, ok := o.(ParamSetter)
			if !ok {
				return remote.ErrUnsupported
			}
			buf := args[0].Buf
			if len(buf) < 4 || len(buf)%4 != 0 {
				return remote.ErrBadParm
			}
			params := make([]uint32, len(buf)/4-1)
			for i := range params {
				params[i] = binary.LittleEndian.Uint32(buf[4*(i+1):])
			}
			return ps.SetParam(binary.LittleEndian.Uint32(buf), params)
		}
		return remote.ErrUnsupported
	}
}

func writeDiagnostic(arg *remote.Arg, err error) {
	text := err.Error()
	var merr remote.ModuleError
	if errors.As(err, &merr) && merr.LoadError != "" {
		text = merr.LoadError
	}
	n := copy(arg.Buf, text)
	arg.Buf = arg.Buf[:n]
}
