// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package memory

import (
	"errors"
	"testing"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upperSC = remote.MustScalars(0, 1, 1, 0, 0)

func upper(sc remote.Scalars, args []remote.Arg) error {
	out := args[1].Buf
	if len(out) < len(args[0].Buf) {
		return remote.ErrBufferTooSmall
	}
	for i, c := range args[0].Buf {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	args[1].Buf = out[:len(args[0].Buf)]
	return nil
}

// invoker sends calls straight to a device.
type invoker struct {
	dev domain.Device
}

func (i invoker) Invoke(handle uint32, sc remote.Scalars, args []remote.Arg) error {
	return i.dev.Invoke(&domain.InvokeRequest{Handle: handle, Scalars: sc, Args: args})
}

func openDevice(t *testing.T) (*Backend, *Device) {
	b := New()
	b.Register("upper", modtable.Stateless(upper))
	dev, err := b.Open(remote.CDSP)
	require.NoError(t, err)
	return b, dev.(*Device)
}

func TestInvokeThroughWire(t *testing.T) {
	_, dev := openDevice(t)
	ctl := remotectl.Client{Invoker: invoker{dev}}
	h, err := ctl.Open("upper")
	require.NoError(t, err)
	assert.False(t, remote.IsConstHandle(h))

	args := []remote.Arg{remote.BufArg([]byte("shout")), remote.BufArg(make([]byte, 10))}
	require.NoError(t, invoker{dev}.Invoke(h, upperSC, args))
	assert.Equal(t, "SHOUT", string(args[1].Buf))
	assert.Equal(t, "shout", string(args[0].Buf))

	args = []remote.Arg{remote.BufArg([]byte("shout")), remote.BufArg(make([]byte, 2))}
	err = invoker{dev}.Invoke(h, upperSC, args)
	assert.Equal(t, remote.ErrBufferTooSmall, err)

	require.NoError(t, ctl.Close(h))
	err = invoker{dev}.Invoke(h, upperSC, args)
	assert.Equal(t, remote.ErrBadHandle, err)
}

func TestCRC(t *testing.T) {
	_, dev := openDevice(t)
	h, err := remotectl.Client{Invoker: invoker{dev}}.Open("upper")
	require.NoError(t, err)
	req := &domain.InvokeRequest{
		Handle:  h,
		Scalars: upperSC,
		Args:    []remote.Arg{remote.BufArg([]byte("abc")), remote.BufArg(make([]byte, 3))},
		CRC:     make([]uint32, 1),
	}
	require.NoError(t, dev.Invoke(req))
	assert.NotZero(t, req.CRC[0])
}

func TestCompat32(t *testing.T) {
	b, dev := openDevice(t)
	b.Compat32 = true
	b.PageSize = 4096
	h, err := remotectl.Client{Invoker: invoker{dev}}.Open("upper")
	require.NoError(t, err)

	pages := dev.State().Pages
	args := []remote.Arg{remote.BufArg([]byte("narrow")), remote.BufArg(make([]byte, 10))}
	require.NoError(t, invoker{dev}.Invoke(h, upperSC, args))
	assert.Equal(t, "NARROW", string(args[1].Buf))
	assert.Equal(t, pages+1, dev.State().Pages)

	b.CallBase = 1 << 32
	err = invoker{dev}.Invoke(h, upperSC, args)
	assert.True(t, errors.Is(err, remote.ErrBadParm))

	b.Compat32 = false
	args = []remote.Arg{remote.BufArg([]byte("wide")), remote.BufArg(make([]byte, 10))}
	require.NoError(t, invoker{dev}.Invoke(h, upperSC, args))
	assert.Equal(t, "WIDE", string(args[1].Buf))
}

func TestModuleErrorsBecomeCodes(t *testing.T) {
	_, dev := openDevice(t)
	_, err := remotectl.Client{Invoker: invoker{dev}}.Open("missing")
	assert.True(t, errors.Is(err, remote.ErrNoSuchModule))
}

func TestExitClosesQueue(t *testing.T) {
	_, dev := openDevice(t)
	require.NoError(t, remotectl.ProcessClient{Invoker: invoker{dev}}.Exit())
	assert.True(t, dev.State().Exited)
	err := dev.Call(5000, upperSC, []remote.Arg{remote.BufArg(nil), remote.BufArg(nil)})
	assert.Equal(t, remote.ErrDeviceClosed, err)
}

func TestFailureInjection(t *testing.T) {
	b, _ := openDevice(t)
	b.FailNext(remote.ADSP, OpOpen, remote.ErrInvalidDevice)
	_, err := b.Open(remote.ADSP)
	assert.Equal(t, remote.ErrInvalidDevice, err)
	dev, err := b.Open(remote.ADSP)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Opens(remote.ADSP))

	b.FailNext(remote.ADSP, OpAttach, remote.ErrFailed)
	assert.Equal(t, remote.ErrFailed, dev.InitAttach(domain.GuestOS))
	assert.NoError(t, dev.InitAttach(domain.GuestOS))
}

func TestSharedBuffers(t *testing.T) {
	_, dev := openDevice(t)
	buf, err := dev.Alloc(16)
	require.NoError(t, err)
	copy(buf.Data, "image")
	require.NoError(t, dev.InitCreate(&domain.CreateRequest{File: buf, FileLen: 5, Attrs: domain.AttrDebug}))
	st := dev.State()
	assert.Equal(t, "image", string(st.Image))
	assert.Equal(t, domain.AttrDebug, st.Attrs)

	require.NoError(t, dev.Free(buf))
	assert.Equal(t, remote.ErrBadParm, dev.Free(buf))
}

func TestClose(t *testing.T) {
	_, dev := openDevice(t)
	require.NoError(t, dev.Close())
	assert.Equal(t, remote.ErrDeviceClosed, dev.Close())
	err := dev.Invoke(&domain.InvokeRequest{Handle: remote.RemotectlHandle, Scalars: remote.MustScalars(0, 0, 0, 0, 0)})
	assert.Equal(t, remote.ErrDeviceClosed, err)
}
