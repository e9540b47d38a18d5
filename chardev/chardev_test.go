// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package chardev

import (
	"testing"
	"unsafe"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestIoctlNumbers(t *testing.T) {
	assert.Equal(t, uintptr(0xC0105203), ioctlInvoke)
	assert.Equal(t, uintptr(0x5204), ioctlInitAttach)
	assert.Equal(t, uintptr(0xC0185205), ioctlInitCreate)
	assert.Equal(t, uintptr(0xC0205206), ioctlMmap)
	assert.Equal(t, uintptr(0xC00C520C), ioctlControl)
}

// fakeNodes opens /dev/null in place of the nodes that exist and
// fails the others with their errno.
type fakeNodes struct {
	errs  map[string]error
	tried []string
}

func (f *fakeNodes) open(path string) (int, error) {
	f.tried = append(f.tried, path)
	if err, ok := f.errs[path]; ok {
		return -1, err
	}
	return unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func TestNodeFallback(t *testing.T) {
	cases := []struct {
		name  string
		id    remote.DomainID
		errs  map[string]error
		tried []string
	}{
		{"secure", remote.ADSP, nil, []string{SecureNode}},
		{"no secure node", remote.SDSP, map[string]error{SecureNode: unix.ENOENT}, []string{SecureNode, SDSPNode}},
		{"no domain node", remote.MDSP, map[string]error{SecureNode: unix.ENOENT, MDSPNode: unix.ENOENT}, []string{SecureNode, MDSPNode, DefaultNode}},
		{"secure denied", remote.ADSP, map[string]error{SecureNode: unix.EACCES}, []string{SecureNode, DefaultNode}},
		{"cdsp", remote.CDSP, nil, []string{CDSPNode}},
		{"cdsp fallback", remote.CDSP, map[string]error{CDSPNode: unix.ENOENT}, []string{CDSPNode, SecureNode}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			nodes := &fakeNodes{errs: c.errs}
			o := &Opener{OpenFile: nodes.open}
			dev, err := o.Open(c.id)
			require.NoError(t, err)
			assert.Equal(t, c.tried, nodes.tried)
			assert.NoError(t, dev.Close())
		})
	}
}

func TestOpenFails(t *testing.T) {
	nodes := &fakeNodes{errs: map[string]error{SecureNode: unix.EPERM}}
	o := &Opener{OpenFile: nodes.open}
	_, err := o.Open(remote.ADSP)
	assert.Equal(t, remote.ErrInvalidDevice, err)
	_, err = o.Open(remote.DomainID(42))
	assert.Equal(t, remote.ErrInvalidDomain, err)
}

func openFake(t *testing.T, ioctl ioctlFunc) *Device {
	nodes := &fakeNodes{}
	o := &Opener{OpenFile: nodes.open, ioctl: ioctl}
	dev, err := o.Open(remote.ADSP)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev.(*Device)
}

func TestInvokeRecords(t *testing.T) {
	sc := remote.MustScalars(7, 1, 0, 0, 1)
	var seen []wire.InvokeArg64
	dev := openFake(t, func(fd int, req uintptr, arg []byte) error {
		require.Equal(t, ioctlInvoke, req)
		assert.Equal(t, uint32(9), order.Uint32(arg[0:]))
		assert.Equal(t, uint32(sc), order.Uint32(arg[4:]))
		p := uintptr(order.Uint64(arg[8:]))
		recs := unsafe.Slice((*byte)(unsafe.Pointer(p)), 2*sizeInvokeArg)
		for i := 0; i < 2; i++ {
			var a wire.InvokeArg64
			a.UnmarshalBytes(recs[i*sizeInvokeArg:])
			seen = append(seen, a)
		}
		out := wire.InvokeArg64{Ptr: 0xabc, FD: -1}
		out.MarshalBytes(recs[sizeInvokeArg:])
		return nil
	})
	buf := []byte("in")
	req := &domain.InvokeRequest{
		Handle:  9,
		Scalars: sc,
		Args:    []remote.Arg{remote.BufArg(buf), {}},
		FDs:     []int32{11},
		Attrs:   []uint32{2},
		CRC:     []uint32{},
	}
	require.NoError(t, dev.Invoke(req))
	require.Len(t, seen, 2)
	assert.Equal(t, uint64(2), seen[0].Length)
	assert.Equal(t, int32(11), seen[0].FD)
	assert.Equal(t, uint32(2), seen[0].Attr)
	assert.Equal(t, int32(-1), seen[1].FD)
	assert.Equal(t, uint64(0xabc), req.Args[1].Handle)
	assert.Nil(t, req.CRC)
}

func TestErrnoMapping(t *testing.T) {
	dev := openFake(t, func(fd int, req uintptr, arg []byte) error {
		return unix.EBADR
	})
	err := dev.Invoke(&domain.InvokeRequest{Handle: 5, Scalars: remote.MustScalars(0, 0, 0, 0, 0)})
	assert.Equal(t, remote.ErrBadHandle, err)
	assert.Equal(t, remote.ErrBadParm, dev.InitAttach(domain.UserPD))
}

func TestControl(t *testing.T) {
	var reqs []uintptr
	dev := openFake(t, func(fd int, req uintptr, arg []byte) error {
		reqs = append(reqs, req)
		if req == ioctlControl && order.Uint32(arg) == controlKAlloc {
			order.PutUint32(arg[4:], 1)
		}
		return nil
	})
	ka := &domain.ControlRequest{Kind: domain.ControlKernelAlloc}
	require.NoError(t, dev.Control(ka))
	assert.Equal(t, uint32(1), ka.Result)
	require.NoError(t, dev.Control(&domain.ControlRequest{Kind: domain.ControlSetMode, Mode: 2}))
	assert.Equal(t, []uintptr{ioctlControl, ioctlSetMode}, reqs)
}

func TestMmap(t *testing.T) {
	dev := openFake(t, func(fd int, req uintptr, arg []byte) error {
		require.Equal(t, ioctlMmap, req)
		order.PutUint64(arg[24:], 0x5000)
		return nil
	})
	req := &domain.MmapRequest{FD: 3, Size: 4096}
	require.NoError(t, dev.Mmap(req))
	assert.Equal(t, uint64(0x5000), req.VAddrOut)
}

func TestClosedDevice(t *testing.T) {
	dev := openFake(t, func(int, uintptr, []byte) error { return nil })
	require.NoError(t, dev.Close())
	assert.Equal(t, remote.ErrDeviceClosed, dev.Munmap(&domain.MunmapRequest{VAddr: 1, Size: 1}))
}
