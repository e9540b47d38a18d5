// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package fastrpc

import (
	"testing"

	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/pls"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var echoSC = remote.MustScalars(0, 1, 1, 0, 0)

func echo(sc remote.Scalars, args []remote.Arg) error {
	if sc != echoSC {
		return remote.ErrUnsupported
	}
	n := copy(args[1].Buf, args[0].Buf)
	args[1].Buf = args[1].Buf[:n]
	return nil
}

func newProcess(t *testing.T, backend *memory.Backend) *Process {
	p, err := New(Config{
		Opener:     backend,
		Properties: props.Map{"vendor.fastrpc.listener.cache": "128"},
		ShellDirs:  []string{t.TempDir()},
	})
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	return p
}

func TestAssembly(t *testing.T) {
	p := newProcess(t, memory.New())
	assert.Equal(t, 128, p.Tuning.ListenerMinCache)
	for _, name := range []string{ComponentTuning, ComponentModules, ComponentListener, ComponentDomains} {
		assert.True(t, p.Registry.Initialized(name), name)
	}
	p.Shutdown()
	assert.False(t, p.Registry.Initialized(ComponentDomains))
}

func TestOpenInvokeClose(t *testing.T) {
	backend := memory.New()
	backend.Register("echo", modtable.Stateless(echo))
	p := newProcess(t, backend)

	h, err := p.Open("echo")
	require.NoError(t, err)
	args := []remote.Arg{remote.BufArg([]byte("hi")), remote.BufArg(make([]byte, 2))}
	require.NoError(t, p.Invoke(h, echoSC, args))
	assert.Equal(t, "hi", string(args[1].Buf))
	require.NoError(t, p.Close(h))
	assert.Equal(t, remote.ErrBadHandle, p.Close(h))
}

func TestRemoteCallsHost(t *testing.T) {
	backend := memory.New()
	backend.Register("echo", modtable.Stateless(echo))
	p := newProcess(t, backend)
	p.Modules.RegisterStatic("host", modtable.Stateless(echo))

	h, err := p.Open("echo")
	require.NoError(t, err)
	defer func() { assert.NoError(t, p.Close(h)) }()

	dev := backend.Device(remote.ADSP)
	require.NotNil(t, dev)
	ctl := remotectl.Client{Invoker: remote.InvokerFunc(dev.Call)}
	hh, err := ctl.Open("host")
	require.NoError(t, err)
	assert.True(t, p.Modules.Opened(hh))

	args := []remote.Arg{remote.BufArg([]byte("ping")), remote.BufArg(make([]byte, 4))}
	require.NoError(t, dev.Call(hh, echoSC, args))
	assert.Equal(t, "ping", string(args[1].Buf))

	require.NoError(t, ctl.Close(hh))
	assert.False(t, p.Modules.Opened(hh))
}

func TestDefault(t *testing.T) {
	backend := memory.New()
	backend.Register("echo", modtable.Stateless(echo))
	saved := DefaultConfig
	DefaultConfig = Config{Opener: backend, ShellDirs: []string{t.TempDir()}}
	defer func() { DefaultConfig = saved }()
	defer pls.CloseProcess()

	h, err := Open("echo")
	require.NoError(t, err)
	args := []remote.Arg{remote.BufArg([]byte("x")), remote.BufArg(make([]byte, 1))}
	require.NoError(t, Invoke(h, echoSC, args))
	assert.Equal(t, "x", string(args[0].Buf))

	p1, err := Default()
	require.NoError(t, err)
	p2, err := Default()
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	require.NoError(t, Close(h))
	pls.CloseProcess()
	p3, err := Default()
	require.NoError(t, err)
	assert.NotSame(t, p1, p3)
}

func TestDefaultServesProcessTable(t *testing.T) {
	pls.CloseProcess()
	defer pls.CloseProcess()
	backend := memory.New()
	backend.Register("echo", modtable.Stateless(echo))
	saved := DefaultConfig
	DefaultConfig = Config{Opener: backend, ShellDirs: []string{t.TempDir()}}
	defer func() { DefaultConfig = saved }()

	// Registered before the default process exists.
	modtable.RegisterStatic("hostmod", modtable.Stateless(echo))

	p, err := Default()
	require.NoError(t, err)
	assert.Same(t, modtable.Process(), p.Modules)

	h, err := Open("echo")
	require.NoError(t, err)
	dev := backend.Device(remote.ADSP)
	require.NotNil(t, dev)
	ctl := remotectl.Client{Invoker: remote.InvokerFunc(dev.Call)}
	hh, err := ctl.Open("hostmod")
	require.NoError(t, err)
	args := []remote.Arg{remote.BufArg([]byte("pong")), remote.BufArg(make([]byte, 4))}
	require.NoError(t, dev.Call(hh, echoSC, args))
	assert.Equal(t, "pong", string(args[1].Buf))
	require.NoError(t, ctl.Close(hh))
	require.NoError(t, Close(h))

	// Registered after it started.
	modtable.RegisterOverride("late", modtable.Stateless(echo))
	lh, err := p.Modules.Open("late")
	require.NoError(t, err)
	require.NoError(t, p.Modules.Close(lh))
}

func TestSharedTableOutlivesProcess(t *testing.T) {
	table := modtable.New(nil)
	table.RegisterStatic("host", modtable.Stateless(echo))
	h, err := table.Open("host")
	require.NoError(t, err)

	p, err := New(Config{Opener: memory.New(), Modules: table, ShellDirs: []string{t.TempDir()}})
	require.NoError(t, err)
	assert.Same(t, table, p.Modules)
	p.Shutdown()

	assert.True(t, table.Opened(h))
	require.NoError(t, table.Close(h))
}
