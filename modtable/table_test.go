// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package modtable

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLib struct {
	syms   map[string]interface{}
	closed int32
}

func (l *fakeLib) Lookup(symbol string) (interface{}, error) {
	if sym, ok := l.syms[symbol]; ok {
		return sym, nil
	}
	return nil, fmt.Errorf("symbol %s not found", symbol)
}

func (l *fakeLib) Close() error {
	atomic.AddInt32(&l.closed, 1)
	return nil
}

type fakeLoader struct {
	lock  sync.Mutex
	libs  map[string]*fakeLib
	loads int
}

func (f *fakeLoader) Load(path string) (Library, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	lib, ok := f.libs[path]
	if !ok {
		return nil, fmt.Errorf("%s: cannot open shared object file", path)
	}
	f.loads++
	return lib, nil
}

var (
	echoSC = remote.MustScalars(2, 1, 1, 0, 0)
)

// tagged answers every call by writing tag into the first output.
func tagged(tag string) Stateless {
	return func(sc remote.Scalars, args []remote.Arg) error {
		n := copy(args[sc.InBufs()].Buf, tag)
		args[sc.InBufs()].Buf = args[sc.InBufs()].Buf[:n]
		return nil
	}
}

func callTag(t *testing.T, tbl *Table, h uint32) string {
	args := []remote.Arg{remote.BufArg([]byte("x")), remote.BufArg(make([]byte, 32))}
	require.NoError(t, tbl.Invoke(h, echoSC, args))
	return string(args[1].Buf)
}

func TestResolutionOrder(t *testing.T) {
	loader := &fakeLoader{libs: map[string]*fakeLib{
		"libcalc_skel.so": {syms: map[string]interface{}{"calc_skel_invoke": tagged("dynamic")}},
	}}
	tbl := New(loader)
	tbl.RegisterStatic("calc", tagged("static"))
	tbl.RegisterStatic("other", tagged("static-other"))

	h, err := tbl.Open("calc")
	require.NoError(t, err)
	assert.Equal(t, "dynamic", callTag(t, tbl, h))
	require.NoError(t, tbl.Close(h))

	tbl.RegisterOverride("calc", tagged("override"))
	h, err = tbl.Open("calc")
	require.NoError(t, err)
	assert.Equal(t, "override", callTag(t, tbl, h))
	require.NoError(t, tbl.Close(h))

	h, err = tbl.Open("file:///libother_skel.so?other_skel_invoke")
	require.NoError(t, err)
	assert.Equal(t, "static-other", callTag(t, tbl, h))
	require.NoError(t, tbl.Close(h))
}

func TestNoSuchModule(t *testing.T) {
	tbl := New(&fakeLoader{})
	_, err := tbl.Open("missing")
	assert.True(t, errors.Is(err, remote.ErrNoSuchModule))
	var merr remote.ModuleError
	require.True(t, errors.As(err, &merr))
	assert.Contains(t, merr.LoadError, "libmissing_skel.so")

	// the loader's diagnostic is dropped when a fallback succeeds
	tbl.RegisterStatic("missing", tagged("ok"))
	_, err = tbl.Open("missing")
	assert.NoError(t, err)
}

func TestBadSymbol(t *testing.T) {
	lib := &fakeLib{syms: map[string]interface{}{"calc_skel_invoke": 17}}
	tbl := New(&fakeLoader{libs: map[string]*fakeLib{"libcalc_skel.so": lib}})
	_, err := tbl.Open("calc")
	assert.True(t, errors.Is(err, remote.ErrNoSuchModule))
	assert.Equal(t, int32(1), atomic.LoadInt32(&lib.closed))
}

// scopedCounter is a handle-scoped module that counts its opens and
// closes.
type scopedCounter struct {
	opened, closed int32
	lastClosed     uint64
}

func (s *scopedCounter) skel() Scoped {
	return func(h uint64, sc remote.Scalars, args []remote.Arg) error {
		switch {
		case IsOpen(sc):
			n := atomic.AddInt32(&s.opened, 1)
			args[1].Handle = 0x1000 + uint64(n)
			return nil
		case IsClose(sc):
			atomic.AddInt32(&s.closed, 1)
			atomic.StoreUint64(&s.lastClosed, h)
			return nil
		}
		n := copy(args[sc.InBufs()].Buf, fmt.Sprintf("h=%x", h))
		args[sc.InBufs()].Buf = args[sc.InBufs()].Buf[:n]
		return nil
	}
}

func TestRefcountedClose(t *testing.T) {
	counter := &scopedCounter{}
	lib := &fakeLib{syms: map[string]interface{}{"calc_skel_handle_invoke": counter.skel()}}
	loader := &fakeLoader{libs: map[string]*fakeLib{"libcalc_skel.so": lib}}
	tbl := New(loader)

	uri := "file://libcalc_skel.so?calc_skel_handle_invoke&_modver=1.0"
	h1, err := tbl.Open(uri)
	require.NoError(t, err)
	h2, err := tbl.Open(uri)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.False(t, remote.IsConstHandle(h1))
	assert.Equal(t, int32(1), counter.opened)
	assert.Equal(t, "h=1001", callTag(t, tbl, h1))

	require.NoError(t, tbl.Close(h1))
	assert.True(t, tbl.Opened(h1))
	assert.Equal(t, "h=1001", callTag(t, tbl, h1))
	assert.Equal(t, int32(0), atomic.LoadInt32(&lib.closed))

	require.NoError(t, tbl.Close(h1))
	assert.False(t, tbl.Opened(h1))
	assert.Equal(t, int32(1), atomic.LoadInt32(&lib.closed))
	assert.Equal(t, int32(1), counter.closed)
	assert.Equal(t, uint64(0x1001), counter.lastClosed)

	err = tbl.Invoke(h1, echoSC, []remote.Arg{{}, {}})
	assert.Equal(t, remote.ErrBadHandle, err)
	assert.Equal(t, remote.ErrBadHandle, tbl.Close(h1))
}

func TestCloseWithCallInFlight(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	lib := &fakeLib{syms: map[string]interface{}{
		"slow_skel_invoke": Stateless(func(remote.Scalars, []remote.Arg) error {
			close(entered)
			<-proceed
			return nil
		}),
	}}
	tbl := New(&fakeLoader{libs: map[string]*fakeLib{"libslow_skel.so": lib}})
	h, err := tbl.Open("slow")
	require.NoError(t, err)

	done := make(chan error)
	go func() {
		done <- tbl.Invoke(h, echoSC, []remote.Arg{{}, {}})
	}()
	<-entered
	require.NoError(t, tbl.Close(h))
	assert.False(t, tbl.Opened(h), "closed handle no longer accepts calls")
	assert.Equal(t, int32(0), atomic.LoadInt32(&lib.closed), "in-flight call keeps module loaded")

	close(proceed)
	assert.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&lib.closed))
}

func TestConstHandles(t *testing.T) {
	tbl := New(nil)
	assert.Equal(t, remote.ErrBadHandle, tbl.RegisterConst(0x1000, "x", tagged("x")))
	require.NoError(t, tbl.RegisterConst(remote.ListenerHandle, "listener", tagged("const")))
	assert.Equal(t, "const", callTag(t, tbl, remote.ListenerHandle))
	err := tbl.Invoke(remote.CurrentProcessHandle, echoSC, []remote.Arg{{}, {}})
	assert.Equal(t, remote.ErrBadHandle, err)
}

func TestTooFewArgs(t *testing.T) {
	tbl := New(nil)
	tbl.RegisterStatic("calc", tagged("static"))
	h, err := tbl.Open("calc")
	require.NoError(t, err)
	assert.Equal(t, remote.ErrBadParm, tbl.Invoke(h, echoSC, nil))
}

func TestConcurrentInvoke(t *testing.T) {
	var running, peak int32
	tbl := New(nil)
	tbl.RegisterStatic("par", Stateless(func(remote.Scalars, []remote.Arg) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}))
	h, err := tbl.Open("par")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, tbl.Invoke(h, echoSC, []remote.Arg{{}, {}}))
		}()
	}
	wg.Wait()
	assert.True(t, atomic.LoadInt32(&peak) > 1, "calls on one handle run in parallel")
}

func TestScopedVersionNeedsScopedModule(t *testing.T) {
	tbl := New(nil)
	tbl.RegisterStatic("plain", tagged("plain"))
	_, err := tbl.Open("plain&_modver=1.0")
	assert.True(t, errors.Is(err, remote.ErrBadParm))
	assert.Equal(t, int32(remote.ErrBadParm), remote.Code(err))

	h, err := tbl.Open("plain")
	require.NoError(t, err)
	assert.True(t, tbl.Opened(h))
}

func TestShutdown(t *testing.T) {
	counter := &scopedCounter{}
	tbl := New(nil)
	tbl.RegisterStatic("calc", counter.skel())
	h, err := tbl.Open("calc&_modver=1.0")
	require.NoError(t, err)
	_, err = tbl.Open("calc&_modver=1.0")
	require.NoError(t, err)
	tbl.Shutdown()
	assert.False(t, tbl.Opened(h))
	assert.Equal(t, int32(1), counter.closed)
}

func TestProcessTable(t *testing.T) {
	RegisterStatic("proc_echo", tagged("process"))
	h, err := Process().Open("proc_echo")
	require.NoError(t, err)
	args := []remote.Arg{remote.BufArg(nil), remote.BufArg(make([]byte, 16))}
	require.NoError(t, Invoke(h, echoSC, args))
	assert.Equal(t, "process", string(args[1].Buf))
	require.NoError(t, Process().Close(h))
}
