// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package listener_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/listener"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"golang.org/x/sys/unix"
	"gopkg.in/check.v1"
)

var (
	echoSC  = remote.MustScalars(0, 1, 1, 0, 0)
	splitSC = remote.MustScalars(1, 1, 2, 0, 0)
	bumpSC  = remote.MustScalars(2, 0, 0, 1, 1)
	failSC  = remote.MustScalars(3, 0, 0, 0, 0)
)

func hostModule(sc remote.Scalars, args []remote.Arg) error {
	switch sc {
	case echoSC:
		n := copy(args[1].Buf, args[0].Buf)
		args[1].Buf = args[1].Buf[:n]
		return nil
	case splitSC:
		half := len(args[0].Buf) / 2
		a := copy(args[1].Buf, args[0].Buf[:half])
		b := copy(args[2].Buf, args[0].Buf[half:])
		args[1].Buf, args[2].Buf = args[1].Buf[:a], args[2].Buf[:b]
		return nil
	case bumpSC:
		args[1].Handle = args[0].Handle + 1
		return nil
	case failSC:
		return remote.ErrNotAllowed
	}
	return remote.ErrUnsupported
}

type Suite struct {
	Packed   bool
	Backend  *memory.Backend
	Host     *modtable.Table
	Listener *listener.Listener
	Manager  *domain.Manager
	Handle   uint32
}

func init() {
	check.Suite(&Suite{})
	check.Suite(&Suite{Packed: true})
}

func Test(t *testing.T) {
	check.TestingT(t)
}

func (s *Suite) SetUpTest(c *check.C) {
	s.Backend = memory.New()
	s.Host = modtable.New(nil)
	s.Host.RegisterStatic("host", modtable.Stateless(hostModule))
	s.Listener = listener.New(listener.Config{
		Table:        s.Host,
		MinCacheSize: 64,
		Packed:       s.Packed,
	})
	s.Manager = domain.NewManager(domain.Config{
		Opener: s.Backend,
		Hooks:  []domain.SessionHook{s.Listener},
	})
	_, err := s.Manager.OpenDev(remote.ADSP)
	c.Assert(err, check.IsNil)
	s.Handle, err = s.Host.Open("host")
	c.Assert(err, check.IsNil)
}

func (s *Suite) TearDownTest(c *check.C) {
	s.Manager.Shutdown()
	c.Check(s.Listener.Close(), check.IsNil)
}

func (s *Suite) device(c *check.C) *memory.Device {
	dev := s.Backend.Device(remote.ADSP)
	c.Assert(dev, check.NotNil)
	return dev
}

func (s *Suite) echo(c *check.C, in []byte) []byte {
	args := []remote.Arg{remote.BufArg(in), remote.BufArg(make([]byte, len(in)))}
	err := s.device(c).Call(s.Handle, echoSC, args)
	c.Assert(err, check.IsNil)
	return args[1].Buf
}

func (s *Suite) TestEcho(c *check.C) {
	c.Check(string(s.echo(c, []byte("hello"))), check.Equals, "hello")
}

func (s *Suite) TestLargeRequest(c *check.C) {
	in := bytes.Repeat([]byte("0123456789"), 1000)
	c.Check(s.echo(c, in), check.DeepEquals, in)
	// smaller again, after the buffers grew
	c.Check(string(s.echo(c, []byte("small"))), check.Equals, "small")
}

func (s *Suite) TestSeveralOutputs(c *check.C) {
	args := []remote.Arg{
		remote.BufArg([]byte("abcdef")),
		remote.BufArg(make([]byte, 16)),
		remote.BufArg(make([]byte, 16)),
	}
	err := s.device(c).Call(s.Handle, splitSC, args)
	c.Assert(err, check.IsNil)
	c.Check(string(args[1].Buf), check.Equals, "abc")
	c.Check(string(args[2].Buf), check.Equals, "def")
}

func (s *Suite) TestHandles(c *check.C) {
	args := []remote.Arg{remote.HandleArg(41), {}}
	err := s.device(c).Call(s.Handle, bumpSC, args)
	c.Assert(err, check.IsNil)
	c.Check(args[1].Handle, check.Equals, uint64(42))
}

func (s *Suite) TestErrors(c *check.C) {
	err := s.device(c).Call(s.Handle, failSC, nil)
	c.Check(err, check.Equals, remote.ErrNotAllowed)

	err = s.device(c).Call(0x9999, failSC, nil)
	c.Check(err, check.Equals, remote.ErrBadHandle)

	// the loop keeps serving after failed calls
	c.Check(string(s.echo(c, []byte("still"))), check.Equals, "still")
}

func (s *Suite) TestConcurrentCalls(c *check.C) {
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := []byte(fmt.Sprintf("call %d", i))
			args := []remote.Arg{remote.BufArg(in), remote.BufArg(make([]byte, 32))}
			if err := s.Backend.Device(remote.ADSP).Call(s.Handle, echoSC, args); err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(args[1].Buf, in) {
				errs <- fmt.Errorf("got %q, want %q", args[1].Buf, in)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		c.Error(err)
	}
}

func (s *Suite) TestTeardownStopsLoop(c *check.C) {
	dev := s.device(c)
	done := s.Listener.Done(remote.ADSP)
	c.Assert(done, check.NotNil)
	s.Manager.Shutdown()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.Fatal("listener did not stop")
	}
	c.Check(s.Listener.Done(remote.ADSP), check.IsNil)
	err := dev.Call(s.Handle, echoSC, []remote.Arg{remote.BufArg(nil), remote.BufArg(nil)})
	c.Check(err, check.Equals, remote.ErrDeviceClosed)
}

func (s *Suite) TestEventFD(c *check.C) {
	h, err := s.Manager.Open(domain.TransportPrefix + domain.NameGetEventFD)
	c.Assert(err, check.IsNil)
	fd := int(h)
	c.Assert(fd > 0, check.Equals, true)

	again, err := s.Listener.EventFD(remote.ADSP)
	c.Assert(err, check.IsNil)
	c.Check(again, check.Equals, fd)

	done := s.Listener.Done(remote.ADSP)
	s.Manager.Shutdown()
	<-done

	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	c.Assert(err, check.IsNil)
	c.Check(n, check.Equals, 8)
	c.Check(binary.NativeEndian.Uint64(buf[:]), check.Equals, uint64(1))
}

func (s *Suite) TestReopenRestartsLoop(c *check.C) {
	first := s.Listener.Done(remote.ADSP)
	s.Manager.Shutdown()
	<-first

	m := domain.NewManager(domain.Config{
		Opener: s.Backend,
		Hooks:  []domain.SessionHook{s.Listener},
	})
	defer m.Shutdown()
	_, err := m.OpenDev(remote.ADSP)
	c.Assert(err, check.IsNil)
	c.Check(s.Listener.Done(remote.ADSP), check.Not(check.Equals), first)
	c.Check(string(s.echo(c, []byte("back"))), check.Equals, "back")
}

func (s *Suite) TestNextFailureRetried(c *check.C) {
	done := s.Listener.Done(remote.ADSP)
	s.Backend.FailNext(remote.ADSP, memory.OpInvoke, remote.ErrFailed)
	// The call in flight when next2 fails may lose its result.
	args := []remote.Arg{remote.BufArg([]byte("first")), remote.BufArg(make([]byte, 8))}
	_ = s.device(c).Call(s.Handle, echoSC, args)

	c.Check(string(s.echo(c, []byte("second"))), check.Equals, "second")
	select {
	case <-done:
		c.Fatal("listener stopped after one failure")
	default:
	}
}

func (s *Suite) TestNextFailsTwice(c *check.C) {
	done := s.Listener.Done(remote.ADSP)
	c.Assert(done, check.NotNil)
	s.Backend.FailNext(remote.ADSP, memory.OpInvoke, remote.ErrFailed)
	s.Backend.FailNext(remote.ADSP, memory.OpInvoke, remote.ErrFailed)

	dev := s.device(c)
	result := make(chan error, 1)
	go func() {
		args := []remote.Arg{remote.BufArg([]byte("lost")), remote.BufArg(make([]byte, 8))}
		result <- dev.Call(s.Handle, echoSC, args)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.Fatal("listener kept running")
	}

	// Nothing answers the call until the session goes away.
	s.Manager.Shutdown()
	select {
	case err := <-result:
		c.Check(err, check.NotNil)
	case <-time.After(5 * time.Second):
		c.Fatal("call was never failed")
	}
}
