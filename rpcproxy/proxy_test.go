// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package rpcproxy

import (
	"net"
	"testing"

	"github.com/diffeo/go-fastrpc/cborrpc"
	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/stretchr/testify/suite"
)

func echo(sc remote.Scalars, args []remote.Arg) error {
	if sc.InBufs() != 1 || sc.OutBufs() != 1 {
		return remote.ErrBadParm
	}
	n := copy(args[1].Buf, args[0].Buf)
	args[1].Buf = args[1].Buf[:n]
	return nil
}

type ProxySuite struct {
	suite.Suite
	Manager *domain.Manager
	Proxy   *Proxy
	Client  *cborrpc.Client
}

func (s *ProxySuite) SetupTest() {
	backend := memory.New()
	backend.Register("echo", modtable.Stateless(echo))
	s.Manager = domain.NewManager(domain.Config{
		Opener:    backend,
		ShellDirs: []string{s.T().TempDir()},
	})
	s.Proxy = New(s.Manager, nil)

	server, conn := net.Pipe()
	go (&cborrpc.Server{Target: s.Proxy}).ServeConn(server)
	var err error
	s.Client, err = cborrpc.NewClient(conn)
	s.Require().NoError(err)
}

func (s *ProxySuite) TearDownTest() {
	s.NoError(s.Client.Close())
	s.Proxy.Shutdown()
	s.Manager.Shutdown()
}

func (s *ProxySuite) state(id remote.DomainID) string {
	for _, st := range s.Proxy.Domains() {
		if st.Domain == id {
			return st.State
		}
	}
	return ""
}

func (s *ProxySuite) TestDirect() {
	h, err := s.Proxy.Open("echo")
	s.Require().NoError(err)
	s.NotZero(h)

	outs, err := s.Proxy.Invoke(h, 0, [][]byte{[]byte("hello")}, []int{16})
	s.Require().NoError(err)
	s.Equal([][]byte{[]byte("hello")}, outs)

	s.NoError(s.Proxy.Close(h))
	s.Equal(remote.ErrBadHandle, s.Proxy.Close(h))
	s.Equal("closed", s.state(remote.ADSP))
}

func (s *ProxySuite) TestOverWire() {
	result, err := s.Client.Call("open", "echo")
	s.Require().NoError(err)
	h, ok := result.(uint64)
	s.Require().True(ok, "%#v", result)

	result, err = s.Client.Call("invoke", h, 0, [][]byte{[]byte("wire")}, []int{8})
	s.Require().NoError(err)
	outs, ok := result.([]interface{})
	s.Require().True(ok, "%#v", result)
	s.Require().Len(outs, 1)
	s.Equal([]byte("wire"), outs[0])

	_, err = s.Client.Call("close", h)
	s.NoError(err)
	_, err = s.Client.Call("close", h)
	s.Error(err)
}

func (s *ProxySuite) TestInvokeErrors() {
	h, err := s.Proxy.Open("echo")
	s.Require().NoError(err)

	_, err = s.Proxy.Invoke(h, 0, [][]byte{[]byte("x")}, []int{-1})
	s.Equal(remote.ErrBadParm, err)

	_, err = s.Proxy.Invoke(h, 99, nil, nil)
	s.Equal(remote.ErrBadScalars, err)

	_, err = s.Proxy.Invoke(h, 0, nil, []int{4})
	s.Error(err)

	_, err = s.Proxy.Invoke(12345, 0, nil, nil)
	s.Equal(remote.ErrBadHandle, err)
}

func (s *ProxySuite) TestMissingModule() {
	_, err := s.Client.Call("open", "nope")
	var rerr cborrpc.RemoteError
	s.Require().ErrorAs(err, &rerr)
	s.Contains(rerr.Message, "nope")
}

func (s *ProxySuite) TestShutdownClosesLeftovers() {
	_, err := s.Proxy.Open("echo")
	s.Require().NoError(err)
	_, err = s.Proxy.Open("echo")
	s.Require().NoError(err)
	s.Equal("ready", s.state(remote.ADSP))

	s.Proxy.Shutdown()
	s.Equal("closed", s.state(remote.ADSP))
}

func (s *ProxySuite) TestDomains() {
	result, err := s.Client.Call("domains")
	s.Require().NoError(err)
	list, ok := result.([]interface{})
	s.Require().True(ok, "%#v", result)
	s.Len(list, remote.NumDomainsExtend)
}

func (s *ProxySuite) TestSession() {
	other := New(s.Manager, nil)
	s.NotEqual(s.Proxy.Session(), other.Session())
}

func TestProxy(t *testing.T) {
	suite.Run(t, new(ProxySuite))
}
