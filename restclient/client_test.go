// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package restclient_test

import (
	"net/http/httptest"
	"testing"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/memory"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restclient"
	"github.com/diffeo/go-fastrpc/restserver"
	"gopkg.in/check.v1"
)

// Suite runs the client against a server over an emulated device.
type Suite struct {
	Backend *memory.Backend
	Manager *domain.Manager
	Server  *httptest.Server
	Client  *restclient.Client
}

func init() {
	check.Suite(&Suite{})
}

func Test(t *testing.T) {
	check.TestingT(t)
}

func (s *Suite) SetUpTest(c *check.C) {
	s.Backend = memory.New()
	s.Backend.Register("echo", modtable.Stateless(func(remote.Scalars, []remote.Arg) error { return nil }))
	s.Manager = domain.NewManager(domain.Config{
		Opener:    s.Backend,
		ShellDirs: []string{c.MkDir()},
	})
	s.Server = httptest.NewServer(restserver.NewRouter(s.Manager))
	var err error
	s.Client, err = restclient.New(s.Server.URL+"/", nil)
	c.Assert(err, check.IsNil)
}

func (s *Suite) TearDownTest(c *check.C) {
	s.Server.Close()
	s.Manager.Shutdown()
}

func (s *Suite) TestDomains(c *check.C) {
	domains, err := s.Client.Domains()
	c.Assert(err, check.IsNil)
	c.Assert(domains, check.HasLen, remote.NumDomainsExtend)
	c.Check(domains[0].Name, check.Equals, "adsp")
	c.Check(domains[remote.SessionBit].Name, check.Equals, "adsp-session1")
	for _, d := range domains {
		c.Check(d.State, check.Equals, "closed")
	}
}

func (s *Suite) TestDomainFollowsSession(c *check.C) {
	h, err := s.Manager.Open("echo&_dom=cdsp")
	c.Assert(err, check.IsNil)

	d, err := s.Client.Domain("cdsp")
	c.Assert(err, check.IsNil)
	c.Check(d.State, check.Equals, "ready")
	c.Check(d.Mode, check.Equals, domain.UserPD.String())
	c.Check(d.Opens, check.Equals, uint64(1))

	c.Assert(s.Client.CloseDomain("cdsp"), check.IsNil)
	d, err = s.Client.Domain("cdsp")
	c.Assert(err, check.IsNil)
	c.Check(d.State, check.Equals, "closed")
	c.Check(s.Manager.Close(h), check.Equals, remote.ErrBadHandle)
}

func (s *Suite) TestRestart(c *check.C) {
	d, err := s.Client.Restart("adsp")
	c.Assert(err, check.IsNil)
	c.Check(d.State, check.Equals, "ready")
	c.Check(d.Opens, check.Equals, uint64(1))

	d, err = s.Client.Restart("adsp")
	c.Assert(err, check.IsNil)
	c.Check(d.Opens, check.Equals, uint64(2))
	c.Check(s.Backend.Opens(remote.ADSP), check.Equals, 2)
}

func (s *Suite) TestUnknownDomain(c *check.C) {
	_, err := s.Client.Domain("gpu")
	c.Check(err, check.Equals, remote.ErrInvalidDomain)
}

func (s *Suite) TestBadURL(c *check.C) {
	_, err := restclient.New("", nil)
	c.Check(err, check.NotNil)
}
