// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-fastrpc/cborrpc"
	"github.com/diffeo/go-fastrpc/fastrpc"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restserver"
	"github.com/diffeo/go-fastrpc/rpcproxy"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/negroni"
	"golang.org/x/sync/errgroup"
)

// daemon keeps a set of domain sessions open and serves them over
// HTTP and CBOR-RPC.
type daemon struct {
	Process *fastrpc.Process
	Domains []remote.DomainID

	// Backoff is the wait between attempts to reopen a session.
	Backoff time.Duration

	// Interval is the period of the metrics snapshot.
	Interval time.Duration

	Clock         clock.Clock
	Logger        *logrus.Logger
	RequestLogger *logrus.Logger
}

// keep holds the session of id open until ctx ends.  Whenever the
// session's listener stops, the session is torn down and reopened.
func (d *daemon) keep(ctx context.Context, id remote.DomainID) error {
	log := d.Logger.WithField("domain", id.String())
	m := d.Process.Manager
	for {
		if _, err := m.OpenDev(id); err != nil {
			openFailures.WithLabelValues(id.String()).Inc()
			log.WithError(err).Warn("could not open session")
		} else if done := d.Process.Listener.Done(id); done != nil {
			log.Info("session open")
			select {
			case <-ctx.Done():
				return nil
			case <-done:
			}
			restarts.WithLabelValues(id.String()).Inc()
			log.Warn("listener stopped, restarting session")
			if err := m.CloseDomain(id); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-d.Clock.After(d.Backoff):
		}
	}
}

// handler builds the HTTP interface: the status service and the
// metrics endpoint.
func (d *daemon) handler() http.Handler {
	r := mux.NewRouter()
	restserver.PopulateRouter(r, d.Process.Manager)
	r.Handle("/metrics", promhttp.Handler())

	n := negroni.New(negroni.NewRecovery())
	if d.RequestLogger != nil {
		reqLog := d.RequestLogger
		n.UseFunc(func(rw http.ResponseWriter, req *http.Request, next http.HandlerFunc) {
			start := d.Clock.Now()
			next(rw, req)
			reqLog.WithFields(logrus.Fields{
				"method":  req.Method,
				"path":    req.URL.Path,
				"status":  rw.(negroni.ResponseWriter).Status(),
				"elapsed": d.Clock.Since(start),
			}).Debug("HTTP request")
		})
	}
	n.UseHandler(r)
	return n
}

// run serves everything until ctx ends or one part fails.  httpLn and
// rpcLn are closed on return.
func (d *daemon) run(ctx context.Context, httpLn, rpcLn net.Listener) error {
	proxy := rpcproxy.New(d.Process.Manager, d.Logger)
	defer proxy.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range d.Domains {
		id := id
		g.Go(func() error { return d.keep(ctx, id) })
	}

	srv := &http.Server{Handler: d.handler()}
	g.Go(func() error {
		err := srv.Serve(httpLn)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})

	rpc := &cborrpc.Server{
		Target:        proxy,
		Logger:        d.Logger,
		RequestLogger: d.RequestLogger,
	}
	g.Go(func() error {
		err := rpc.Serve(rpcLn)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		_ = rpcLn.Close()
		return nil
	})

	g.Go(func() error {
		return observe(ctx, d.Process.Manager, d.Clock, d.Interval)
	})
	return g.Wait()
}
