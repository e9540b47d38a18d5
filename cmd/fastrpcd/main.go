// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package fastrpcd holds remote DSP domain sessions open on behalf of
// other processes.  It restarts a session whenever its listener stops,
// publishes domain status over HTTP, and relays module calls from
// CBOR-RPC clients.
//
// The "status", "restart" and "close" commands talk to a running
// daemon's HTTP interface.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-fastrpc/backend"
	"github.com/diffeo/go-fastrpc/fastrpc"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/restclient"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var dev = backend.Backend{Implementation: "chardev"}

var serveFlags = []cli.Flag{
	cli.GenericFlag{
		Name:  "backend",
		Value: &dev,
		Usage: "impl[:address] of the device backend",
	},
	cli.StringFlag{
		Name:  "config",
		Usage: "property file (YAML, or TOML if named *.toml)",
	},
	cli.StringSliceFlag{
		Name:  "domain",
		Usage: "domain to keep open (repeatable, default adsp)",
	},
	cli.DurationFlag{
		Name:  "backoff",
		Value: 5 * time.Second,
		Usage: "wait this long before reopening a failed session",
	},
	cli.DurationFlag{
		Name:  "interval",
		Value: 15 * time.Second,
		Usage: "period of the metrics snapshot",
	},
	cli.BoolFlag{
		Name:  "packed",
		Usage: "use the packed listener buffer policy",
	},
	cli.StringFlag{
		Name:  "http",
		Value: ":5980",
		Usage: "[ip]:port for HTTP status interface",
	},
	cli.StringFlag{
		Name:  "cborrpc",
		Value: "127.0.0.1:5932",
		Usage: "[ip]:port for CBOR-RPC interface",
	},
	cli.BoolFlag{
		Name:  "log-requests",
		Usage: "log all requests",
	},
}

var urlFlag = cli.StringFlag{
	Name:  "url",
	Value: "http://localhost:5980/",
	Usage: "base URL of a running daemon",
}

func serve(c *cli.Context) error {
	log := logrus.StandardLogger()

	var properties props.Store
	if path := c.String("config"); path != "" {
		m, err := props.LoadFile(path)
		if err != nil {
			return err
		}
		properties = m
	}
	tuning, err := props.LoadTuning(properties, props.Env{})
	if err != nil {
		return err
	}

	var domains []remote.DomainID
	names := c.StringSlice("domain")
	if len(names) == 0 {
		names = []string{"adsp"}
	}
	for _, name := range names {
		id, err := remote.ParseDomain(name)
		if err != nil {
			return fmt.Errorf("--domain %q: %w", name, err)
		}
		domains = append(domains, id)
	}

	opener, err := dev.Opener(log, tuning)
	if err != nil {
		return err
	}
	proc, err := fastrpc.New(fastrpc.Config{
		Opener:     opener,
		Properties: properties,
		Env:        props.Env{},
		Loader:     modtable.PluginLoader{},
		Packed:     c.Bool("packed"),
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer proc.Shutdown()

	var reqLogger *logrus.Logger
	if c.Bool("log-requests") {
		stdlog := logrus.StandardLogger()
		reqLogger = &logrus.Logger{
			Out:       stdlog.Out,
			Formatter: stdlog.Formatter,
			Hooks:     stdlog.Hooks,
			Level:     logrus.DebugLevel,
		}
	}

	httpLn, err := net.Listen("tcp", c.String("http"))
	if err != nil {
		return err
	}
	rpcLn, err := net.Listen("tcp", c.String("cborrpc"))
	if err != nil {
		httpLn.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := &daemon{
		Process:       proc,
		Domains:       domains,
		Backoff:       c.Duration("backoff"),
		Interval:      c.Duration("interval"),
		Clock:         clock.New(),
		Logger:        log,
		RequestLogger: reqLogger,
	}
	log.WithFields(logrus.Fields{
		"backend": dev.String(),
		"http":    httpLn.Addr().String(),
		"cborrpc": rpcLn.Addr().String(),
	}).Info("fastrpcd starting")
	return d.run(ctx, httpLn, rpcLn)
}

var statusCmd = cli.Command{
	Name:  "status",
	Usage: "show the state of every domain",
	Flags: []cli.Flag{urlFlag},
	Action: func(c *cli.Context) error {
		client, err := restclient.New(c.String("url"), nil)
		if err != nil {
			return err
		}
		domains, err := client.Domains()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tSTATE\tMODE\tHANDLES\tINVOKES\tOPENS")
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
				d.Name, d.State, d.Mode, d.Handles, d.Invokes, d.Opens)
		}
		return w.Flush()
	},
}

var restartCmd = cli.Command{
	Name:      "restart",
	Usage:     "tear down a domain's session and open it again",
	ArgsUsage: "DOMAIN",
	Flags:     []cli.Flag{urlFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("restart takes one domain name", 2)
		}
		client, err := restclient.New(c.String("url"), nil)
		if err != nil {
			return err
		}
		d, err := client.Restart(c.Args().First())
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s %s (%d opens)\n", d.Name, d.State, d.Opens)
		return nil
	},
}

var closeCmd = cli.Command{
	Name:      "close",
	Usage:     "tear down a domain's session",
	ArgsUsage: "DOMAIN",
	Flags:     []cli.Flag{urlFlag},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("close takes one domain name", 2)
		}
		client, err := restclient.New(c.String("url"), nil)
		if err != nil {
			return err
		}
		return client.CloseDomain(c.Args().First())
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fastrpcd"
	app.Usage = "keep remote DSP sessions open and serve them"
	app.Flags = serveFlags
	app.Action = serve
	app.Commands = []cli.Command{
		statusCmd,
		restartCmd,
		closeCmd,
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("fastrpcd")
	}
}
