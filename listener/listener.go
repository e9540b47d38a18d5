// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package listener serves calls that remote domains make into host
// modules.
//
// A Listener is installed as a domain.SessionHook.  For every session
// it starts one goroutine that repeatedly hands the previous call's
// result to the remote side, receives the next call, and dispatches
// it through a module table.  The loop ends when the remote side
// stops answering, which happens when the session is torn down.
package listener

import (
	"errors"
	"sync"

	"github.com/diffeo/go-fastrpc/domain"
	"github.com/diffeo/go-fastrpc/modtable"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/wire"
	"github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Config configures a Listener.
type Config struct {
	// Table serves the calls.  Required.
	Table *modtable.Table

	// MinCacheSize is the floor for cached buffers.  If zero,
	// DefaultMinCacheSize is used.
	MinCacheSize int

	// Packed selects the packed variant, which carves all output
	// buffers of a call from one region and resizes buffers by
	// doubling and halving.
	Packed bool

	// Logger receives diagnostics; the standard logger is used if
	// it is nil.
	Logger *logrus.Logger
}

// Listener runs one serving loop per open session.
type Listener struct {
	cfg Config
	log *logrus.Logger

	lock   sync.Mutex
	loops  map[remote.DomainID]*loop
	events map[remote.DomainID]*eventFD
}

// New creates a listener.
func New(cfg Config) *Listener {
	if cfg.MinCacheSize <= 0 {
		cfg.MinCacheSize = DefaultMinCacheSize
	}
	l := &Listener{
		cfg:    cfg,
		log:    cfg.Logger,
		loops:  make(map[remote.DomainID]*loop),
		events: make(map[remote.DomainID]*eventFD),
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	return l
}

func (l *Listener) policy() Policy {
	if l.cfg.Packed {
		return DoublingPolicy{Min: l.cfg.MinCacheSize}
	}
	return ExactPolicy{Min: l.cfg.MinCacheSize}
}

// SessionOpened starts serving s.
func (l *Listener) SessionOpened(s *domain.Session) error {
	if err := (client{inv: s}).init(); err != nil {
		return err
	}
	lp := &loop{
		id:     uuid.NewV4().String(),
		l:      l,
		domain: s.ID,
		client: client{inv: s},
		req:    newBuffer(l.policy(), l.cfg.MinCacheSize),
		outs:   newBuffer(l.policy(), l.cfg.MinCacheSize),
		done:   make(chan struct{}),
	}
	lp.log = l.log.WithFields(logrus.Fields{
		"domain":   s.ID.String(),
		"listener": lp.id,
	})
	l.lock.Lock()
	l.loops[s.ID] = lp
	l.lock.Unlock()
	go lp.run()
	lp.log.Debug("listener started")
	return nil
}

// SessionClosing waits for the loop serving s to finish.
func (l *Listener) SessionClosing(s *domain.Session) {
	l.lock.Lock()
	lp := l.loops[s.ID]
	delete(l.loops, s.ID)
	l.lock.Unlock()
	if lp != nil {
		<-lp.done
	}
}

// Done returns a channel closed when the loop serving id ends, or
// nil if no loop is running.
func (l *Listener) Done(id remote.DomainID) <-chan struct{} {
	l.lock.Lock()
	defer l.lock.Unlock()
	if lp, ok := l.loops[id]; ok {
		return lp.done
	}
	return nil
}

// loop is the serving state of one session.
type loop struct {
	id     string
	l      *Listener
	domain remote.DomainID
	client client
	log    *logrus.Entry

	// req caches requests; outs caches output buffers in the
	// packed variant.
	req     *buffer
	outs    *buffer
	outBufs []*buffer
	resp    []byte

	done chan struct{}
}

func (lp *loop) run() {
	defer lp.finish()
	var (
		ctx     uint32
		result  error
		resp    []byte
		retried bool
	)
	for {
		hdr, req, err := lp.next(ctx, result, resp)
		if err != nil {
			lp.fail("next", err)
			if retried {
				lp.log.WithError(err).Debug("listener stopping")
				return
			}
			retried = true
			result, resp = err, nil
			continue
		}
		retried = false
		ctx = hdr.ctx
		resp, result = lp.dispatch(hdr, req)
	}
}

func (lp *loop) finish() {
	lp.req.release()
	lp.outs.release()
	lp.outBufs = nil
	lp.resp = nil
	close(lp.done)
	lp.l.signal(lp.domain)
}

func (lp *loop) fail(stage string, err error) {
	failures.WithLabelValues(lp.domain.String(), stage).Inc()
	if stage != "next" {
		lp.log.WithError(err).WithField("stage", stage).Debug("listener call failed")
	}
}

// next trades the previous result for the next call, fetching the
// rest of the request if it did not fit.
func (lp *loop) next(ctx uint32, result error, resp []byte) (header, []byte, error) {
	hdr, got, err := lp.client.next(ctx, result, resp, lp.req.full())
	if err != nil {
		return hdr, nil, err
	}
	need := int(hdr.reqLen)
	if need <= len(got) {
		return hdr, lp.reserve(lp.req, need), nil
	}
	req := lp.reserve(lp.req, need)
	if req, err = lp.client.inBufs(hdr.ctx, req); err != nil {
		return hdr, nil, err
	}
	if len(req) != need {
		return hdr, nil, remote.ErrBadParm
	}
	return hdr, req, nil
}

// dispatch runs one call and returns the packed response.
func (lp *loop) dispatch(hdr header, req []byte) ([]byte, error) {
	invocations.WithLabelValues(lp.domain.String()).Inc()
	args, err := lp.unpack(hdr.sc, req)
	if err != nil {
		lp.fail("unpack", err)
		return nil, err
	}
	err = lp.l.cfg.Table.Invoke(hdr.handle, hdr.sc, args)
	if err != nil && !errors.Is(err, remote.ErrBufferTooSmall) {
		lp.fail("invoke", err)
		return nil, err
	}
	sc := hdr.sc
	nIn, nOut := sc.InBufs(), sc.OutBufs()
	bufs := make([][]byte, 0, nOut+1)
	for _, arg := range args[nIn : nIn+nOut] {
		bufs = append(bufs, arg.Buf)
	}
	handles := make([]uint64, sc.OutHandles())
	for i, arg := range args[sc.Buffers()+sc.InHandles():] {
		handles[i] = arg.Handle
	}
	bufs = append(bufs, packUint64s(handles))
	lp.resp = wire.PackBuffers(lp.resp, bufs)
	return lp.resp, err
}

// unpack turns a request region into call arguments.  Input buffers
// alias req; output buffers come from the loop's caches.
func (lp *loop) unpack(sc remote.Scalars, req []byte) ([]remote.Arg, error) {
	parts, err := wire.UnpackBuffers(req)
	if err != nil {
		return nil, err
	}
	nIn, nOut := sc.InBufs(), sc.OutBufs()
	if len(parts) != nIn+2 {
		return nil, remote.ErrBadParm
	}
	caps, err := unpackUint32s(parts[nIn], nOut)
	if err != nil {
		return nil, err
	}
	inHandles, err := unpackUint64s(parts[nIn+1], sc.InHandles())
	if err != nil {
		return nil, err
	}
	args := make([]remote.Arg, sc.Len())
	for i := 0; i < nIn; i++ {
		args[i].Buf = parts[i]
	}
	outs := lp.outputs(caps)
	for i := range outs {
		args[nIn+i].Buf = outs[i]
	}
	for i, h := range inHandles {
		args[sc.Buffers()+i].Handle = h
	}
	return args, nil
}

// outputs returns zeroed output buffers of the given sizes.
func (lp *loop) outputs(caps []uint32) [][]byte {
	outs := make([][]byte, len(caps))
	if lp.l.cfg.Packed {
		total := 0
		for _, c := range caps {
			total += (int(c) + 7) &^ 7
		}
		region := lp.reserve(lp.outs, total)
		for i := range region {
			region[i] = 0
		}
		off := 0
		for i, c := range caps {
			n := int(c)
			outs[i] = region[off : off+n : off+n]
			off += (n + 7) &^ 7
		}
		return outs
	}
	for len(lp.outBufs) < len(caps) {
		lp.outBufs = append(lp.outBufs, newBuffer(lp.l.policy(), lp.l.cfg.MinCacheSize))
	}
	for i, c := range caps {
		b := lp.reserve(lp.outBufs[i], int(c))
		for j := range b {
			b[j] = 0
		}
		outs[i] = b
	}
	return outs
}

func (lp *loop) reserve(b *buffer, need int) []byte {
	grows, shrinks := b.grows, b.shrinks
	data := b.reserve(need)
	if b.grows != grows {
		resizes.WithLabelValues(lp.domain.String(), "grow").Inc()
	}
	if b.shrinks != shrinks {
		resizes.WithLabelValues(lp.domain.String(), "shrink").Inc()
	}
	return data
}
