// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package domain

import (
	"sync"
	"time"

	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
)

// QoSMode selects a latency policy.
type QoSMode int

const (
	// QoSDisable turns off both policies.
	QoSDisable QoSMode = iota

	// QoSPM votes for a latency target while calls are active.
	QoSPM

	// QoSAdaptive lets the remote side manage latency.
	QoSAdaptive
)

// LatencyWait is how long the PM QoS vote outlives the last call.
const LatencyWait = time.Second

// qos is one domain's latency state.  PM QoS and adaptive QoS are
// never on together.
type qos struct {
	lock     sync.Mutex
	d        *Domain
	adaptive bool
	running  bool
	latency  uint32
	invokes  uint64
	voted    bool
	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
}

func (q *qos) init(d *Domain) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.d = d
}

func (q *qos) adaptiveEnabled() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.adaptive
}

// PMActive reports whether the PM QoS goroutine is running.
func (d *Domain) PMActive() bool {
	d.qos.lock.Lock()
	defer d.qos.lock.Unlock()
	return d.qos.running
}

// AdaptiveQoS reports whether adaptive QoS is on.
func (d *Domain) AdaptiveQoS() bool {
	return d.qos.adaptiveEnabled()
}

// refinc notes a call, waking the voter if it is idle.
func (q *qos) refinc() {
	q.lock.Lock()
	defer q.lock.Unlock()
	if !q.running {
		return
	}
	q.invokes++
	if !q.voted {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
}

// managePM starts, retargets or stops the PM QoS voter.
func (q *qos) managePM(dev Device, enable bool, latency uint32) {
	q.lock.Lock()
	q.latency = latency
	if enable {
		if !q.running {
			q.running = true
			q.wake = make(chan struct{}, 1)
			q.quit = make(chan struct{})
			q.done = make(chan struct{})
			go q.run(dev, q.wake, q.quit, q.done)
		}
		q.lock.Unlock()
		return
	}
	q.lock.Unlock()
	q.stop()
}

// stop signals the voter to exit and waits for it.
func (q *qos) stop() {
	q.lock.Lock()
	if !q.running {
		q.lock.Unlock()
		return
	}
	q.running = false
	quit, done := q.quit, q.done
	q.lock.Unlock()
	close(quit)
	<-done
}

// deinit stops the voter.  The adaptive setting outlives the
// session.
func (q *qos) deinit() {
	q.stop()
	q.lock.Lock()
	q.voted = false
	q.lock.Unlock()
}

func (q *qos) vote(dev Device, on bool) {
	q.lock.Lock()
	latency := q.latency
	q.voted = on
	q.lock.Unlock()
	err := dev.Control(&ControlRequest{Kind: ControlLatency, Enable: on, Latency: latency})
	if err != nil && q.d != nil {
		q.d.logger().WithError(err).Debug("latency vote")
	}
}

// run votes on when calls arrive and off after LatencyWait without
// any.
func (q *qos) run(dev Device, wake, quit, done chan struct{}) {
	defer close(done)
	clk := q.d.mgr.clock
	ticker := clk.Ticker(LatencyWait)
	defer ticker.Stop()
	var seen uint64
	for {
		select {
		case <-quit:
			q.lock.Lock()
			voted := q.voted
			q.lock.Unlock()
			if voted {
				q.vote(dev, false)
			}
			return
		case <-wake:
			q.lock.Lock()
			voted := q.voted
			seen = q.invokes
			q.lock.Unlock()
			if !voted {
				q.vote(dev, true)
			}
		case <-ticker.C:
			q.lock.Lock()
			idle := q.voted && q.invokes == seen
			seen = q.invokes
			q.lock.Unlock()
			if idle {
				q.vote(dev, false)
			}
		}
	}
}

// manageAdaptive turns adaptive QoS on or off.  With a session open
// the remote side is told at once; otherwise the setting goes out
// with the process attributes when the session is created.
func (d *Domain) manageAdaptive(enable bool) error {
	d.qos.lock.Lock()
	same := d.qos.adaptive == enable
	d.qos.lock.Unlock()
	if same {
		return nil
	}
	if s := d.ready(); s != nil {
		var v uint32
		if enable {
			v = 1
		}
		if err := (remotectl.Client{Invoker: s}).SetParam(remotectl.ParamAdaptiveQoS, v); err != nil {
			return err
		}
	}
	d.qos.lock.Lock()
	d.qos.adaptive = enable
	d.qos.lock.Unlock()
	d.logger().WithField("enable", enable).Debug("adaptive qos")
	return nil
}

// setLatency applies one latency control request.
func (d *Domain) setLatency(mode QoSMode, latency uint32) error {
	switch mode {
	case QoSDisable:
		if err := d.manageAdaptive(false); err != nil {
			return err
		}
		d.qos.stop()
	case QoSPM:
		s, err := d.mgr.OpenDev(d.id)
		if err != nil {
			return err
		}
		if err := d.manageAdaptive(false); err != nil {
			return err
		}
		return d.startPM(s, latency)
	case QoSAdaptive:
		d.qos.stop()
		return d.manageAdaptive(true)
	default:
		return remote.ErrBadParm
	}
	return nil
}

// startPM starts the voter on s's device, unless s has been torn
// down since it was opened.
func (d *Domain) startPM(s *Session, latency uint32) error {
	d.initLock.Lock()
	defer d.initLock.Unlock()
	if d.ready() != s {
		return remote.ErrBadState
	}
	d.qos.managePM(s.dev, true, latency)
	return nil
}
