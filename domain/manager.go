// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package domain manages sessions with remote compute domains.
//
// A Manager owns one record per domain slot.  A session is opened on
// first use: the device is opened, attached to or used to create the
// remote process, and every registered SessionHook (such as the
// listener) is started.  Sessions close when the last non-reserved
// handle opened through the domain-aware API is closed, when a
// session step fails, or when the Manager is closed.  Teardown of one
// domain never touches another, and the next use of a torn-down
// domain starts from scratch.
package domain

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/diffeo/go-fastrpc/props"
	"github.com/diffeo/go-fastrpc/remote"
	"github.com/diffeo/go-fastrpc/remotectl"
	"github.com/sirupsen/logrus"
)

// SessionHook is told when sessions open and close.
type SessionHook interface {
	// SessionOpened runs while the session is being created.  An
	// error fails the open and tears the session down.
	SessionOpened(s *Session) error

	// SessionClosing runs during teardown after the remote process
	// has been told to exit, and must not return until the hook
	// has stopped using s.
	SessionClosing(s *Session)
}

// Config configures a Manager.
type Config struct {
	// Opener opens devices.  Required.
	Opener Opener

	// Hooks run on every session open and close.
	Hooks []SessionHook

	// Init, if set, runs once before the first session opens.
	Init func() error

	// Tuning holds process attributes and search paths.
	Tuning props.Tuning

	// ShellDirs are searched for shell images before
	// Tuning.LibraryPath.  Defaults to /usr/lib/ and /vendor/dsp/.
	ShellDirs []string

	// Mapper reserves address space for RegisterFD.
	Mapper Mapper

	// Clock drives QoS timing.  Defaults to the wall clock.
	Clock clock.Clock

	// Logger receives diagnostics.  Defaults to the standard
	// logger.
	Logger *logrus.Logger
}

type state int

const (
	stateClosed state = iota
	stateOpening
	stateReady
	stateClosing
)

func (s state) String() string {
	return [...]string{"closed", "opening", "ready", "closing"}[s]
}

// Default parameters of remote threads.
const (
	DefaultThreadPriority  = 0xC0
	DefaultThreadStackSize = 16 * 1024
)

type threadParams struct {
	prio, stack int
	set         bool
}

// Domain is the record for one domain slot.
type Domain struct {
	id  remote.DomainID
	mgr *Manager

	// initLock serializes session creation and teardown.
	initLock sync.Mutex

	lock             sync.Mutex
	state            state
	dev              Device
	session          *Session
	attached         bool
	hooks            []SessionHook
	mode             AttachMode
	staticName       string
	handles          map[LocalHandle]*handleRecord
	domainSupport    bool
	nonDomainSupport bool
	thread           threadParams
	unsignedModule   bool
	procAttrs        uint32
	setMode          bool
	modeValue        uint32
	cpHandle         LocalHandle

	// pendingOpens counts Opens between session lookup and handle
	// allocation.  A last-handle Close seen meanwhile sets
	// closeDeferred and leaves the teardown to the last of them.
	pendingOpens  int
	closeDeferred bool

	qos qos

	invokes uint64
	opens   uint64
}

// ID returns the domain's identifier.
func (d *Domain) ID() remote.DomainID { return d.id }

// Manager owns every domain record and the process-wide registration
// tables.
type Manager struct {
	cfg     Config
	log     *logrus.Logger
	clock   clock.Clock
	domains [remote.NumDomainsExtend]*Domain
	fds     *FDList
	dma     *DMATable

	initOnce sync.Once
	initErr  error

	handleLock sync.Mutex
	handles    map[LocalHandle]*handleRecord
	nextHandle uint64

	closed int32
}

// NewManager creates a manager with every domain closed.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:        cfg,
		log:        cfg.Logger,
		clock:      cfg.Clock,
		fds:        NewFDList(cfg.Mapper),
		dma:        NewDMATable(),
		handles:    make(map[LocalHandle]*handleRecord),
		nextHandle: firstLocalHandle,
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.cfg.ShellDirs == nil {
		m.cfg.ShellDirs = []string{"/usr/lib/", "/vendor/dsp/"}
	}
	for i := range m.domains {
		id := remote.DomainID(i)
		m.domains[i] = &Domain{
			id:      id,
			mgr:     m,
			mode:    defaultAttach(id),
			handles: make(map[LocalHandle]*handleRecord),
			thread:  threadParams{prio: DefaultThreadPriority, stack: DefaultThreadStackSize},
		}
		m.domains[i].qos.init(m.domains[i])
	}
	return m
}

// FDs returns the fd registration list.
func (m *Manager) FDs() *FDList { return m.fds }

// DMA returns the DMA handle table.
func (m *Manager) DMA() *DMATable { return m.dma }

// Domain returns the record for id.
func (m *Manager) Domain(id remote.DomainID) (*Domain, error) {
	if !id.Valid() {
		return nil, remote.ErrInvalidDomain
	}
	return m.domains[id], nil
}

func (d *Domain) logger() *logrus.Entry {
	return d.mgr.log.WithField("domain", d.id.String())
}

// ready returns the live session, or nil.
func (d *Domain) ready() *Session {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.state == stateReady {
		return d.session
	}
	return nil
}

// OpenDev returns the session for id, creating it if needed.
func (m *Manager) OpenDev(id remote.DomainID) (*Session, error) {
	d, err := m.Domain(id)
	if err != nil {
		return nil, err
	}
	m.initOnce.Do(func() {
		if m.cfg.Init != nil {
			m.initErr = m.cfg.Init()
		}
	})
	if m.initErr != nil {
		return nil, m.initErr
	}
	if s := d.ready(); s != nil {
		return s, nil
	}

	d.initLock.Lock()
	defer d.initLock.Unlock()
	if s := d.ready(); s != nil {
		return s, nil
	}
	if atomic.LoadInt32(&m.closed) != 0 {
		return nil, remote.ErrBadState
	}
	s, err := d.open()
	if err != nil {
		d.logger().WithError(err).Error("session open failed")
		d.deinit()
		return nil, remote.DomainError{Domain: id, Op: "open", Err: err}
	}
	return s, nil
}

// open creates the session.  Must hold initLock.
func (d *Domain) open() (*Session, error) {
	dev, err := d.mgr.cfg.Opener.Open(d.id)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: d.id, d: d, dev: dev}
	d.lock.Lock()
	d.state = stateOpening
	d.dev = dev
	d.session = s
	mode, staticName := d.mode, d.staticName
	setMode, modeValue := d.setMode, d.modeValue
	d.lock.Unlock()

	if setMode {
		if err := dev.Control(&ControlRequest{Kind: ControlSetMode, Mode: modeValue}); err != nil {
			return nil, err
		}
	}
	if err := d.attach(dev, mode, staticName); err != nil {
		return nil, err
	}
	d.lock.Lock()
	d.attached = true
	d.lock.Unlock()

	cp := d.mgr.allocHandle(d, remote.CurrentProcessHandle)
	d.lock.Lock()
	d.cpHandle = cp
	d.lock.Unlock()

	for _, hook := range d.mgr.cfg.Hooks {
		if err := hook.SessionOpened(s); err != nil {
			return nil, err
		}
		d.lock.Lock()
		d.hooks = append(d.hooks, hook)
		d.lock.Unlock()
	}

	d.lock.Lock()
	tp := d.thread
	d.lock.Unlock()
	if tp.set {
		err := remotectl.Client{Invoker: s}.SetParam(remotectl.ParamThreadParams, uint32(tp.prio), uint32(tp.stack))
		if err != nil {
			d.logger().WithError(err).Warn("setting remote thread parameters")
		}
	}

	d.lock.Lock()
	d.state = stateReady
	d.lock.Unlock()
	atomic.AddUint64(&d.opens, 1)
	d.logger().WithField("mode", mode.String()).Debug("session open")
	return s, nil
}

func (d *Domain) attach(dev Device, mode AttachMode, staticName string) error {
	switch mode {
	case GuestOS, GuestOSShared, SensorsPD:
		return dev.InitAttach(mode)
	case StaticPD:
		return dev.InitCreateStatic(&CreateStaticRequest{Name: staticName})
	}
	return d.createUserPD(dev)
}

func (d *Domain) shellName() string {
	d.lock.Lock()
	unsigned := d.unsignedModule
	d.lock.Unlock()
	name := "fastrpc_shell_"
	if unsigned {
		name = "fastrpc_shell_unsigned_"
	}
	return name + strconv.Itoa(int(d.id.Base()))
}

// findFile looks for name in the shell directories, then the library
// path.
func (m *Manager) findFile(name string, shellDirs bool) ([]byte, error) {
	var dirs []string
	if shellDirs {
		dirs = append(dirs, m.cfg.ShellDirs...)
	}
	dirs = append(dirs, m.cfg.Tuning.SearchPath()...)
	for _, dir := range dirs {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return data, nil
		}
	}
	return nil, os.ErrNotExist
}

func (d *Domain) processAttrs() uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	attrs := d.mgr.cfg.Tuning.ProcessAttrs
	if d.qos.adaptiveEnabled() {
		attrs |= AttrAdaptiveQoS
	}
	if d.unsignedModule {
		attrs |= AttrUnsignedModule
	}
	return attrs
}

func (d *Domain) createUserPD(dev Device) error {
	log := d.logger()
	attrs := d.processAttrs()
	d.lock.Lock()
	d.procAttrs = attrs
	d.lock.Unlock()

	req := &CreateRequest{Attrs: attrs}
	if d.id.Base() == remote.MDSP {
		return dev.InitCreate(req)
	}
	image, err := d.mgr.findFile(d.shellName(), true)
	if err != nil {
		log.WithField("shell", d.shellName()).Warn("shell image not found, creating without one")
		return dev.InitCreate(req)
	}
	var sig []byte
	if attrs&AttrDebug != 0 && d.mgr.cfg.Tuning.TestSig != "" {
		if sig, err = d.mgr.findFile(d.mgr.cfg.Tuning.TestSig, false); err != nil {
			log.WithField("testsig", d.mgr.cfg.Tuning.TestSig).Warn("test signature not found")
			sig = nil
		}
	}
	buf, err := dev.Alloc(len(image) + len(sig))
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Free(buf); err != nil {
			log.WithError(err).Warn("freeing shell buffer")
		}
	}()
	copy(buf.Data, image)
	copy(buf.Data[len(image):], sig)
	req.File = buf
	req.FileLen = len(image) + len(sig)
	req.SigLen = len(sig)
	if err := dev.InitCreate(req); err != nil {
		return err
	}
	log.WithField("attrs", attrs).Debug("created user process domain")
	return nil
}

// closeSession tears the session down if one is open.
func (d *Domain) closeSession() {
	d.initLock.Lock()
	defer d.initLock.Unlock()
	d.deinit()
}

// deinit tears down everything the session owns and resets the
// record.  Must hold initLock.
func (d *Domain) deinit() {
	d.lock.Lock()
	dev, s, attached, hooks := d.dev, d.session, d.attached, d.hooks
	if dev == nil {
		d.lock.Unlock()
		return
	}
	d.state = stateClosing
	d.lock.Unlock()

	log := d.logger()
	if attached {
		if err := (remotectl.ProcessClient{Invoker: s}).Exit(); err != nil {
			log.WithError(err).Debug("process exit notification")
		}
	}
	d.qos.deinit()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].SessionClosing(s)
	}
	if err := dev.Close(); err != nil {
		log.WithError(err).Warn("closing device")
	}

	d.lock.Lock()
	dropped := d.handles
	d.handles = make(map[LocalHandle]*handleRecord)
	d.dev = nil
	d.session = nil
	d.attached = false
	d.hooks = nil
	d.domainSupport = false
	d.nonDomainSupport = false
	d.mode = defaultAttach(d.id)
	d.staticName = ""
	d.cpHandle = 0
	d.procAttrs = 0
	d.closeDeferred = false
	d.state = stateClosed
	d.lock.Unlock()

	d.mgr.forgetHandles(dropped)
	log.Debug("session closed")
}

// CloseDomain tears down the session of one domain, if it has one.
// The next use of the domain opens a fresh session.
func (m *Manager) CloseDomain(id remote.DomainID) error {
	d, err := m.Domain(id)
	if err != nil {
		return err
	}
	d.closeSession()
	return nil
}

// Shutdown tears down every domain.  Later opens fail.
func (m *Manager) Shutdown() {
	atomic.StoreInt32(&m.closed, 1)
	for _, d := range m.domains {
		d.closeSession()
	}
}

// domainFromURI reads the _dom and _session parameters of a module
// URI.  Without _dom the default domain is used.
func domainFromURI(uri string) (remote.DomainID, error) {
	id := remote.DefaultDomain
	if v, ok := uriParam(uri, "_dom"); ok {
		var err error
		if id, err = remote.ParseDomain(v); err != nil {
			return id, err
		}
	}
	if v, ok := uriParam(uri, "_session"); ok && v == "1" {
		id |= remote.SessionBit
	}
	return id, nil
}

func uriParam(uri, key string) (string, bool) {
	needle := "&" + key + "="
	i := strings.Index(uri, needle)
	if i < 0 {
		return "", false
	}
	v := uri[i+len(needle):]
	if j := strings.IndexByte(v, '&'); j >= 0 {
		v = v[:j]
	}
	return v, true
}
