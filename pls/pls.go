// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package pls provides process-local storage: lazily constructed
// singletons keyed by a type tag and a key, destroyed together in
// reverse registration order when the storage is closed.
//
// Constructors run outside the storage lock, so a constructor may
// itself use the same storage.  When several goroutines race in
// AddOrLookup exactly one constructed value is published; the
// losers' values are destroyed as soon as they lose.
package pls

import (
	"errors"
	"sync"
)

// ErrClosed is returned when adding to a storage that has been closed.
var ErrClosed = errors.New("pls: storage closed")

// Ctor builds a new value.  ctx is passed through from the caller.
type Ctor func(ctx interface{}) (interface{}, error)

// Dtor releases a value built by a Ctor.  It may be nil.
type Dtor func(value interface{})

// Key identifies an entry.  Both fields must be comparable.
type Key struct {
	Type interface{}
	Key  interface{}
}

type entry struct {
	key   Key
	value interface{}
	dtor  Dtor
}

// Storage is a set of process-local values.
type Storage struct {
	lock    sync.Mutex
	entries []*entry
	index   map[Key]*entry
	closed  bool
}

// New creates an empty storage.
func New() *Storage {
	return &Storage{index: make(map[Key]*entry)}
}

// Add constructs a value and registers it under (typ, key).  A newer
// entry shadows an older one for lookups; both are destroyed at
// close.
func (s *Storage) Add(typ, key interface{}, ctor Ctor, ctx interface{}, dtor Dtor) (interface{}, error) {
	value, err := ctor(ctx)
	if err != nil {
		return nil, err
	}
	e := &entry{key: Key{typ, key}, value: value, dtor: dtor}
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		destroy(e)
		return nil, ErrClosed
	}
	s.entries = append(s.entries, e)
	s.index[e.key] = e
	s.lock.Unlock()
	return value, nil
}

// AddOrLookup returns the value registered under (typ, key),
// constructing and registering it if there is none.  Concurrent
// callers all receive the same value.
func (s *Storage) AddOrLookup(typ, key interface{}, ctor Ctor, ctx interface{}, dtor Dtor) (interface{}, error) {
	k := Key{typ, key}
	if value, ok := s.lookup(k); ok {
		return value, nil
	}
	value, err := ctor(ctx)
	if err != nil {
		return nil, err
	}
	e := &entry{key: k, value: value, dtor: dtor}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		destroy(e)
		return nil, ErrClosed
	}
	if winner, ok := s.index[k]; ok {
		s.lock.Unlock()
		destroy(e)
		return winner.value, nil
	}
	s.entries = append(s.entries, e)
	s.index[k] = e
	s.lock.Unlock()
	return value, nil
}

// Lookup returns the newest value registered under (typ, key).
func (s *Storage) Lookup(typ, key interface{}) (interface{}, bool) {
	return s.lookup(Key{typ, key})
}

func (s *Storage) lookup(k Key) (interface{}, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if e, ok := s.index[k]; ok {
		return e.value, true
	}
	return nil, false
}

// Len returns the number of registered entries.
func (s *Storage) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

// Close runs every destructor once, newest entry first.  Further adds
// fail with ErrClosed; Close itself is idempotent.
func (s *Storage) Close() {
	s.lock.Lock()
	entries := s.entries
	s.entries = nil
	s.index = make(map[Key]*entry)
	s.closed = true
	s.lock.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		destroy(entries[i])
	}
}

func destroy(e *entry) {
	if e.dtor != nil {
		e.dtor(e.value)
	}
}

// Get is a typed AddOrLookup.
func Get[T any](s *Storage, typ, key interface{}, ctor func() (T, error), dtor func(T)) (T, error) {
	var d Dtor
	if dtor != nil {
		d = func(v interface{}) { dtor(v.(T)) }
	}
	v, err := s.AddOrLookup(typ, key, func(interface{}) (interface{}, error) {
		return ctor()
	}, nil, d)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

var process struct {
	sync.Mutex
	storage *Storage
}

// Process returns the process-wide storage.
func Process() *Storage {
	process.Lock()
	defer process.Unlock()
	if process.storage == nil {
		process.storage = New()
	}
	return process.storage
}

// CloseProcess tears down the process-wide storage.  The next call
// to Process starts a fresh one.
func CloseProcess() {
	process.Lock()
	s := process.storage
	process.storage = nil
	process.Unlock()
	if s != nil {
		s.Close()
	}
}
