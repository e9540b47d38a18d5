// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package props looks up named tuning properties.  Properties come
// from a property file (YAML or TOML, nested keys joined with dots),
// a plain map, or the environment, and are decoded once into a typed
// Tuning value.
package props

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v2"
)

// Store looks up a property by name.
type Store interface {
	Get(name string) (string, bool)
}

// Map is an in-memory Store.
type Map map[string]string

// Get implements Store.
func (m Map) Get(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Env reads process environment variables.
type Env struct{}

// Get implements Store.
func (Env) Get(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Chain consults each store in turn and returns the first hit.
type Chain []Store

// Get implements Store.
func (c Chain) Get(name string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

// LoadFile reads a property file.  Files named *.toml are parsed as
// TOML, anything else as YAML.
func LoadFile(path string) (Map, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(bytes), &tree); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		var raw map[interface{}]interface{}
		if err := yaml.Unmarshal(bytes, &raw); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		tree = stringKeys(raw)
	}
	m := make(Map)
	flatten(m, "", tree)
	return m, nil
}

func stringKeys(raw map[interface{}]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if sub, ok := v.(map[interface{}]interface{}); ok {
			v = stringKeys(sub)
		}
		out[fmt.Sprint(k)] = v
	}
	return out
}

func flatten(dst Map, prefix string, tree map[string]interface{}) {
	for k, v := range tree {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		if sub, ok := v.(map[string]interface{}); ok {
			flatten(dst, name, sub)
			continue
		}
		dst[name] = fmt.Sprint(v)
	}
}

// Names returns the sorted property names in m.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Tuning collects the knobs the transport reads at start-up.
type Tuning struct {
	// ProcessAttrs is the attribute word sent when a user process
	// domain is created.
	ProcessAttrs uint32 `mapstructure:"process_attrs"`

	// Trace turns on per-call debug logging.
	Trace bool `mapstructure:"trace"`

	// TestSig names a test signature file, looked up on the
	// library path, appended to the shell image in debug mode.
	TestSig string `mapstructure:"testsig"`

	// LibraryPath is a ';' separated search path for shell images.
	LibraryPath string `mapstructure:"library_path"`

	// ListenerMinCache is the smallest buffer the listener keeps
	// between requests.
	ListenerMinCache int `mapstructure:"listener_min_cache"`

	// HeapFlags is passed with every shared buffer allocation.
	HeapFlags uint32 `mapstructure:"heap_flags"`
}

type tuningKey struct {
	field    string
	property string
	env      string
}

// A property, when set, wins over its environment variable.
var tuningKeys = []tuningKey{
	{"process_attrs", "vendor.fastrpc.process.attrs", "ADSP_PROCESS_ATTRS"},
	{"trace", "vendor.fastrpc.debug.trace", ""},
	{"testsig", "vendor.fastrpc.debug.testsig", ""},
	{"library_path", "vendor.fastrpc.library.path", "ADSP_LIBRARY_PATH"},
	{"listener_min_cache", "vendor.fastrpc.listener.cache", "ADSP_LISTENER_MEM_CACHE_SIZE"},
	{"heap_flags", "vendor.fastrpc.heap.flags", "RPCMEM_HEAP_FLAGS"},
}

// LoadTuning decodes Tuning from properties, falling back to env for
// anything the properties do not set.  Either store may be nil.
func LoadTuning(properties, env Store) (Tuning, error) {
	raw := make(map[string]interface{})
	for _, k := range tuningKeys {
		if v, ok := lookup(properties, k.property); ok {
			raw[k.field] = v
		} else if v, ok := lookup(env, k.env); ok {
			raw[k.field] = v
		}
	}
	var t Tuning
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &t,
	})
	if err != nil {
		return t, err
	}
	if err := decoder.Decode(raw); err != nil {
		return t, fmt.Errorf("props: %w", err)
	}
	return t, nil
}

func lookup(s Store, name string) (string, bool) {
	if s == nil || name == "" {
		return "", false
	}
	v, ok := s.Get(name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SearchPath splits LibraryPath into directories.
func (t Tuning) SearchPath() []string {
	var dirs []string
	for _, d := range strings.Split(t.LibraryPath, ";") {
		if d = strings.TrimSpace(d); d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}
