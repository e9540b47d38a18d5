// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package modtable

import "plugin"

// Library is a loaded dynamic module.
type Library interface {
	// Lookup finds an exported symbol.
	Lookup(symbol string) (interface{}, error)

	// Close releases the library.
	Close() error
}

// Loader loads dynamic modules by path.
type Loader interface {
	Load(path string) (Library, error)
}

// PluginLoader loads Go plugins.  Go plugins cannot be unloaded, so
// closing one only drops the table's reference.
type PluginLoader struct{}

// Load opens a plugin.
func (PluginLoader) Load(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginLibrary{p}, nil
}

type pluginLibrary struct {
	p *plugin.Plugin
}

func (l pluginLibrary) Lookup(symbol string) (interface{}, error) {
	sym, err := l.p.Lookup(symbol)
	return sym, err
}

func (pluginLibrary) Close() error { return nil }
