package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chazu/modhook/event"
	"github.com/chazu/modhook/inject"
	"github.com/chazu/modhook/manifest"
	"github.com/chazu/modhook/point"
	"github.com/chazu/modhook/symbol"
)

// ---------------------------------------------------------------------------
// Manifest wiring
// ---------------------------------------------------------------------------

// FromManifest builds an engine from a loaded modhook.toml: symbol table,
// events and packet events with their callbacks, hooks and accessor
// interfaces.
func FromManifest(m *manifest.Manifest, registerer prometheus.Registerer) (*Engine, error) {
	profile, err := symbol.ParseProfile(m.Symbols.Profile)
	if err != nil {
		return nil, err
	}
	table, err := LoadTable(m)
	if err != nil {
		return nil, err
	}
	e, err := New(Options{
		Project: m.Project.Name,
		Profile: profile,
		Table:   table,
		Layout: inject.Layout{
			ContextClass: m.Runtime.ContextClass,
			BridgeOwner:  m.Runtime.BridgeOwner,
		},
		Registerer: registerer,
	})
	if err != nil {
		return nil, err
	}
	if err := e.Configure(m); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadTable loads the manifest's symbol cache when it exists, otherwise
// its mapping files in order.
func LoadTable(m *manifest.Manifest) (*symbol.Table, error) {
	t := symbol.NewTable()
	if cache := m.CachePath(); cache != "" {
		err := t.LoadFile(cache)
		if err == nil {
			log.Infof("symbol cache %s: %d symbols", cache, t.Len())
			return t, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		log.Debugf("no symbol cache at %s, reading mappings", cache)
	}
	for _, path := range m.MappingPaths() {
		if err := t.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Configure declares the manifest's events and packets and adds its hooks
// and accessors.
func (e *Engine) Configure(m *manifest.Manifest) error {
	bridge := e.injector.Layout().Bridge()
	for _, ec := range m.Events {
		ev, err := e.Declare(ec.Name, ec.Cancellable, ec.Priority)
		if err != nil {
			return err
		}
		for _, cb := range ec.Callbacks {
			ev.AddListener(event.CallbackRef{Owner: cb.Owner, Name: cb.Name, Desc: cb.Desc, Priority: cb.Priority})
		}
		if ec.Bridge {
			ev.AddListener(bridge)
		}
	}
	for _, base := range m.Packets.Names {
		ev, err := e.registry.Packet(base)
		if err != nil {
			return err
		}
		if m.Packets.Bridge {
			ev.AddListener(bridge)
		}
	}
	for i, hc := range m.Hooks {
		spec, err := e.hookSpec(hc)
		if err != nil {
			return fmt.Errorf("hook %d (%s): %w", i, hc.Event, err)
		}
		if _, err := e.Hook(spec); err != nil {
			return fmt.Errorf("hook %d (%s): %w", i, hc.Event, err)
		}
	}
	for _, path := range m.AccessorPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := e.LoadAccessor(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func (e *Engine) hookSpec(hc manifest.Hook) (HookSpec, error) {
	strategy, err := e.Strategy(hc.Point)
	if err != nil {
		return HookSpec{}, err
	}
	if hc.Following != nil {
		anchor, err := e.Strategy(*hc.Following)
		if err != nil {
			return HookSpec{}, fmt.Errorf("following: %w", err)
		}
		strategy = point.Following{Anchor: anchor, Inner: strategy}
	}
	spec := HookSpec{
		Event:       hc.Event,
		Class:       hc.Class,
		Method:      hc.Method,
		Desc:        hc.Desc,
		Point:       strategy,
		CaptureThis: hc.CaptureThis,
		Required:    hc.Required,
	}
	for _, c := range hc.Locals {
		spec.Locals = append(spec.Locals, inject.Capture{Slot: c.Slot, Desc: c.Desc})
	}
	if hc.PacketLocal != nil {
		spec.PacketFromLocal = true
		spec.PacketLocal = *hc.PacketLocal
	}
	return spec, nil
}

// Strategy builds the injection point a manifest point describes.
func (e *Engine) Strategy(p manifest.Point) (point.Strategy, error) {
	ordinal := point.All
	if p.Ordinal != nil {
		ordinal = *p.Ordinal
	}
	var owner *symbol.Symbol
	if p.Owner != "" {
		var err error
		if owner, err = e.classSymbol(p.Owner); err != nil {
			return nil, err
		}
	}
	var descs []string
	for _, d := range p.Desc {
		descs = append(descs, e.table.DescCandidates(d)...)
	}

	var s point.Strategy
	switch p.At {
	case "", "head":
		s = point.MethodHead{}
	case "return":
		s = point.BeforeReturn{Ordinal: ordinal}
	case "invoke":
		name, err := e.memberRef(p.Target, symbol.Method)
		if err != nil {
			return nil, err
		}
		s = point.BeforeInvoke{Name: name, Owner: owner, Desc: descs, Ordinal: ordinal}
	case "field":
		name, err := e.memberRef(p.Target, symbol.Field)
		if err != nil {
			return nil, err
		}
		access := point.Any
		switch p.Access {
		case "read":
			access = point.Read
		case "write":
			access = point.Write
		}
		s = point.BeforeFieldAccess{Name: name, Owner: owner, Desc: descs, Access: access, Ordinal: ordinal}
	case "new":
		typ, err := e.classSymbol(p.Target)
		if err != nil {
			return nil, err
		}
		s = point.BeforeNew{Type: typ, Ordinal: ordinal}
	default:
		return nil, fmt.Errorf("unknown injection point %q", p.At)
	}
	if p.After {
		s = point.After{Inner: s}
	}
	return s, nil
}
