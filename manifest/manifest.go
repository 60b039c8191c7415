// Package manifest handles modhook.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "modhook.toml"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid manifest")

// Manifest represents a modhook.toml project configuration.
type Manifest struct {
	Project   Project     `toml:"project"`
	Symbols   Symbols     `toml:"symbols"`
	Runtime   Runtime     `toml:"runtime"`
	Output    Output      `toml:"output"`
	Packets   PacketTable `toml:"packets"`
	Accessors Accessors   `toml:"accessors"`
	Events    []Event     `toml:"event"`
	Hooks     []Hook      `toml:"hook"`

	// Dir is the directory containing the modhook.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Symbols configures the symbol table.
type Symbols struct {
	// Profile is the naming profile of the host build.
	Profile  string   `toml:"profile"`
	Mappings []string `toml:"mappings"`
	// Cache is a compiled CBOR table. When the file exists it is loaded
	// instead of the mapping files.
	Cache string `toml:"cache"`
}

// Runtime names the host-side classes the injected code calls.
type Runtime struct {
	ContextClass string `toml:"context-class"`
	BridgeOwner  string `toml:"bridge-owner"`
}

// Output configures transform output.
type Output struct {
	Dir    string `toml:"dir"`
	Report string `toml:"report"`
}

// PacketTable lists packet event base names in index order.
type PacketTable struct {
	Names  []string `toml:"names"`
	Bridge bool     `toml:"bridge"`
}

// Accessors lists compiled accessor interfaces.
type Accessors struct {
	Interfaces []string `toml:"interfaces"`
}

// Event declares one event.
type Event struct {
	Name        string     `toml:"name"`
	Cancellable bool       `toml:"cancellable"`
	Priority    int        `toml:"priority"`
	Bridge      bool       `toml:"bridge"`
	Callbacks   []Callback `toml:"callback"`
}

// Callback is a static host method invoked at every site of an event.
type Callback struct {
	Owner    string `toml:"owner"`
	Name     string `toml:"name"`
	Desc     string `toml:"desc"`
	Priority int    `toml:"priority"`
}

// Hook places one event into one target method.
type Hook struct {
	Event  string `toml:"event"`
	Class  string `toml:"class"`
	Method string `toml:"method"`
	Desc   string `toml:"desc"`

	Point     Point  `toml:"point"`
	Following *Point `toml:"following"`

	CaptureThis bool      `toml:"capture-this"`
	Locals      []Capture `toml:"locals"`
	PacketLocal *int      `toml:"packet-local"`
	Required    bool      `toml:"required"`
}

// Point selects sites inside the target method.
type Point struct {
	// At is one of head, return, invoke, field, new.
	At string `toml:"at"`
	// Target is the symbol key of the invoked method, accessed field or
	// constructed class.
	Target string   `toml:"target"`
	Owner  string   `toml:"owner"`
	Desc   []string `toml:"desc"`
	// Access is read, write or any (field only).
	Access  string `toml:"access"`
	Ordinal *int   `toml:"ordinal"`
	After   bool   `toml:"after"`
}

// Capture is a local passed to callbacks.
type Capture struct {
	Slot int    `toml:"slot"`
	Desc string `toml:"desc"`
}

// Point kinds.
var pointKinds = map[string]bool{
	"head":   true,
	"return": true,
	"invoke": true,
	"field":  true,
	"new":    true,
}

// Load parses a modhook.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text and applies defaults. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	// Defaults
	if m.Symbols.Profile == "" {
		m.Symbols.Profile = "raw"
	}
	if m.Output.Dir == "" {
		m.Output.Dir = "build"
	}
	for i := range m.Hooks {
		if m.Hooks[i].Point.At == "" {
			m.Hooks[i].Point.At = "head"
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a modhook.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks references between sections. Symbol keys are checked
// later, against the loaded table.
func (m *Manifest) Validate() error {
	events := make(map[string]bool)
	for _, ev := range m.Events {
		if ev.Name == "" {
			return fmt.Errorf("%w: event without a name", ErrInvalid)
		}
		if events[ev.Name] {
			return fmt.Errorf("%w: event %s declared twice", ErrInvalid, ev.Name)
		}
		events[ev.Name] = true
		for _, cb := range ev.Callbacks {
			if cb.Owner == "" || cb.Name == "" || cb.Desc == "" {
				return fmt.Errorf("%w: event %s: callback needs owner, name and desc", ErrInvalid, ev.Name)
			}
		}
	}
	for _, p := range m.Packets.Names {
		events[p] = true
	}
	for i, h := range m.Hooks {
		if !events[h.Event] {
			return fmt.Errorf("%w: hook %d: unknown event %q", ErrInvalid, i, h.Event)
		}
		if h.Class == "" || h.Method == "" {
			return fmt.Errorf("%w: hook %d: class and method are required", ErrInvalid, i)
		}
		if err := h.Point.validate(); err != nil {
			return fmt.Errorf("%w: hook %d: %v", ErrInvalid, i, err)
		}
		if h.Following != nil {
			if err := h.Following.validate(); err != nil {
				return fmt.Errorf("%w: hook %d: following: %v", ErrInvalid, i, err)
			}
		}
		for _, c := range h.Locals {
			if c.Desc == "" || c.Slot < 0 {
				return fmt.Errorf("%w: hook %d: bad local capture %d:%q", ErrInvalid, i, c.Slot, c.Desc)
			}
		}
	}
	return nil
}

func (p *Point) validate() error {
	if !pointKinds[p.At] {
		return fmt.Errorf("unknown point %q", p.At)
	}
	switch p.At {
	case "invoke", "field", "new":
		if p.Target == "" {
			return fmt.Errorf("point %s needs a target", p.At)
		}
	}
	switch p.Access {
	case "", "any", "read", "write":
	default:
		return fmt.Errorf("unknown field access %q", p.Access)
	}
	return nil
}

// path resolves p against the manifest directory.
func (m *Manifest) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// MappingPaths returns absolute paths for the configured mapping files.
func (m *Manifest) MappingPaths() []string {
	var paths []string
	for _, f := range m.Symbols.Mappings {
		paths = append(paths, m.path(f))
	}
	return paths
}

// AccessorPaths returns absolute paths for the accessor interface classes.
func (m *Manifest) AccessorPaths() []string {
	var paths []string
	for _, f := range m.Accessors.Interfaces {
		paths = append(paths, m.path(f))
	}
	return paths
}

// CachePath returns the symbol cache path, or "" when none is configured.
func (m *Manifest) CachePath() string {
	return m.path(m.Symbols.Cache)
}

// OutputDir returns the directory transformed output is written to.
func (m *Manifest) OutputDir() string {
	return m.path(m.Output.Dir)
}

// ReportPath returns the report path, or "" when no report is configured.
func (m *Manifest) ReportPath() string {
	return m.path(m.Output.Report)
}
