package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/engine"
	"github.com/chazu/modhook/manifest"
)

// loadEngine finds modhook.toml from dir upwards and builds an engine.
func loadEngine(dir string, reg prometheus.Registerer) (*engine.Engine, *manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return nil, nil, errors.New("no modhook.toml found")
	}
	e, err := engine.FromManifest(m, reg)
	if err != nil {
		return nil, nil, err
	}
	return e, m, nil
}

// handleTransformCommand processes the `modhook transform` subcommand.
// Usage:
//
//	modhook transform client.jar                 # build/client.jar
//	modhook transform -o out.class Player.class
func handleTransformCommand(args []string) error {
	fs := flag.NewFlagSet("transform", flag.ExitOnError)
	config := fs.String("config", ".", "directory to search upwards for modhook.toml")
	output := fs.String("o", "", "output path (default: <output dir>/<input name>)")
	report := fs.String("report", "", "write a CBOR report (default: [output].report)")
	metrics := fs.Bool("metrics", false, "print engine metrics when done")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("transform takes exactly one input file")
	}
	input := fs.Arg(0)

	reg := prometheus.NewRegistry()
	e, m, err := loadEngine(*config, reg)
	if err != nil {
		return err
	}
	out := *output
	if out == "" {
		out = filepath.Join(m.OutputDir(), filepath.Base(input))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(input)) {
	case ".jar", ".zip":
		err = transformJar(e, input, out)
	case ".class":
		err = transformClass(e, input, out)
	default:
		err = fmt.Errorf("unsupported input %s", input)
	}
	if err != nil {
		return err
	}
	e.Seal()

	if path := *report; path != "" || m.ReportPath() != "" {
		if path == "" {
			path = m.ReportPath()
		}
		var buf bytes.Buffer
		if err := e.WriteReport(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return err
		}
	}
	if *metrics {
		printMetrics(reg)
	}
	return nil
}

func transformJar(e *engine.Engine, input, out string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	stats, err := e.TransformArchive(in, info.Size(), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d entries, %d classes, %d transformed -> %s\n", input, stats.Entries, stats.Classes, stats.Transformed, out)
	return nil
}

func transformClass(e *engine.Engine, input, out string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	cls, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}
	result, err := e.Transform(cls.Name, data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, result, 0644); err != nil {
		return err
	}
	state := "unchanged"
	if !bytes.Equal(result, data) {
		state = "transformed"
	}
	fmt.Printf("%s: %s -> %s\n", cls.Name, state, out)
	return nil
}

func printMetrics(reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: gathering metrics: %v\n", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range m.GetLabel() {
				name += fmt.Sprintf("{%s=%q}", l.GetName(), l.GetValue())
			}
			value := m.GetGauge().GetValue()
			if c := m.GetCounter(); c != nil {
				value = c.GetValue()
			}
			fmt.Printf("%s %g\n", name, value)
		}
	}
}
