package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/engine"
	"github.com/chazu/modhook/symbol"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func tickClass(t *testing.T) []byte {
	t.Helper()
	c := classfile.NewClass("demo/World", "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	tick := classfile.NewMethod(classfile.AccPublic, "tick", "()V")
	tick.Code.Append(classfile.Op(classfile.OpReturn))
	if err := c.AddMethod(tick); err != nil {
		t.Fatal(err)
	}
	data, err := c.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestTransformCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "modhook.toml"), []byte(`
[project]
name = "cli"

[[event]]
name = "world.tick"
bridge = true

[[hook]]
event = "world.tick"
class = "demo/World"
method = "tick"
`))
	in := tickClass(t)
	input := filepath.Join(dir, "World.class")
	writeFile(t, input, in)
	out := filepath.Join(dir, "out", "World.class")
	report := filepath.Join(dir, "report.cbor")

	if err := handleTransformCommand([]string{"-config", dir, "-o", out, "-report", report, input}); err != nil {
		t.Fatalf("transform: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(got, in) {
		t.Error("class was not rewritten")
	}
	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	r, err := engine.ReadReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if r.Project != "cli" || len(r.Classes) != 1 || r.Classes[0].Result != engine.ResultTransformed {
		t.Errorf("report = %+v", r)
	}
}

func TestTransformCommandWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "World.class")
	writeFile(t, input, tickClass(t))
	if err := handleTransformCommand([]string{"-config", dir, input}); err == nil {
		t.Error("transform without modhook.toml succeeded")
	}
}

func TestSymbolsCommand(t *testing.T) {
	dir := t.TempDir()
	mapping := filepath.Join(dir, "client.toml")
	writeFile(t, mapping, []byte(`
[[class]]
logical = "World"
stable = "demo/World"
raw = "w"

[[method]]
owner = "World"
logical = "tick"
stable = "tick"
raw = "a"
`))
	cache := filepath.Join(dir, ".modhook", "symbols.cbor")
	if err := handleSymbolsCommand([]string{"-o", cache, "-profile", "raw", mapping}); err != nil {
		t.Fatalf("symbols: %v", err)
	}
	data, err := os.ReadFile(cache)
	if err != nil {
		t.Fatal(err)
	}
	tab, err := symbol.LoadCBOR(data)
	if err != nil {
		t.Fatal(err)
	}
	s, err := tab.Resolve("World.tick")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name(symbol.Raw) != "a" {
		t.Errorf("raw name = %q, want a", s.Name(symbol.Raw))
	}
}

func TestDumpAndGraphCommands(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "World.class")
	writeFile(t, input, tickClass(t))

	if err := handleDumpCommand([]string{"-method", "tick", input}); err != nil {
		t.Errorf("dump: %v", err)
	}
	if err := handleDumpCommand([]string{"-method", "missing", input}); err == nil {
		t.Error("dump of a missing method succeeded")
	}
	out := filepath.Join(dir, "tick.dot")
	if err := handleGraphCommand([]string{"-method", "tick", "-o", out, input}); err != nil {
		t.Fatalf("graph: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Errorf("graph output missing: %v", err)
	}
}
