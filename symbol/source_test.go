package symbol

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const mappingTOML = `
[[class]]
logical = "Minecraft"
stable = "net/minecraft/client/Minecraft"
intermediate = "net/minecraft/src/Minecraft"
raw = "bao"

[[class]]
logical = "World"
stable = "net/minecraft/world/World"
raw = "xd"

[[method]]
owner = "Minecraft"
logical = "runTick"
desc = "()V"
stable = "runTick"
intermediate = "func_71407_l"
raw = "k"

[[field]]
owner = "Minecraft"
logical = "theWorld"
desc = "LWorld;"
stable = "theWorld"
raw = "f"
`

const mappingJSON = `{
  "classes": [
    {"logical": "Minecraft", "names": {"stable": "net/minecraft/client/Minecraft", "intermediate": "net/minecraft/src/Minecraft", "raw": "bao"}},
    {"logical": "World", "names": {"stable": "net/minecraft/world/World", "raw": "xd"}}
  ],
  "fields": [
    {"owner": "Minecraft", "logical": "theWorld", "desc": "LWorld;", "names": {"stable": "theWorld", "raw": "f"}}
  ],
  "methods": [
    {"owner": "Minecraft", "logical": "runTick", "desc": "()V", "names": {"stable": "runTick", "intermediate": "func_71407_l", "raw": "k"}}
  ]
}`

func candidateMap(tab *Table) map[string][]string {
	out := make(map[string][]string)
	for _, s := range tab.Symbols() {
		out[s.Key()] = s.Candidates()
	}
	return out
}

func TestSourcesAgree(t *testing.T) {
	fromTOML := NewTable()
	if err := fromTOML.LoadTOML([]byte(mappingTOML)); err != nil {
		t.Fatalf("LoadTOML: %v", err)
	}
	fromJSON := NewTable()
	if err := fromJSON.LoadJSON([]byte(mappingJSON)); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	data, err := fromTOML.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	fromCBOR, err := LoadCBOR(data)
	if err != nil {
		t.Fatalf("LoadCBOR: %v", err)
	}

	want := candidateMap(fromTOML)
	if len(want) != 4 {
		t.Fatalf("TOML table has %d symbols, want 4", len(want))
	}
	if got := candidateMap(fromJSON); !reflect.DeepEqual(got, want) {
		t.Errorf("JSON table = %v, want %v", got, want)
	}
	if got := candidateMap(fromCBOR); !reflect.DeepEqual(got, want) {
		t.Errorf("CBOR table = %v, want %v", got, want)
	}

	again, err := fromCBOR.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(data, again) {
		t.Error("canonical cache encoding is not deterministic")
	}

	f, err := fromJSON.Resolve("Minecraft.theWorld")
	if err != nil || f.Kind != Field || f.Desc != "LWorld;" {
		t.Errorf("theWorld = %v, %v", f, err)
	}
}

func TestSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		load func(*Table) error
		want error
	}{
		{"bad toml", func(t *Table) error { return t.LoadTOML([]byte("[[class]\n")) }, ErrBadMapping},
		{"bad json", func(t *Table) error { return t.LoadJSON([]byte("{")) }, ErrBadMapping},
		{"orphan member", func(t *Table) error {
			return t.LoadJSON([]byte(`{"methods": [{"owner": "Nope", "logical": "x", "names": {"stable": "x"}}]}`))
		}, ErrUnknownSymbol},
		{"no names", func(t *Table) error {
			return t.LoadTOML([]byte("[[class]]\nlogical = \"Ghost\"\n"))
		}, ErrNoCandidates},
		{"bad cache", func(t *Table) error { _, err := LoadCBOR([]byte{0xff}); return err }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.load(NewTable())
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "names.toml")
	if err := os.WriteFile(tomlPath, []byte(mappingTOML), 0o644); err != nil {
		t.Fatal(err)
	}
	tab := NewTable()
	if err := tab.LoadFile(tomlPath); err != nil {
		t.Fatal(err)
	}
	data, err := tab.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	cachePath := filepath.Join(dir, "names.cbor")
	if err := os.WriteFile(cachePath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cached := NewTable()
	if err := cached.LoadFile(cachePath); err != nil {
		t.Fatal(err)
	}
	if cached.Len() != tab.Len() {
		t.Errorf("cached Len = %d, want %d", cached.Len(), tab.Len())
	}
	if err := NewTable().LoadFile(filepath.Join(dir, "names.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}
