package accessor

import (
	"errors"
	"testing"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/diag"
	"github.com/chazu/modhook/symbol"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fixture struct {
	tab    *symbol.Table
	player *symbol.Symbol
	health *symbol.Symbol
	count  *symbol.Symbol
	name   *symbol.Symbol
	heal   *symbol.Symbol
	tick   *symbol.Symbol
}

func newFixture() *fixture {
	tab := symbol.NewTable()
	f := &fixture{tab: tab}
	f.player = tab.MustRegister("Player", symbol.Class, "demo/Player", "", "p")
	f.health = tab.MustRegisterMember(f.player, "health", symbol.Field, "I", "health", "", "hp")
	f.count = tab.MustRegisterMember(f.player, "count", symbol.Field, "I", "count")
	f.name = tab.MustRegisterMember(f.player, "name", symbol.Field, "Ljava/lang/String;", "name")
	f.heal = tab.MustRegisterMember(f.player, "heal", symbol.Method, "(I)I", "heal")
	f.tick = tab.MustRegisterMember(f.player, "tick", symbol.Method, "()V", "tick")
	return f
}

// playerClass is the target, spelled with raw field names.
func playerClass() *classfile.Class {
	c := classfile.NewClass("demo/Player", "java/lang/Object", classfile.AccPublic|classfile.AccSuper)
	c.AddField(classfile.AccPrivate, "hp", "I")
	c.AddField(classfile.AccPrivate|classfile.AccStatic, "count", "I")
	c.AddField(classfile.AccPrivate, "name", "Ljava/lang/String;")

	heal := classfile.NewMethod(classfile.AccPrivate, "heal", "(I)I")
	heal.Code.Append(classfile.VarInsn(classfile.OpIload, 1), classfile.Op(classfile.OpIreturn))
	c.AddMethod(heal)
	tick := classfile.NewMethod(classfile.AccPublic, "tick", "()V")
	tick.Code.Append(classfile.Op(classfile.OpReturn))
	c.AddMethod(tick)
	return c
}

func annotated(pool *classfile.Pool, typ, value string) []classfile.Attribute {
	data := classfile.EncodeAnnotations(pool, []classfile.Annotation{classfile.StringAnnotation(typ, value)})
	return []classfile.Attribute{{Name: classfile.AttrVisibleAnnotations, Data: data}}
}

// accessInterface builds the class file of
//
//	@Target("Player") interface PlayerAccess {
//	    @Accessor("health") int getHealth();
//	    @Accessor void setHealth(int v);
//	    @Accessor("count") int getCount();
//	    @Invoker("heal") int callHeal(int v);
//	    @Invoker("tick") void callTick();
//	    @Accessor("missing") int getMissing();
//	    void helper();
//	}
func accessInterface(t *testing.T, target string) []byte {
	t.Helper()
	c := classfile.NewClass("mods/PlayerAccess", "java/lang/Object",
		classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract)
	if target != "" {
		c.SetAttr(classfile.AttrInvisibleAnnotations,
			classfile.EncodeAnnotations(c.Pool, []classfile.Annotation{classfile.StringAnnotation(TargetAnnotation, target)}))
	}
	methods := []struct {
		name, desc, ann, value string
	}{
		{"getHealth", "()I", AccessorAnnotation, "health"},
		{"setHealth", "(I)V", AccessorAnnotation, ""},
		{"getCount", "()I", AccessorAnnotation, "count"},
		{"callHeal", "(I)I", InvokerAnnotation, "heal"},
		{"callTick", "()V", InvokerAnnotation, "tick"},
		{"getMissing", "()I", AccessorAnnotation, "missing"},
		{"helper", "()V", "", ""},
	}
	for _, m := range methods {
		am := classfile.NewMethod(classfile.AccPublic|classfile.AccAbstract, m.name, m.desc)
		if m.ann != "" {
			am.Attrs = annotated(c.Pool, m.ann, m.value)
		}
		c.AddMethod(am)
	}
	data, err := c.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return data
}

func ops(m *classfile.Method) []classfile.Opcode {
	var out []classfile.Opcode
	for _, in := range m.Code.Insns {
		out = append(out, in.Op)
	}
	return out
}

func equalOps(a, b []classfile.Opcode) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestParseInterface(t *testing.T) {
	f := newFixture()
	iface, err := ParseInterface(accessInterface(t, "Player"), f.tab)
	if err != nil {
		t.Fatal(err)
	}
	if iface.Name != "mods/PlayerAccess" || iface.Target != f.player {
		t.Fatalf("interface %s -> %v", iface.Name, iface.Target)
	}
	want := []struct {
		name   string
		kind   Kind
		member *symbol.Symbol
	}{
		{"getHealth", Getter, f.health},
		{"setHealth", Setter, f.health},
		{"getCount", Getter, f.count},
		{"callHeal", Invoker, f.heal},
		{"callTick", Invoker, f.tick},
		{"getMissing", Getter, nil},
	}
	if len(iface.Methods) != len(want) {
		t.Fatalf("%d methods, want %d", len(iface.Methods), len(want))
	}
	for i, w := range want {
		m := iface.Methods[i]
		if m.Name != w.name || m.Kind != w.kind || m.Member != w.member {
			t.Errorf("method %d = %s %s %v, want %s %s %v", i, m.Name, m.Kind, m.Member, w.name, w.kind, w.member)
		}
	}
}

func TestParseInterfaceErrors(t *testing.T) {
	f := newFixture()
	notIface := classfile.NewClass("mods/Impl", "java/lang/Object", classfile.AccPublic)
	classBytes, _ := notIface.Bytes()

	bad := classfile.NewClass("mods/Bad", "java/lang/Object", classfile.AccPublic|classfile.AccInterface|classfile.AccAbstract)
	bad.SetAttr(classfile.AttrVisibleAnnotations,
		classfile.EncodeAnnotations(bad.Pool, []classfile.Annotation{classfile.StringAnnotation(TargetAnnotation, "Player")}))
	m := classfile.NewMethod(classfile.AccPublic|classfile.AccAbstract, "both", "(II)V")
	m.Attrs = annotated(bad.Pool, AccessorAnnotation, "health")
	bad.AddMethod(m)
	badBytes, _ := bad.Bytes()

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"class not interface", classBytes, ErrBadInterface},
		{"no target", accessInterface(t, ""), ErrBadInterface},
		{"unknown target", accessInterface(t, "World"), symbol.ErrUnknownSymbol},
		{"bad accessor shape", badBytes, ErrBadInterface},
		{"not a class file", []byte{1, 2, 3}, classfile.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInterface(tt.data, f.tab)
			if err == nil {
				t.Fatal("no error")
			}
			if tt.want != classfile.ErrMalformed && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	f := newFixture()
	iface, err := ParseInterface(accessInterface(t, "Player"), f.tab)
	if err != nil {
		t.Fatal(err)
	}
	sink := diag.NewSink("test")
	tr := NewTransformer(f.tab, sink)
	tr.AddAccessor(iface)

	cls := playerClass()
	before := len(cls.Methods)
	changed, err := tr.Apply(cls)
	if err != nil || !changed {
		t.Fatalf("Apply: changed %v err %v", changed, err)
	}
	if !cls.HasInterface("mods/PlayerAccess") {
		t.Fatal("interface not added")
	}

	tests := []struct {
		name, desc string
		want       []classfile.Opcode
	}{
		{"getHealth", "()I", []classfile.Opcode{classfile.OpAload, classfile.OpGetfield, classfile.OpIreturn}},
		{"setHealth", "(I)V", []classfile.Opcode{classfile.OpAload, classfile.OpIload, classfile.OpPutfield, classfile.OpReturn}},
		{"getCount", "()I", []classfile.Opcode{classfile.OpGetstatic, classfile.OpIreturn}},
		{"callHeal", "(I)I", []classfile.Opcode{classfile.OpAload, classfile.OpIload, classfile.OpInvokespecial, classfile.OpIreturn}},
		{"callTick", "()V", []classfile.Opcode{classfile.OpAload, classfile.OpInvokevirtual, classfile.OpReturn}},
	}
	for _, tt := range tests {
		m := cls.FindMethod(tt.name, tt.desc)
		if m == nil || m.Code == nil {
			t.Errorf("%s%s not synthesized", tt.name, tt.desc)
			continue
		}
		if got := ops(m); !equalOps(got, tt.want) {
			t.Errorf("%s: ops %v, want %v", tt.name, got, tt.want)
		}
	}
	if get := cls.FindMethod("getHealth", "()I"); get.Code.Insns[1].Name != "hp" {
		t.Errorf("getter reads %s, want the raw field hp", get.Code.Insns[1].Name)
	}

	missing := cls.FindMethod("getMissing", "()I")
	if missing == nil || !missing.IsAbstract() || missing.Code != nil {
		t.Errorf("unresolved accessor = %+v, want abstract", missing)
	}
	if sink.Count(diag.Critical) != 1 {
		t.Errorf("critical diagnostics = %d, want 1", sink.Count(diag.Critical))
	}
	if len(cls.Methods) != before+6 {
		t.Errorf("methods %d, want %d", len(cls.Methods), before+6)
	}
	if _, err := cls.Bytes(); err != nil {
		t.Fatalf("Bytes: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newFixture()
	iface, _ := ParseInterface(accessInterface(t, "Player"), f.tab)
	tr := NewTransformer(f.tab, nil)
	if !tr.AddAccessor(iface) || tr.AddAccessor(iface) {
		t.Fatal("AddAccessor did not ignore the duplicate")
	}

	cls := playerClass()
	if _, err := tr.Apply(cls); err != nil {
		t.Fatal(err)
	}
	data, err := cls.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	again, err := classfile.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	methods, ifaces := len(again.Methods), len(again.Interfaces)
	changed, err := tr.Apply(again)
	if err != nil || changed {
		t.Fatalf("second Apply: changed %v err %v", changed, err)
	}
	if len(again.Methods) != methods || len(again.Interfaces) != ifaces {
		t.Errorf("second Apply added members: %d/%d methods, %d/%d interfaces",
			len(again.Methods), methods, len(again.Interfaces), ifaces)
	}
}

func TestCodeBuiltInterface(t *testing.T) {
	f := newFixture()
	iface := (&Interface{Name: "mods/Names", Target: f.player}).
		Field("getName", "()Ljava/lang/CharSequence;", f.name).
		Field("setName", "(Ljava/lang/CharSequence;)V", f.name).
		Invoke("heal", "(I)V", f.heal)
	tr := NewTransformer(f.tab, nil)
	tr.AddAccessor(iface)
	if !tr.Targets("p") || tr.Targets("demo/World") {
		t.Error("Targets does not follow the class symbol")
	}

	cls := playerClass()
	if _, err := tr.Apply(cls); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name, desc string
		want       []classfile.Opcode
	}{
		{"getName", "()Ljava/lang/CharSequence;", []classfile.Opcode{classfile.OpAload, classfile.OpGetfield, classfile.OpCheckcast, classfile.OpAreturn}},
		{"setName", "(Ljava/lang/CharSequence;)V", []classfile.Opcode{classfile.OpAload, classfile.OpAload, classfile.OpCheckcast, classfile.OpPutfield, classfile.OpReturn}},
		{"heal", "(I)V", []classfile.Opcode{classfile.OpAload, classfile.OpIload, classfile.OpInvokespecial, classfile.OpPop, classfile.OpReturn}},
	}
	for _, tt := range tests {
		m := cls.FindMethod(tt.name, tt.desc)
		if m == nil || m.Code == nil {
			t.Errorf("%s%s not synthesized", tt.name, tt.desc)
			continue
		}
		if got := ops(m); !equalOps(got, tt.want) {
			t.Errorf("%s: ops %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInferName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"getHealth", "health"},
		{"setMaxHealth", "maxHealth"},
		{"isAlive", "alive"},
		{"get", ""},
		{"getter", ""},
		{"tick", ""},
	}
	for _, tt := range tests {
		if got := inferName(tt.in); got != tt.want {
			t.Errorf("inferName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
