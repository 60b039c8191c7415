package point

import (
	"testing"

	"github.com/chazu/modhook/classfile"
	"github.com/chazu/modhook/symbol"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type fixture struct {
	tab    *symbol.Table
	game   *symbol.Symbol
	world  *symbol.Symbol
	tick   *symbol.Symbol
	render *symbol.Symbol
	health *symbol.Symbol
}

func newFixture() *fixture {
	tab := symbol.NewTable()
	f := &fixture{tab: tab}
	f.game = tab.MustRegister("Game", symbol.Class, "demo/Game", "", "a")
	f.world = tab.MustRegister("World", symbol.Class, "demo/World", "", "b")
	f.tick = tab.MustRegisterMember(f.world, "tick", symbol.Method, "()V", "tick", "", "t")
	f.render = tab.MustRegisterMember(f.game, "render", symbol.Method, "(LWorld;)V", "render", "", "r")
	f.health = tab.MustRegisterMember(f.game, "health", symbol.Field, "I", "health", "", "h")
	return f
}

// loop is the method body:
//
//	line 5
//	aload_0; getfield a.h:I; pop
//	new b; dup; invokespecial b.<init>()V; astore_1
//	aload_1; invokevirtual b.t()V
//	aload_0; aload_1; invokevirtual a.r(Lb;)V
//	aload_1; invokevirtual b.tick()V
//	aload_0; iconst_1; putfield a.h:I
//	iload_2; ifeq L0; return
//	L0: return
func loop() *classfile.Method {
	m := classfile.NewMethod(classfile.AccPublic, "loop", "()V")
	m.Code.MaxLocals = 3
	l0 := classfile.NewLabel()
	m.Code.Append(
		classfile.LineInsn(5),
		classfile.VarInsn(classfile.OpAload, 0),
		classfile.FieldInsn(classfile.OpGetfield, "a", "h", "I"),
		classfile.Op(classfile.OpPop),
		classfile.TypeInsn(classfile.OpNew, "b"),
		classfile.Op(classfile.OpDup),
		classfile.MethodInsn(classfile.OpInvokespecial, "b", "<init>", "()V", false),
		classfile.VarInsn(classfile.OpAstore, 1),
		classfile.VarInsn(classfile.OpAload, 1),
		classfile.MethodInsn(classfile.OpInvokevirtual, "b", "t", "()V", false),
		classfile.VarInsn(classfile.OpAload, 0),
		classfile.VarInsn(classfile.OpAload, 1),
		classfile.MethodInsn(classfile.OpInvokevirtual, "a", "r", "(Lb;)V", false),
		classfile.VarInsn(classfile.OpAload, 1),
		classfile.MethodInsn(classfile.OpInvokevirtual, "b", "tick", "()V", false),
		classfile.VarInsn(classfile.OpAload, 0),
		classfile.PushInt(1),
		classfile.FieldInsn(classfile.OpPutfield, "a", "h", "I"),
		classfile.VarInsn(classfile.OpIload, 2),
		classfile.JumpInsn(classfile.OpIfeq, l0),
		classfile.Op(classfile.OpReturn),
		classfile.LabelInsn(l0),
		classfile.Op(classfile.OpReturn),
	)
	return m
}

func indices(sites []Site) []int {
	out := make([]int, len(sites))
	for i, s := range sites {
		out[i] = s.Pos()
	}
	return out
}

func equalInts(a, b []int) bool {
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

func TestStrategies(t *testing.T) {
	f := newFixture()
	invokeTick := Invoke(f.tick)

	tests := []struct {
		name     string
		strategy Strategy
		want     []int
	}{
		{"head skips line pseudo", MethodHead{}, []int{1}},
		{"every return", Return(), []int{20, 22}},
		{"second return", BeforeReturn{Ordinal: 1}, []int{22}},
		{"ordinal past end", BeforeReturn{Ordinal: 2}, nil},
		{"invoke any spelling", invokeTick, []int{9, 14}},
		{"invoke first only", BeforeInvoke{Name: f.tick, Ordinal: 0}, []int{9}},
		{"invoke with owner", BeforeInvoke{Name: f.render, Owner: f.game, Ordinal: All}, []int{12}},
		{"invoke wrong owner", BeforeInvoke{Name: f.render, Owner: f.world, Ordinal: All}, nil},
		{"invoke with desc", BeforeInvoke{Name: f.render, Desc: f.tab.DescCandidates("(LWorld;)V"), Ordinal: All}, []int{12}},
		{"invoke wrong desc", BeforeInvoke{Name: f.render, Desc: []string{"()V"}, Ordinal: All}, nil},
		{"field read", FieldAccess(f.health, Read), []int{2}},
		{"field write", FieldAccess(f.health, Write), []int{17}},
		{"field any", FieldAccess(f.health, Any), []int{2, 17}},
		{"new", New(f.world), []int{4}},
		{"new unmatched", New(f.game), nil},
		{"after invoke", After{Inner: invokeTick}, []int{10, 15}},
		{"after last return", After{Inner: BeforeReturn{Ordinal: 1}}, nil},
		{"following new", Following{Anchor: New(f.world), Inner: FieldAccess(f.health, Any)}, []int{17}},
		{"following missing anchor", Following{Anchor: New(f.game), Inner: Return()}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := loop()
			sites := tt.strategy.Find(m)
			if got := indices(sites); !equalInts(got, tt.want) {
				t.Fatalf("%s: sites %v, want %v", tt.strategy, got, tt.want)
			}
			for _, s := range sites {
				if !s.Insn.IsReal() {
					t.Errorf("pseudo instruction %s returned as site", s.Insn.Op)
				}
				if m.Code.Insns[s.Index] != s.Insn {
					t.Errorf("site index %d does not point at its instruction", s.Index)
				}
			}
		})
	}
}

func TestAfterStaysAheadOfLabels(t *testing.T) {
	tab := symbol.NewTable()
	game := tab.MustRegister("Game", symbol.Class, "demo/Game")
	foo := tab.MustRegisterMember(game, "foo", symbol.Method, "()V", "foo")
	skip := classfile.NewLabel()
	m := classfile.NewMethod(classfile.AccStatic, "guarded", "(I)V")
	m.Code.Append(
		classfile.VarInsn(classfile.OpIload, 0),
		classfile.JumpInsn(classfile.OpIfeq, skip),
		classfile.MethodInsn(classfile.OpInvokestatic, "demo/Game", "foo", "()V", false),
		classfile.LabelInsn(skip),
		classfile.Op(classfile.OpReturn),
	)
	sites := After{Inner: Invoke(foo)}.Find(m)
	if len(sites) != 1 {
		t.Fatalf("sites = %v", sites)
	}
	s := sites[0]
	if !s.After || s.Index != 2 || s.Pos() != 3 || s.Insn.Name != "foo" {
		t.Errorf("site %s: index %d pos %d", s, s.Index, s.Pos())
	}
	if m.Code.Insns[s.Pos()].Op != classfile.OpLabel {
		t.Error("after site does not precede the branch target label")
	}
}

func TestSiteOrdinals(t *testing.T) {
	f := newFixture()
	sites := Invoke(f.tick).Find(loop())
	if len(sites) != 2 || sites[0].Ordinal != 0 || sites[1].Ordinal != 1 {
		t.Fatalf("ordinals: %+v", sites)
	}
	sites = BeforeInvoke{Name: f.tick, Ordinal: 1}.Find(loop())
	if len(sites) != 1 || sites[0].Ordinal != 1 {
		t.Fatalf("ordinal 1: %+v", sites)
	}
}

func TestLocate(t *testing.T) {
	f := newFixture()
	m := loop()
	if _, ok := Locate(Return(), m); !ok {
		t.Error("Locate(return) found nothing")
	}
	if sites, ok := Locate(New(f.game), m); ok || sites != nil {
		t.Errorf("Locate(new Game) = %v, %v", sites, ok)
	}

	abstract := classfile.NewMethod(classfile.AccPublic|classfile.AccAbstract, "run", "()V")
	if _, ok := Locate(MethodHead{}, abstract); ok {
		t.Error("abstract method has a head site")
	}
}

func TestFindIsDeterministic(t *testing.T) {
	f := newFixture()
	m := loop()
	before := len(m.Code.Insns)
	a := indices(FieldAccess(f.health, Any).Find(m))
	b := indices(FieldAccess(f.health, Any).Find(m))
	if !equalInts(a, b) {
		t.Fatalf("repeated scans differ: %v vs %v", a, b)
	}
	if len(m.Code.Insns) != before {
		t.Error("scan modified the method")
	}
}

func TestStrategyStrings(t *testing.T) {
	f := newFixture()
	tests := []struct {
		strategy Strategy
		want     string
	}{
		{MethodHead{}, "HEAD"},
		{Return(), "RETURN[*]"},
		{BeforeReturn{Ordinal: 2}, "RETURN[2]"},
		{Invoke(f.tick), "INVOKE World.tick[*]"},
		{FieldAccess(f.health, Write), "PUT Game.health[*]"},
		{New(f.world), "NEW World[*]"},
		{After{Inner: MethodHead{}}, "AFTER HEAD"},
	}
	for _, tt := range tests {
		if got := tt.strategy.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
