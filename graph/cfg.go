// Package graph renders method control flow with lattice, for inspecting
// what the transformers did to a method.
package graph

import (
	"slices"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"github.com/chazu/modhook/classfile"
)

// BuildFuncCFG splits a method body into basic blocks. Block bounds are
// indices into m.Code.Insns; every invoke becomes a call site. A method
// without code yields an empty CFG and 0.
func BuildFuncCFG(name string, m *classfile.Method) (*lattice.FuncCFG, int) {
	cfg := &lattice.FuncCFG{Name: name}
	if m.Code == nil || len(m.Code.Insns) == 0 {
		return cfg, 0
	}
	insns := m.Code.Insns

	labelAt := make(map[*classfile.Label]int)
	for i, in := range insns {
		if in.Op == classfile.OpLabel {
			labelAt[in.Target] = i
		}
	}

	// Leaders: entry, branch targets, handlers, and whatever follows a
	// branch or block end.
	leader := map[int]bool{0: true}
	for i, in := range insns {
		for _, l := range targets(in) {
			if at, ok := labelAt[l]; ok {
				leader[at] = true
			}
		}
		if (in.Kind() == classfile.KindJump || in.Op.EndsBlock()) && i+1 < len(insns) {
			leader[i+1] = true
		}
	}
	for _, tc := range m.Code.TryCatch {
		if at, ok := labelAt[tc.Handler]; ok {
			leader[at] = true
		}
	}
	starts := make([]int, 0, len(leader))
	for i := range leader {
		starts = append(starts, i)
	}
	slices.Sort(starts)

	blockOf := make(map[int]int, len(starts))
	for id, s := range starts {
		blockOf[s] = id
	}
	for id, start := range starts {
		end := len(insns)
		if id+1 < len(starts) {
			end = starts[id+1]
		}
		b := &lattice.BasicBlock{ID: id, Start: start, End: end}
		for i := start; i < end; i++ {
			if in := insns[i]; in.Kind() == classfile.KindInvoke {
				b.Calls = append(b.Calls, lattice.CallSite{Offset: i, Callee: in.Owner + "." + in.Name})
			}
		}

		last := insns[end-1]
		switch {
		case last.Kind() == classfile.KindSwitch:
			for _, l := range targets(last) {
				b.Succs = append(b.Succs, lattice.Successor{BlockID: blockOf[labelAt[l]]})
			}
		case last.Op.IsConditional():
			b.Succs = append(b.Succs, lattice.Successor{BlockID: blockOf[labelAt[last.Target]], Cond: "T"})
			if end < len(insns) {
				b.Succs = append(b.Succs, lattice.Successor{BlockID: blockOf[end], Cond: "F"})
			}
		case last.Op == classfile.OpGoto || last.Op == classfile.OpGotoW:
			b.Succs = append(b.Succs, lattice.Successor{BlockID: blockOf[labelAt[last.Target]]})
		case last.Op.EndsBlock():
			b.Term = true
		case end < len(insns):
			b.Succs = append(b.Succs, lattice.Successor{BlockID: blockOf[end]})
		default:
			b.Term = true
		}
		cfg.Blocks = append(cfg.Blocks, b)
	}
	return cfg, len(cfg.Blocks)
}

func targets(in *classfile.Insn) []*classfile.Label {
	switch in.Kind() {
	case classfile.KindJump:
		return []*classfile.Label{in.Target}
	case classfile.KindSwitch:
		return append(slices.Clone(in.Targets), in.Default)
	}
	return nil
}

// DOT renders the CFG of one method.
func DOT(title string, m *classfile.Method) string {
	cfg, _ := BuildFuncCFG(title, m)
	return render.DOTCFG(&lattice.CFGGraph{Funcs: []*lattice.FuncCFG{cfg}}, title)
}

// Class renders every method with code of cls into one graph.
func Class(cls *classfile.Class) string {
	g := &lattice.CFGGraph{}
	for _, m := range cls.Methods {
		if cfg, n := BuildFuncCFG(cls.Name+"."+m.Key(), m); n > 0 {
			g.Funcs = append(g.Funcs, cfg)
		}
	}
	return render.DOTCFG(g, cls.Name)
}
