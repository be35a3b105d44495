// Package liveness infers the region of every borrow instance in one
// function body. The analysis runs in three phases over the explicit
// control-flow graph:
//
//  1. discovery: every borrow statement mints one instance;
//  2. reaching: a forward dataflow computes, per block entry, which
//     instances each reference binding may hold, joining by union at
//     merges and iterating loops to a fixed point;
//  3. collection: one more program-order walk records the exact use
//     points of every instance, including the implicit finalizer use
//     at scope exit for bindings whose type runs a finalizer.
//
// An instance's region is the set of points that both lie downstream
// of its creation and can still reach one of its uses. Reassigning a
// binding before the old value's next use therefore ends the old
// region at its last use, and a use pattern interrupted by a rebind
// comes out as a region with a gap. Liveness never fails: any
// validated function has a well-defined result.
package liveness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/position"
	"github.com/gdennie/nomicon/internal/region"
)

// Instance is one borrow event and its inferred region.
type Instance struct {
	ID        int
	Binding   ir.LocalID // binding the reference was created into
	Location  ir.LocalID // storage location borrowed; NoLocal for raw origin
	Kind      ir.BorrowKind
	Unbounded bool // fabricated from a raw pointer
	Def       region.Point
	Uses      []region.Point // sorted, deduplicated
	Region    region.ID
	Span      position.Span
}

// LastUse returns the final use point, or the definition point for a
// borrow that is never used.
func (in *Instance) LastUse() region.Point {
	if len(in.Uses) == 0 {
		return in.Def
	}
	return in.Uses[len(in.Uses)-1]
}

func (in *Instance) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "b%d: %s local%d", in.ID, in.Kind.Sigil(), in.Location)
	fmt.Fprintf(&b, " def@%d", in.Def)
	if len(in.Uses) > 0 {
		parts := make([]string, len(in.Uses))
		for i, u := range in.Uses {
			parts[i] = fmt.Sprintf("%d", u)
		}
		fmt.Fprintf(&b, " uses[%s]", strings.Join(parts, ","))
	}
	if in.Unbounded {
		b.WriteString(" unbounded")
	}
	fmt.Fprintf(&b, " region #%d", in.Region)
	return b.String()
}

type holdKey struct {
	p region.Point
	l ir.LocalID
}

// Result is the liveness solution for one function.
type Result struct {
	mod          *ir.Module
	fn           *ir.Function
	ix           *ir.Index
	arena        *region.Arena
	Instances    []*Instance
	scopeRegions []region.ID
	byLocation   map[ir.LocalID][]*Instance
	holdings     map[holdKey][]int
}

// Analyze computes borrow regions for a validated function of mod.
// The arena must be fresh for this function; scope regions are
// allocated into it first, then one inferred region per instance.
func Analyze(mod *ir.Module, fn *ir.Function, ix *ir.Index, arena *region.Arena) *Result {
	if mod == nil {
		mod = &ir.Module{}
	}
	r := &Result{
		mod:        mod,
		fn:         fn,
		ix:         ix,
		arena:      arena,
		byLocation: make(map[ir.LocalID][]*Instance),
		holdings:   make(map[holdKey][]int),
	}
	r.buildScopeRegions()

	an := &analysis{
		r:       r,
		tracked: trackedLocals(fn),
		defAt:   make(map[region.Point]*Instance),
		uses:    make(map[int]map[region.Point]struct{}),
		present: make(map[int]map[region.Point]struct{}),
	}
	an.discover()
	an.solveReaching()
	an.collect()
	an.finish()
	return r
}

func (r *Result) buildScopeRegions() {
	r.scopeRegions = make([]region.ID, len(r.fn.Scopes))
	for s, sc := range r.fn.Scopes {
		parent := r.arena.Static()
		if sc.Parent != ir.NoScope {
			parent = r.scopeRegions[sc.Parent]
		}
		r.scopeRegions[s] = r.arena.New(parent, scopeRegionKind(sc.Kind), r.ix.ScopeIntervals(ir.ScopeID(s))...)
	}
}

func scopeRegionKind(k ir.ScopeKind) region.Kind {
	switch k {
	case ir.ScopeLoop:
		return region.KindLoop
	case ir.ScopeArm:
		return region.KindBranch
	default:
		return region.KindScope
	}
}

// ScopeRegion returns the region allocated for scope s.
func (r *Result) ScopeRegion(s ir.ScopeID) region.ID { return r.scopeRegions[s] }

// FunctionRegion returns the region covering the whole body.
func (r *Result) FunctionRegion() region.ID { return r.scopeRegions[0] }

// Arena returns the arena the regions live in.
func (r *Result) Arena() *region.Arena { return r.arena }

// OfLocation returns the instances borrowing the given storage
// location, in creation order.
func (r *Result) OfLocation(loc ir.LocalID) []*Instance { return r.byLocation[loc] }

// HeldAt returns the instances binding l may hold when the event at
// point p runs, before the event's own effect.
func (r *Result) HeldAt(p region.Point, l ir.LocalID) []*Instance {
	ids := r.holdings[holdKey{p: p, l: l}]
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Instance, len(ids))
	for i, id := range ids {
		out[i] = r.Instances[id]
	}
	return out
}

// LiveAt reports whether the instance's region covers point p.
func (r *Result) LiveAt(in *Instance, p region.Point) bool {
	return r.arena.ContainsPoint(in.Region, p)
}

// DefinedAt returns the instance created by the borrow at point p, or
// nil when p is not a borrow statement.
func (r *Result) DefinedAt(p region.Point) *Instance {
	for _, in := range r.Instances {
		if in.Def == p {
			return in
		}
	}
	return nil
}

// String returns a readable dump of the solution.
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Liveness(%s) {\n", r.fn.Name)
	for _, in := range r.Instances {
		fmt.Fprintf(&b, "  %s\n", in)
	}
	b.WriteString("}\n")
	return b.String()
}

// ====== Analysis internals ======

// instSet is a small set of instance IDs.
type instSet map[int]struct{}

func (s instSet) clone() instSet {
	out := make(instSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// unionInto adds src into dst, reporting whether dst grew.
func unionInto(dst, src instSet) bool {
	grew := false
	for k := range src {
		if _, ok := dst[k]; !ok {
			dst[k] = struct{}{}
			grew = true
		}
	}
	return grew
}

// localState maps each tracked binding to the instances it may hold.
type localState map[ir.LocalID]instSet

func (st localState) clone() localState {
	out := make(localState, len(st))
	for l, s := range st {
		out[l] = s.clone()
	}
	return out
}

func (st localState) joinFrom(src localState) bool {
	grew := false
	for l, s := range src {
		if cur, ok := st[l]; ok {
			if unionInto(cur, s) {
				grew = true
			}
		} else {
			st[l] = s.clone()
			grew = true
		}
	}
	return grew
}

type analysis struct {
	r       *Result
	tracked map[ir.LocalID]bool
	defAt   map[region.Point]*Instance
	entry   []localState
	uses    map[int]map[region.Point]struct{}
	present map[int]map[region.Point]struct{}
}

// trackedLocals marks the bindings that can hold borrow instances:
// reference-typed locals, destinations of borrow statements (guard
// bindings carry a constructor type there), and anything an assign
// chain can move an instance into.
func trackedLocals(fn *ir.Function) map[ir.LocalID]bool {
	out := make(map[ir.LocalID]bool)
	for i, l := range fn.Locals {
		if _, ok := l.Type.(*ir.Ref); ok {
			out[ir.LocalID(i)] = true
		}
	}
	for _, blk := range fn.Blocks {
		for _, s := range blk.Stmts {
			if b, ok := s.(*ir.Borrow); ok {
				out[b.Dst] = true
			}
		}
	}
	for changed := true; changed; {
		changed = false
		for _, blk := range fn.Blocks {
			for _, s := range blk.Stmts {
				if a, ok := s.(*ir.Assign); ok && out[a.Src] && !out[a.Dst] {
					out[a.Dst] = true
					changed = true
				}
			}
		}
	}
	return out
}

// discover mints one instance per borrow statement.
func (an *analysis) discover() {
	fn := an.r.fn
	for b, blk := range fn.Blocks {
		for i, s := range blk.Stmts {
			bo, ok := s.(*ir.Borrow)
			if !ok {
				continue
			}
			p := an.r.ix.StmtPoint(ir.BlockID(b), i)
			in := &Instance{
				ID:        len(an.r.Instances),
				Binding:   bo.Dst,
				Location:  bo.Src,
				Kind:      bo.Kind,
				Unbounded: bo.Origin == ir.OriginRaw,
				Def:       p,
				Span:      bo.Span,
			}
			if in.Unbounded {
				in.Location = ir.NoLocal
			}
			an.r.Instances = append(an.r.Instances, in)
			an.defAt[p] = in
			an.uses[in.ID] = make(map[region.Point]struct{})
			an.present[in.ID] = make(map[region.Point]struct{})
			if in.Location != ir.NoLocal {
				an.r.byLocation[in.Location] = append(an.r.byLocation[in.Location], in)
			}
		}
	}
}

// solveReaching iterates the forward dataflow to a fixed point.
func (an *analysis) solveReaching() {
	blocks := an.r.fn.Blocks
	an.entry = make([]localState, len(blocks))
	for b := range blocks {
		an.entry[b] = make(localState)
	}
	for changed := true; changed; {
		changed = false
		for b := range blocks {
			out := an.entry[b].clone()
			an.transferBlock(ir.BlockID(b), out, nil)
			for _, s := range an.r.ix.Succs(ir.BlockID(b)) {
				if an.entry[s].joinFrom(out) {
					changed = true
				}
			}
		}
	}
}

// visitFn observes the state immediately before the event at p.
type visitFn func(p region.Point, st localState)

// transferBlock walks one block applying statement transfers. When
// visit is non-nil it runs before each transfer, seeing the state the
// event observes.
func (an *analysis) transferBlock(b ir.BlockID, st localState, visit visitFn) {
	blk := an.r.fn.Blocks[b]
	for i, s := range blk.Stmts {
		p := an.r.ix.StmtPoint(b, i)
		if visit != nil {
			visit(p, st)
		}
		an.transfer(p, s, st)
	}
	if visit != nil {
		visit(an.r.ix.TermPoint(b), st)
	}
}

func (an *analysis) transfer(p region.Point, s ir.Stmt, st localState) {
	switch s := s.(type) {
	case *ir.Borrow:
		if an.tracked[s.Dst] {
			st[s.Dst] = instSet{an.defAt[p].ID: {}}
		}
	case *ir.Assign:
		if !an.tracked[s.Dst] {
			return
		}
		if an.tracked[s.Src] {
			if held, ok := st[s.Src]; ok {
				st[s.Dst] = held.clone()
				return
			}
		}
		delete(st, s.Dst)
	case *ir.Call:
		// A call result is a fresh value with no tracked instance.
		if s.Dst != ir.NoLocal && an.tracked[s.Dst] {
			delete(st, s.Dst)
		}
	}
}

// collect runs the final program-order walk, recording presence, use
// points, read holdings and implicit finalizer uses.
func (an *analysis) collect() {
	exitUses := an.finalizerExits()
	fn := an.r.fn
	for b := range fn.Blocks {
		st := an.entry[b].clone()
		an.transferBlock(ir.BlockID(b), st, func(p region.Point, before localState) {
			for l, set := range before {
				if len(set) == 0 {
					continue
				}
				ids := make([]int, 0, len(set))
				for id := range set {
					an.present[id][p] = struct{}{}
					ids = append(ids, id)
				}
				sort.Ints(ids)
				an.r.holdings[holdKey{p: p, l: l}] = ids
			}
			for _, l := range an.readsAt(p) {
				for id := range before[l] {
					an.uses[id][p] = struct{}{}
				}
			}
			// The finalizer of a binding runs as the last event of
			// its scope, using whatever the binding then holds.
			for _, l := range exitUses[p] {
				for id := range before[l] {
					an.uses[id][p] = struct{}{}
					an.present[id][p] = struct{}{}
				}
			}
		})
	}
}

// finalizerExits maps each scope-exit point to the finalizer-bearing
// bindings dying there, in ascending binding order.
func (an *analysis) finalizerExits() map[region.Point][]ir.LocalID {
	out := make(map[region.Point][]ir.LocalID)
	fn := an.r.fn
	for i, l := range fn.Locals {
		if !ir.HasFinalizer(l.Type, an.r.mod) {
			continue
		}
		exit := an.r.ix.ScopeExit(l.Scope)
		if exit == region.NoPoint {
			continue
		}
		out[exit] = append(out[exit], ir.LocalID(i))
	}
	return out
}

// readsAt lists the locals the event at p reads.
func (an *analysis) readsAt(p region.Point) []ir.LocalID {
	if s := an.r.ix.StmtAt(p); s != nil {
		switch s := s.(type) {
		case *ir.Borrow:
			if s.Origin == ir.OriginRaw {
				return []ir.LocalID{s.Src}
			}
			return nil
		case *ir.Use:
			return s.Operands
		case *ir.Assign:
			return []ir.LocalID{s.Src}
		case *ir.StoreField:
			return []ir.LocalID{s.Base, s.Src}
		case *ir.StoreThrough:
			return []ir.LocalID{s.Ref, s.Src}
		case *ir.Call:
			return s.Args
		case *ir.Finalize:
			return []ir.LocalID{s.Local}
		}
		return nil
	}
	switch t := an.r.ix.TermAt(p).(type) {
	case *ir.If:
		return []ir.LocalID{t.Cond}
	case *ir.Return:
		if t.Value != ir.NoLocal {
			return []ir.LocalID{t.Value}
		}
	}
	return nil
}

// finish turns point sets into regions: an instance covers the points
// downstream of its definition that can still reach a use.
func (an *analysis) finish() {
	for _, in := range an.r.Instances {
		points := an.livePoints(in)
		in.Uses = sortedPoints(an.uses[in.ID])
		in.Region = an.allocRegion(in, points)
	}
}

// livePoints computes {Def} plus the backward closure of the use
// points through points where the instance is still held.
func (an *analysis) livePoints(in *Instance) []region.Point {
	reach := an.present[in.ID]
	live := make(map[region.Point]struct{})
	var work []region.Point
	for p := range an.uses[in.ID] {
		live[p] = struct{}{}
		work = append(work, p)
	}
	var buf []region.Point
	for len(work) > 0 {
		p := work[len(work)-1]
		work = work[:len(work)-1]
		buf = an.r.ix.PredPoints(p, buf[:0])
		for _, q := range buf {
			if q == in.Def {
				continue
			}
			if _, ok := reach[q]; !ok {
				continue
			}
			if _, seen := live[q]; seen {
				continue
			}
			live[q] = struct{}{}
			work = append(work, q)
		}
	}
	points := make([]region.Point, 0, len(live)+1)
	points = append(points, in.Def)
	for p := range live {
		points = append(points, p)
	}
	return points
}

// allocRegion parents the instance region at the innermost scope
// region covering all its points.
func (an *analysis) allocRegion(in *Instance, points []region.Point) region.ID {
	ivs := region.Intervalize(points)
	fn := an.r.fn
	s := fn.Blocks[an.r.ix.At(in.Def).Block].Scope
	for s != 0 && !region.Covers(an.r.ix.ScopeIntervals(s), ivs) {
		s = fn.Scopes[s].Parent
	}
	return an.r.arena.New(an.r.scopeRegions[s], region.KindInferred, ivs...)
}

func sortedPoints(set map[region.Point]struct{}) []region.Point {
	out := make([]region.Point, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
