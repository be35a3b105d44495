package checker

import (
	"fmt"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/liveness"
	"github.com/gdennie/nomicon/internal/region"
	"github.com/gdennie/nomicon/internal/report"
)

// maxRefDepth bounds resolution through chains of reference bindings.
const maxRefDepth = 8

func subtypeConflict(loc string, actual, expected ir.Type, detail string) report.Conflict {
	return report.Conflict{
		Kind:     report.SubtypeMismatch,
		Location: loc,
		Actual:   actual.String(),
		Expected: expected.String(),
		Detail:   detail,
	}
}

// ====== Actual types ======

// actualTypes resolves the types binding l can carry when the event at
// p observes it: one per held borrow instance, with the instance's
// inferred lifetime in place of the declared one, or the declared type
// itself for parameters and unheld bindings.
func (w *walker) actualTypes(p region.Point, l ir.LocalID) []ir.Type {
	held := w.live.HeldAt(p, l)
	if len(held) == 0 {
		return []ir.Type{w.fn.Locals[l].Type}
	}
	out := make([]ir.Type, len(held))
	for i, in := range held {
		out[i] = w.instanceType(p, l, in, 0)
	}
	return out
}

func (w *walker) actualFirst(p region.Point, l ir.LocalID) ir.Type {
	return w.actualTypes(p, l)[0]
}

// instanceType is the reference type binding l holds via instance in.
// The referent is resolved from the borrowed location, so a reference
// to a reference binding carries the inner borrow's lifetime too.
func (w *walker) instanceType(p region.Point, l ir.LocalID, in *liveness.Instance, depth int) ir.Type {
	decl, ok := w.fn.Locals[l].Type.(*ir.Ref)
	if !ok {
		// Guard bindings keep their declared constructor type.
		return w.fn.Locals[l].Type
	}
	lt := ir.ConcreteLifetime(in.Region)
	if in.Unbounded {
		lt = ir.UnboundedLifetime()
	}
	elem := decl.Elem
	if in.Location != ir.NoLocal && depth < maxRefDepth {
		elem = w.locationType(p, in.Location, depth+1)
	}
	return &ir.Ref{Kind: in.Kind, Lifetime: lt, Elem: elem}
}

// locationType is the type of the value stored in loc at p, following
// the first held borrow when loc is itself a reference binding.
func (w *walker) locationType(p region.Point, loc ir.LocalID, depth int) ir.Type {
	decl := w.fn.Locals[loc].Type
	if _, ok := decl.(*ir.Ref); !ok {
		return decl
	}
	held := w.live.HeldAt(p, loc)
	if len(held) == 0 {
		return decl
	}
	return w.instanceType(p, loc, held[0], depth)
}

// ====== Boundary checks ======

// checkBorrowBinding verifies a borrow against its destination's
// declared type. Constructor-typed guard destinations carry the
// elaborator's wrapping claim and are not re-checked.
func (w *walker) checkBorrowBinding(p region.Point, s *ir.Borrow) {
	in := w.live.DefinedAt(p)
	if in == nil {
		return
	}
	decl, ok := w.fn.Locals[s.Dst].Type.(*ir.Ref)
	if !ok {
		return
	}
	w.narrowInto(in, decl)
	actual := w.instanceType(p, s.Dst, in, 0)
	if !w.oracle.IsSubtype(actual, decl) {
		w.add(p, subtypeConflict(
			w.name(s.Dst), actual, decl,
			fmt.Sprintf("borrow of `%s` does not satisfy the declared type of `%s`",
				w.name(s.Src), w.name(s.Dst)),
		))
	}
}

// checkAssign verifies the moved value against the destination's
// declared type.
func (w *walker) checkAssign(p region.Point, s *ir.Assign) {
	expected := w.fn.Locals[s.Dst].Type
	for _, in := range w.live.HeldAt(p, s.Src) {
		w.narrowInto(in, expected)
	}
	for _, actual := range w.actualTypes(p, s.Src) {
		if !w.oracle.IsSubtype(actual, expected) {
			w.add(p, subtypeConflict(
				w.name(s.Src), actual, expected,
				fmt.Sprintf("`%s` is not assignable to `%s`", w.name(s.Src), w.name(s.Dst)),
			))
		}
	}
}

// checkStoreField verifies a field store against the field's declared
// type under the base's instantiation.
func (w *walker) checkStoreField(p region.Point, s *ir.StoreField) {
	ctor, ok := w.fn.Locals[s.Base].Type.(*ir.Ctor)
	if !ok {
		return
	}
	decl := w.mod.Constructor(ctor.Name)
	if decl == nil {
		return
	}
	var fieldType ir.Type
	for _, f := range decl.Fields {
		if f.Name == s.Field {
			fieldType = f.Type
		}
	}
	if fieldType == nil {
		return
	}
	types, lifetimes := decl.Bindings(ctor.Args)
	expected := ir.Substitute(fieldType, types, lifetimes)
	for _, in := range w.live.HeldAt(p, s.Src) {
		w.narrowInto(in, expected)
	}
	for _, actual := range w.actualTypes(p, s.Src) {
		if !w.oracle.IsSubtype(actual, expected) {
			w.add(p, subtypeConflict(
				w.name(s.Src), actual, expected,
				fmt.Sprintf("stored value does not satisfy field `%s` of %s", s.Field, ctor.Name),
			))
		}
	}
}

// checkStoreThrough verifies a write through a reference: the access
// must be exclusive and the stored value must satisfy the referent
// type.
func (w *walker) checkStoreThrough(p region.Point, s *ir.StoreThrough) {
	held := w.live.HeldAt(p, s.Ref)
	for _, in := range held {
		if in.Kind != ir.BorrowExclusive {
			w.add(p, report.Conflict{
				Kind:     report.ExclusivityViolation,
				Location: w.name(s.Ref),
				Detail:   fmt.Sprintf("write through shared reference `%s`", w.name(s.Ref)),
			})
		}
	}
	decl, ok := w.fn.Locals[s.Ref].Type.(*ir.Ref)
	if !ok {
		return
	}
	if len(held) == 0 && decl.Kind != ir.BorrowExclusive {
		w.add(p, report.Conflict{
			Kind:     report.ExclusivityViolation,
			Location: w.name(s.Ref),
			Detail:   fmt.Sprintf("write through shared reference `%s`", w.name(s.Ref)),
		})
	}
	expected := decl.Elem
	for _, in := range w.live.HeldAt(p, s.Src) {
		w.narrowInto(in, expected)
	}
	for _, actual := range w.actualTypes(p, s.Src) {
		if !w.oracle.IsSubtype(actual, expected) {
			w.add(p, subtypeConflict(
				w.name(s.Src), actual, expected,
				fmt.Sprintf("value stored through `%s` does not satisfy the referent type", w.name(s.Ref)),
			))
		}
	}
}

// checkCall instantiates the callee's signature from the actual
// arguments, then verifies every argument and the bound result.
func (w *walker) checkCall(p region.Point, s *ir.Call) {
	callee := w.mod.Function(s.Callee)
	if callee == nil || len(s.Args) != callee.NumParams {
		return
	}
	actuals := make([]ir.Type, len(s.Args))
	for i, a := range s.Args {
		actuals[i] = w.actualFirst(p, a)
	}
	types, lifetimes := w.instantiate(callee, actuals)
	for i, a := range s.Args {
		expected := ir.Substitute(callee.Locals[i].Type, types, lifetimes)
		for _, actual := range w.actualTypes(p, a) {
			if !w.oracle.IsSubtype(actual, expected) {
				w.add(p, subtypeConflict(
					w.name(a), actual, expected,
					fmt.Sprintf("argument %d of `%s` is not a subtype of its declared parameter", i+1, s.Callee),
				))
			}
		}
	}
	if s.Dst != ir.NoLocal && callee.Result != nil {
		actual := ir.Substitute(callee.Result, types, lifetimes)
		expected := w.fn.Locals[s.Dst].Type
		if !w.oracle.IsSubtype(actual, expected) {
			w.add(p, subtypeConflict(
				w.name(s.Dst), actual, expected,
				fmt.Sprintf("result of `%s` is not assignable to `%s`", s.Callee, w.name(s.Dst)),
			))
		}
	}
}

// ====== Call-site instantiation ======

// instantiate binds the callee's type and lifetime parameters from the
// actual argument types. Lifetimes bound at an invariant occurrence are
// exact; covariant occurrences take the meet of their concrete regions
// (the strongest demand every actual still satisfies). Verification
// against the oracle happens afterwards, so an unsatisfiable binding
// surfaces as a mismatch on the offending argument.
func (w *walker) instantiate(callee *ir.Function, actuals []ir.Type) (map[string]ir.Type, map[string]ir.Lifetime) {
	if len(callee.LifetimeParams) == 0 && len(callee.TypeParams) == 0 {
		return nil, nil
	}
	inst := &instantiation{
		w:     w,
		ltp:   make(map[string]bool, len(callee.LifetimeParams)),
		tp:    make(map[string]bool, len(callee.TypeParams)),
		types: make(map[string]ir.Type),
		lts:   make(map[string]ltBinding),
	}
	for _, n := range callee.LifetimeParams {
		inst.ltp[n] = true
	}
	for _, n := range callee.TypeParams {
		inst.tp[n] = true
	}
	for i, a := range actuals {
		inst.unify(callee.Locals[i].Type, a, false)
	}
	lifetimes := make(map[string]ir.Lifetime, len(inst.lts))
	for name, b := range inst.lts {
		lifetimes[name] = b.lt
	}
	return inst.types, lifetimes
}

type ltBinding struct {
	lt        ir.Lifetime
	invariant bool
}

type instantiation struct {
	w     *walker
	ltp   map[string]bool
	tp    map[string]bool
	types map[string]ir.Type
	lts   map[string]ltBinding
}

func (inst *instantiation) bindType(name string, actual ir.Type, _ bool) {
	if !inst.tp[name] || actual == nil {
		return
	}
	if _, ok := inst.types[name]; !ok {
		inst.types[name] = actual
	}
}

// ltRank orders lifetime kinds by binding preference: a concrete
// region is the strongest usable demand, then a caller parameter, then
// static. Unbounded and elided actuals never bind.
func ltRank(l ir.Lifetime) int {
	switch l.Kind {
	case ir.LifetimeConcrete:
		return 0
	case ir.LifetimeParam:
		return 1
	case ir.LifetimeStatic:
		return 2
	default:
		return 3
	}
}

func (inst *instantiation) bindLifetime(decl, actual ir.Lifetime, invariant bool) {
	if decl.Kind != ir.LifetimeParam || !inst.ltp[decl.Param] {
		return
	}
	if actual.Kind == ir.LifetimeUnbounded || actual.Kind == ir.LifetimeInferred {
		return
	}
	cur, ok := inst.lts[decl.Param]
	if !ok {
		inst.lts[decl.Param] = ltBinding{lt: actual, invariant: invariant}
		return
	}
	if cur.invariant {
		return
	}
	if invariant {
		inst.lts[decl.Param] = ltBinding{lt: actual, invariant: true}
		return
	}
	if cur.lt.Kind == ir.LifetimeConcrete && actual.Kind == ir.LifetimeConcrete {
		inst.lts[decl.Param] = ltBinding{lt: inst.w.meetRegions(cur.lt.Region, actual.Region)}
		return
	}
	if ltRank(actual) < ltRank(cur.lt) {
		inst.lts[decl.Param] = ltBinding{lt: actual}
	}
}

// meetRegions is the largest region both operands contain; for
// incomparable regions it is their interval intersection.
func (w *walker) meetRegions(x, y region.ID) ir.Lifetime {
	if w.arena.Contains(x, y) {
		return ir.ConcreteLifetime(y)
	}
	if w.arena.Contains(y, x) {
		return ir.ConcreteLifetime(x)
	}
	ivs := w.arena.Intersect(x, y)
	return ir.ConcreteLifetime(w.arena.New(w.arena.CommonAncestor(x, y), region.KindInferred, ivs...))
}

func (inst *instantiation) unify(decl, actual ir.Type, invariant bool) {
	switch d := decl.(type) {
	case *ir.TypeParam:
		inst.bindType(d.Name, actual, invariant)
	case *ir.Ref:
		a, ok := actual.(*ir.Ref)
		if !ok {
			return
		}
		inst.bindLifetime(d.Lifetime, a.Lifetime, invariant)
		inst.unify(d.Elem, a.Elem, invariant || d.Kind == ir.BorrowExclusive)
	case *ir.RawPtr:
		a, ok := actual.(*ir.RawPtr)
		if !ok {
			return
		}
		inst.unify(d.Elem, a.Elem, invariant || d.Mutable)
	case *ir.Box:
		if a, ok := actual.(*ir.Box); ok {
			inst.unify(d.Elem, a.Elem, invariant)
		}
	case *ir.Cell:
		if a, ok := actual.(*ir.Cell); ok {
			inst.unify(d.Elem, a.Elem, true)
		}
	case *ir.Fn:
		a, ok := actual.(*ir.Fn)
		if !ok || len(a.Params) != len(d.Params) {
			return
		}
		for i := range d.Params {
			inst.unify(d.Params[i], a.Params[i], true)
		}
		if d.Result != nil && a.Result != nil {
			inst.unify(d.Result, a.Result, invariant)
		}
	case *ir.Ctor:
		a, ok := actual.(*ir.Ctor)
		if !ok || a.Name != d.Name || len(a.Args) != len(d.Args) {
			return
		}
		vec, _ := inst.w.table.Vector(d.Name)
		for i := range d.Args {
			v := ir.VarianceBivariant
			if i < len(vec) {
				v = vec[i]
			}
			argInv := invariant || v == ir.VarianceInvariant || v == ir.VarianceContravariant
			switch {
			case d.Args[i].Kind == ir.ArgLifetime && a.Args[i].Kind == ir.ArgLifetime:
				inst.bindLifetime(d.Args[i].Lifetime, a.Args[i].Lifetime, argInv)
			case d.Args[i].Kind == ir.ArgType && a.Args[i].Kind == ir.ArgType:
				inst.unify(d.Args[i].Type, a.Args[i].Type, argInv)
			}
		}
	}
}
