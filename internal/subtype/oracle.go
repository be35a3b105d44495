// Package subtype implements the subtyping oracle: a pure decision
// procedure over resolved types, region containment and frozen
// variance vectors. The oracle never mutates lifetimes or regions and
// has no failure mode; a malformed query is simply not a subtype.
package subtype

import (
	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/region"
	"github.com/gdennie/nomicon/internal/variance"
)

// Oracle answers is-subtype queries for one function analysis run.
// Queries are memoized by canonical type keys, so repeated demands at
// different call sites of the same function resolve from cache. An
// oracle is not safe for concurrent use; each worker builds its own.
type Oracle struct {
	arena  *region.Arena
	table  *variance.Table
	memo   map[memoKey]bool
	hits   int
	misses int
}

type memoKey struct {
	sub, super string
}

// CacheStats reports memo effectiveness for one run.
type CacheStats struct {
	Hits   int
	Misses int
}

// NewOracle builds an oracle over the given arena and frozen variance
// table.
func NewOracle(arena *region.Arena, table *variance.Table) *Oracle {
	return &Oracle{
		arena: arena,
		table: table,
		memo:  make(map[memoKey]bool),
	}
}

// Stats returns the memo counters.
func (o *Oracle) Stats() CacheStats {
	return CacheStats{Hits: o.hits, Misses: o.misses}
}

// IsSubtype reports whether a value of type sub can be used wherever
// type super is demanded.
func (o *Oracle) IsSubtype(sub, super ir.Type) bool {
	if sub == nil || super == nil {
		return sub == nil && super == nil
	}
	key := memoKey{sub: sub.Key(), super: super.Key()}
	if v, ok := o.memo[key]; ok {
		o.hits++
		return v
	}
	o.misses++
	v := o.compute(sub, super)
	o.memo[key] = v
	return v
}

func (o *Oracle) compute(sub, super ir.Type) bool {
	switch super := super.(type) {
	case *ir.Base:
		s, ok := sub.(*ir.Base)
		return ok && s.Name == super.Name
	case *ir.TypeParam:
		s, ok := sub.(*ir.TypeParam)
		return ok && s.Name == super.Name
	case *ir.Ref:
		s, ok := sub.(*ir.Ref)
		if !ok || s.Kind != super.Kind {
			return false
		}
		if !o.LifetimeSubtype(s.Lifetime, super.Lifetime) {
			return false
		}
		if super.Kind == ir.BorrowExclusive {
			// Writable through the reference: the referent position
			// is invariant.
			return o.Identical(s.Elem, super.Elem)
		}
		return o.IsSubtype(s.Elem, super.Elem)
	case *ir.RawPtr:
		s, ok := sub.(*ir.RawPtr)
		if !ok || s.Mutable != super.Mutable {
			return false
		}
		if super.Mutable {
			return o.Identical(s.Elem, super.Elem)
		}
		return o.IsSubtype(s.Elem, super.Elem)
	case *ir.Box:
		s, ok := sub.(*ir.Box)
		return ok && o.IsSubtype(s.Elem, super.Elem)
	case *ir.Cell:
		s, ok := sub.(*ir.Cell)
		return ok && o.Identical(s.Elem, super.Elem)
	case *ir.Fn:
		s, ok := sub.(*ir.Fn)
		if !ok || len(s.Params) != len(super.Params) {
			return false
		}
		for i := range super.Params {
			// Parameters flip the direction of the query.
			if !o.IsSubtype(super.Params[i], s.Params[i]) {
				return false
			}
		}
		if s.Result == nil || super.Result == nil {
			return s.Result == nil && super.Result == nil
		}
		return o.IsSubtype(s.Result, super.Result)
	case *ir.Ctor:
		s, ok := sub.(*ir.Ctor)
		if !ok || s.Name != super.Name || len(s.Args) != len(super.Args) {
			return false
		}
		// Distinct constructors are never related; same constructor
		// compares positionally under its variance vector.
		vec, ok := o.table.Vector(super.Name)
		if !ok {
			return false
		}
		for i := range super.Args {
			v := ir.VarianceBivariant
			if i < len(vec) {
				v = vec[i]
			}
			if !o.argRelated(s.Args[i], super.Args[i], v) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (o *Oracle) argRelated(sub, super ir.Arg, v ir.Variance) bool {
	if sub.Kind != super.Kind {
		return false
	}
	switch v {
	case ir.VarianceBivariant:
		return true
	case ir.VarianceCovariant:
		if sub.Kind == ir.ArgLifetime {
			return o.LifetimeSubtype(sub.Lifetime, super.Lifetime)
		}
		return o.IsSubtype(sub.Type, super.Type)
	case ir.VarianceContravariant:
		if sub.Kind == ir.ArgLifetime {
			return o.LifetimeSubtype(super.Lifetime, sub.Lifetime)
		}
		return o.IsSubtype(super.Type, sub.Type)
	default:
		if sub.Kind == ir.ArgLifetime {
			return o.lifetimeIdentical(sub.Lifetime, super.Lifetime)
		}
		return o.Identical(sub.Type, super.Type)
	}
}

// LifetimeSubtype reports whether lifetime sub satisfies a demand for
// lifetime super. A longer region is usable where a shorter one is
// demanded, so the subtype relation follows containment: 'static
// contains everything, a universally quantified parameter contains
// every region local to the function, and two concrete regions compare
// by interval containment. Unbounded lifetimes mold to any demand;
// elided lifetimes impose no constraint here because their region
// obligations are enforced against inferred instance regions.
func (o *Oracle) LifetimeSubtype(sub, super ir.Lifetime) bool {
	if sub.Kind == ir.LifetimeUnbounded || super.Kind == ir.LifetimeUnbounded {
		return true
	}
	if sub.Kind == ir.LifetimeInferred || super.Kind == ir.LifetimeInferred {
		return true
	}
	if sub.Kind == ir.LifetimeStatic {
		return true
	}
	switch super.Kind {
	case ir.LifetimeStatic:
		// Only 'static satisfies a static demand, handled above.
		return false
	case ir.LifetimeParam:
		return sub.Kind == ir.LifetimeParam && sub.Param == super.Param
	case ir.LifetimeConcrete:
		if sub.Kind == ir.LifetimeParam {
			// A caller's region outlives the whole call, hence any
			// region local to this function.
			return true
		}
		return o.arena.Contains(sub.Region, super.Region)
	default:
		return false
	}
}

// Identical reports structural identity, the relation demanded by
// invariant positions. Unbounded and elided lifetimes match anything;
// everything else must agree exactly.
func (o *Oracle) Identical(a, b ir.Type) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch b := b.(type) {
	case *ir.Ref:
		a, ok := a.(*ir.Ref)
		return ok && a.Kind == b.Kind &&
			o.lifetimeIdentical(a.Lifetime, b.Lifetime) &&
			o.Identical(a.Elem, b.Elem)
	case *ir.RawPtr:
		a, ok := a.(*ir.RawPtr)
		return ok && a.Mutable == b.Mutable && o.Identical(a.Elem, b.Elem)
	case *ir.Box:
		a, ok := a.(*ir.Box)
		return ok && o.Identical(a.Elem, b.Elem)
	case *ir.Cell:
		a, ok := a.(*ir.Cell)
		return ok && o.Identical(a.Elem, b.Elem)
	case *ir.Fn:
		a, ok := a.(*ir.Fn)
		if !ok || len(a.Params) != len(b.Params) {
			return false
		}
		for i := range b.Params {
			if !o.Identical(a.Params[i], b.Params[i]) {
				return false
			}
		}
		if a.Result == nil || b.Result == nil {
			return a.Result == nil && b.Result == nil
		}
		return o.Identical(a.Result, b.Result)
	case *ir.Ctor:
		a, ok := a.(*ir.Ctor)
		if !ok || a.Name != b.Name || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range b.Args {
			if a.Args[i].Kind != b.Args[i].Kind {
				return false
			}
			if a.Args[i].Kind == ir.ArgLifetime {
				if !o.lifetimeIdentical(a.Args[i].Lifetime, b.Args[i].Lifetime) {
					return false
				}
			} else if !o.Identical(a.Args[i].Type, b.Args[i].Type) {
				return false
			}
		}
		return true
	default:
		return a.Key() == b.Key()
	}
}

func (o *Oracle) lifetimeIdentical(a, b ir.Lifetime) bool {
	if a.Kind == ir.LifetimeUnbounded || b.Kind == ir.LifetimeUnbounded {
		return true
	}
	if a.Kind == ir.LifetimeInferred || b.Kind == ir.LifetimeInferred {
		return true
	}
	return a.Key() == b.Key()
}
