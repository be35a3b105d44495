// Package variance computes, per generic constructor, how each
// parameter position relates subtyping of arguments to subtyping of
// the constructed type. Vectors are derived purely from field
// structure by a monotone fixed point over the declaration set, then
// frozen; after freezing the table is immutable and safe for
// concurrent readers without locking.
package variance

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gdennie/nomicon/internal/ir"
)

// ErrFrozen is returned when a declaration arrives after Freeze.
var ErrFrozen = errors.New("variance: table is frozen")

// UnresolvedError reports that the fixed point did not stabilize
// within its pass budget. The declaration set itself is at fault, so
// this is a configuration error, not a per-call one.
type UnresolvedError struct {
	Constructors []string
	Passes       int
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("variance: recursive declarations %s did not converge after %d passes",
		strings.Join(e.Constructors, ", "), e.Passes)
}

// Join combines two observations of the same parameter. Bivariant is
// the identity; agreeing signs keep their sign; mixed signs or any
// invariant operand collapse to invariant.
func Join(a, b ir.Variance) ir.Variance {
	switch {
	case a == b:
		return a
	case a == ir.VarianceBivariant:
		return b
	case b == ir.VarianceBivariant:
		return a
	default:
		return ir.VarianceInvariant
	}
}

// Compose transforms the variance of a nested occurrence by the
// variance of the position it sits in. Two negatives cancel; an
// invariant position freezes everything below it; a bivariant
// position contributes nothing at all.
func Compose(outer, inner ir.Variance) ir.Variance {
	switch {
	case outer == ir.VarianceBivariant || inner == ir.VarianceBivariant:
		return ir.VarianceBivariant
	case outer == ir.VarianceInvariant || inner == ir.VarianceInvariant:
		return ir.VarianceInvariant
	case outer == inner:
		return ir.VarianceCovariant
	default:
		return ir.VarianceContravariant
	}
}

// Table holds the variance vectors of one declaration set. Lifecycle:
// Define every constructor, Freeze once, then read Vector from any
// goroutine. Define after Freeze fails; Vector before Freeze panics,
// because reading half-computed vectors is a programming error, not a
// recoverable condition.
type Table struct {
	order     []string
	decls     map[string]*ir.Constructor
	vectors   map[string][]ir.Variance
	frozen    bool
	maxPasses int
}

// NewTable creates an empty, unfrozen table.
func NewTable() *Table {
	return &Table{
		decls:   make(map[string]*ir.Constructor),
		vectors: make(map[string][]ir.Variance),
	}
}

// SetMaxPasses overrides the fixed-point pass budget. Zero restores
// the automatic bound derived from the declaration set.
func (t *Table) SetMaxPasses(n int) { t.maxPasses = n }

// Define registers one constructor declaration.
func (t *Table) Define(c *ir.Constructor) error {
	if t.frozen {
		return ErrFrozen
	}
	if _, dup := t.decls[c.Name]; dup {
		return fmt.Errorf("variance: constructor %q defined twice", c.Name)
	}
	t.decls[c.Name] = c
	t.order = append(t.order, c.Name)
	return nil
}

// Frozen reports whether the table has been frozen.
func (t *Table) Frozen() bool { return t.frozen }

// Freeze runs the fixed point and seals the table. Freezing an
// already frozen table is a no-op, so repeated freezes observe
// identical vectors.
func (t *Table) Freeze() error {
	if t.frozen {
		return nil
	}

	for _, name := range t.order {
		t.vectors[name] = make([]ir.Variance, len(t.decls[name].Params))
	}

	budget := t.maxPasses
	if budget <= 0 {
		total := 0
		for _, name := range t.order {
			total += len(t.decls[name].Params)
		}
		// Every parameter climbs the lattice at most twice, plus one
		// pass to observe stability.
		budget = 2*total + 2
	}

	for pass := 1; pass <= budget; pass++ {
		changed := t.pass()
		if len(changed) == 0 {
			t.frozen = true
			return nil
		}
		if pass == budget {
			sort.Strings(changed)
			return &UnresolvedError{Constructors: changed, Passes: pass}
		}
	}
	t.frozen = true
	return nil
}

// pass recomputes every vector from the current assumptions and
// returns the names whose vector changed.
func (t *Table) pass() []string {
	var changed []string
	for _, name := range t.order {
		decl := t.decls[name]
		next := make([]ir.Variance, len(decl.Params))
		slot := make(map[string]int, len(decl.Params))
		for i, p := range decl.Params {
			slot[p.Name] = i
		}
		for _, f := range decl.Fields {
			t.walk(f.Type, ir.VarianceCovariant, slot, next)
		}
		if !vectorsEqual(t.vectors[name], next) {
			t.vectors[name] = next
			changed = append(changed, name)
		}
	}
	return changed
}

// walk visits one field type, contributing the composed variance of
// every parameter occurrence into out.
func (t *Table) walk(typ ir.Type, ctx ir.Variance, slot map[string]int, out []ir.Variance) {
	switch typ := typ.(type) {
	case *ir.Base:
		// Leaf, no occurrences.
	case *ir.TypeParam:
		t.contribute(typ.Name, ctx, slot, out)
	case *ir.Ref:
		t.lifetime(typ.Lifetime, ctx, slot, out)
		if typ.Kind == ir.BorrowExclusive {
			// Writable through the reference: the referent is read
			// and written, so its position is invariant.
			t.walk(typ.Elem, Compose(ctx, ir.VarianceInvariant), slot, out)
		} else {
			t.walk(typ.Elem, ctx, slot, out)
		}
	case *ir.RawPtr:
		if typ.Mutable {
			t.walk(typ.Elem, Compose(ctx, ir.VarianceInvariant), slot, out)
		} else {
			t.walk(typ.Elem, ctx, slot, out)
		}
	case *ir.Box:
		// Sole ownership: narrowing is unobservable elsewhere.
		t.walk(typ.Elem, ctx, slot, out)
	case *ir.Cell:
		t.walk(typ.Elem, Compose(ctx, ir.VarianceInvariant), slot, out)
	case *ir.Fn:
		for _, p := range typ.Params {
			t.walk(p, Compose(ctx, ir.VarianceContravariant), slot, out)
		}
		if typ.Result != nil {
			t.walk(typ.Result, ctx, slot, out)
		}
	case *ir.Ctor:
		vec := t.vectors[typ.Name]
		for i, a := range typ.Args {
			inner := ir.VarianceBivariant
			if i < len(vec) {
				inner = vec[i]
			}
			composed := Compose(ctx, inner)
			if a.Kind == ir.ArgLifetime {
				t.lifetime(a.Lifetime, composed, slot, out)
			} else {
				t.walk(a.Type, composed, slot, out)
			}
		}
	}
}

func (t *Table) lifetime(l ir.Lifetime, ctx ir.Variance, slot map[string]int, out []ir.Variance) {
	if l.Kind == ir.LifetimeParam {
		t.contribute(l.Param, ctx, slot, out)
	}
}

func (t *Table) contribute(name string, v ir.Variance, slot map[string]int, out []ir.Variance) {
	if i, ok := slot[name]; ok {
		out[i] = Join(out[i], v)
	}
}

// Vector returns the frozen variance vector of the named constructor,
// aligned with its declared parameter order.
func (t *Table) Vector(name string) ([]ir.Variance, bool) {
	if !t.frozen {
		panic("variance: Vector read before Freeze")
	}
	vec, ok := t.vectors[name]
	return vec, ok
}

// String returns a readable dump of the frozen vectors.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString("VarianceTable {\n")
	for _, name := range t.order {
		vec := t.vectors[name]
		parts := make([]string, len(vec))
		for i, v := range vec {
			parts[i] = v.Symbol()
		}
		fmt.Fprintf(&b, "  %s: [%s]\n", name, strings.Join(parts, " "))
	}
	b.WriteString("}\n")
	return b.String()
}

func vectorsEqual(a, b []ir.Variance) bool {
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
