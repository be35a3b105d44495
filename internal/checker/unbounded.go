package checker

import (
	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/liveness"
	"github.com/gdennie/nomicon/internal/region"
	"github.com/gdennie/nomicon/internal/report"
)

// ====== Unbounded lifetimes ======

// narrowInto records that an unbounded instance has flowed into a
// context demanding a named or static lifetime. From that flow on the
// instance is treated as bounded: the demand it satisfied is the only
// claim anyone made about it.
func (w *walker) narrowInto(in *liveness.Instance, expected ir.Type) {
	if !in.Unbounded || w.narrowed[in.ID] {
		return
	}
	ref, ok := expected.(*ir.Ref)
	if !ok {
		return
	}
	switch ref.Lifetime.Kind {
	case ir.LifetimeParam, ir.LifetimeStatic:
		w.narrowed[in.ID] = true
	}
}

// checkReturn validates the returned value against the declared
// result. A result type without lifetimes transfers ownership and
// needs no region reasoning. A returned reference must not be bounded
// by a region that ends with this function, and an unbounded one must
// have been narrowed somewhere on the way out.
func (w *walker) checkReturn(p region.Point, t *ir.Return) {
	if t.Value == ir.NoLocal || w.fn.Result == nil {
		return
	}
	if !ir.MentionsLifetime(w.fn.Result) {
		// The value leaves by value.
		return
	}
	held := w.live.HeldAt(p, t.Value)
	if len(held) == 0 {
		actual := w.fn.Locals[t.Value].Type
		if !w.oracle.IsSubtype(actual, w.fn.Result) {
			w.add(p, subtypeConflict(
				w.name(t.Value), actual, w.fn.Result,
				"returned value is not a subtype of the declared result",
			))
		}
		return
	}
	for _, in := range held {
		if in.Unbounded {
			if w.narrowed[in.ID] {
				continue
			}
			w.add(p, report.Conflict{
				Kind:     report.UnboundedEscape,
				Location: w.name(t.Value),
				Detail:   "returned reference has no traceable bound",
			})
			continue
		}
		w.add(p, report.Conflict{
			Kind:     report.UnboundedEscape,
			Location: w.name(t.Value),
			Regions:  []string{w.regionLabel(in.Region)},
			Detail:   "returned reference is bounded only by a region local to the function",
		})
	}
}
