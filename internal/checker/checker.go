// Package checker enforces the borrowing rules over one function at a
// time. It validates the input, runs liveness to assign every borrow
// its region, then walks the body in program order checking three
// things: that borrows of one location never overlap in conflicting
// kinds, that every direct read or write of a location respects its
// live borrows, and that every value crossing a declared boundary (a
// binding, a field, a call, a return) is a subtype of what the
// boundary declares. Findings accumulate as report conflicts; only a
// malformed function yields an error-shaped result.
package checker

import (
	"fmt"
	"strings"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/liveness"
	"github.com/gdennie/nomicon/internal/region"
	"github.com/gdennie/nomicon/internal/report"
	"github.com/gdennie/nomicon/internal/subtype"
	"github.com/gdennie/nomicon/internal/variance"
)

// Checker analyzes functions of one module against a frozen variance
// table. A Checker is stateless across functions and safe for
// concurrent use once constructed.
type Checker struct {
	mod   *ir.Module
	table *variance.Table
	limit int
}

// New creates a checker for mod. The table must already be frozen.
func New(mod *ir.Module, table *variance.Table) *Checker {
	return &Checker{mod: mod, table: table}
}

// SetReportLimit caps the findings kept per function; non-positive
// keeps everything.
func (c *Checker) SetReportLimit(n int) { c.limit = n }

// CheckFunction analyzes one function and returns its result. The
// function must belong to the checker's module.
func (c *Checker) CheckFunction(fn *ir.Function) report.FunctionResult {
	if err := c.mod.ValidateFunction(fn); err != nil {
		return report.ForInvalid(fn.Name, err)
	}
	ix := fn.BuildIndex()
	arena := region.NewArena()
	w := &walker{
		mod:      c.mod,
		table:    c.table,
		fn:       fn,
		ix:       ix,
		arena:    arena,
		live:     liveness.Analyze(c.mod, fn, ix, arena),
		col:      report.NewCollector(c.limit),
		narrowed: make(map[int]bool),
	}
	w.oracle = subtype.NewOracle(arena, c.table)
	w.run()
	return report.ForFunction(fn.Name, w.col.Conflicts())
}

// ====== Function walk ======

type walker struct {
	mod      *ir.Module
	table    *variance.Table
	fn       *ir.Function
	ix       *ir.Index
	arena    *region.Arena
	live     *liveness.Result
	oracle   *subtype.Oracle
	col      *report.Collector
	narrowed map[int]bool // instance IDs whose unbounded tag was narrowed
}

func (w *walker) run() {
	w.checkOverlaps()
	for b, blk := range w.fn.Blocks {
		for i, s := range blk.Stmts {
			w.checkStmt(w.ix.StmtPoint(ir.BlockID(b), i), s)
		}
		w.checkTerm(w.ix.TermPoint(ir.BlockID(b)), blk.Term)
	}
}

func (w *walker) add(p region.Point, c report.Conflict) {
	c.Function = w.fn.Name
	c.Point = p
	if sp := w.ix.SpanAt(p); sp.IsValid() {
		c.Where = sp.String()
	}
	w.col.Add(c)
}

func (w *walker) name(l ir.LocalID) string { return w.fn.LocalName(l) }

func (w *walker) regionLabel(id region.ID) string {
	ivs := w.arena.Get(id).Intervals
	parts := make([]string, len(ivs))
	for i, iv := range ivs {
		parts[i] = fmt.Sprintf("[%d,%d]", iv.Start, iv.End)
	}
	return strings.Join(parts, "+")
}

func (w *walker) checkStmt(p region.Point, s ir.Stmt) {
	switch s := s.(type) {
	case *ir.Borrow:
		if s.Origin == ir.OriginRaw {
			w.checkRead(p, s.Src)
		}
		w.checkWrite(p, s.Dst)
		w.checkBorrowBinding(p, s)
	case *ir.Use:
		for _, l := range s.Operands {
			w.checkRead(p, l)
		}
	case *ir.Assign:
		w.checkRead(p, s.Src)
		w.checkWrite(p, s.Dst)
		w.checkAssign(p, s)
	case *ir.StoreField:
		w.checkRead(p, s.Src)
		w.checkWrite(p, s.Base)
		w.checkStoreField(p, s)
	case *ir.StoreThrough:
		w.checkRead(p, s.Src)
		w.checkRead(p, s.Ref)
		w.checkStoreThrough(p, s)
	case *ir.Call:
		for _, a := range s.Args {
			w.checkRead(p, a)
		}
		if s.Dst != ir.NoLocal {
			w.checkWrite(p, s.Dst)
		}
		w.checkCall(p, s)
	case *ir.Finalize:
		// Running a finalizer consumes the value, so it counts as a
		// write to the location.
		w.checkWrite(p, s.Local)
	}
}

func (w *walker) checkTerm(p region.Point, t ir.Terminator) {
	switch t := t.(type) {
	case *ir.If:
		w.checkRead(p, t.Cond)
	case *ir.Return:
		if t.Value != ir.NoLocal {
			w.checkRead(p, t.Value)
		}
		w.checkReturn(p, t)
	}
}

// ====== Exclusivity ======

// checkOverlaps reports every pair of borrows of one location whose
// regions overlap in conflicting kinds. The later creation gets the
// report.
func (w *walker) checkOverlaps() {
	for l := range w.fn.Locals {
		insts := w.live.OfLocation(ir.LocalID(l))
		for i := 0; i < len(insts); i++ {
			for j := i + 1; j < len(insts); j++ {
				a, b := insts[i], insts[j]
				if a.Kind == ir.BorrowShared && b.Kind == ir.BorrowShared {
					continue
				}
				if !w.arena.Overlaps(a.Region, b.Region) {
					continue
				}
				earlier, later := a, b
				if later.Def < earlier.Def {
					earlier, later = later, earlier
				}
				w.add(later.Def, report.Conflict{
					Kind:     report.ExclusivityViolation,
					Location: w.name(ir.LocalID(l)),
					Regions:  []string{w.regionLabel(earlier.Region), w.regionLabel(later.Region)},
					Detail: fmt.Sprintf("%s borrow of `%s` overlaps a live %s borrow",
						later.Kind, w.name(ir.LocalID(l)), earlier.Kind),
				})
			}
		}
	}
}

// checkRead reports a direct read of a location while an exclusive
// borrow of it is live. Shared borrows permit reads.
func (w *walker) checkRead(p region.Point, loc ir.LocalID) {
	for _, in := range w.live.OfLocation(loc) {
		if in.Kind != ir.BorrowExclusive || in.Def == p || !w.live.LiveAt(in, p) {
			continue
		}
		w.add(p, report.Conflict{
			Kind:     report.ExclusivityViolation,
			Location: w.name(loc),
			Regions:  []string{w.regionLabel(in.Region)},
			Detail:   fmt.Sprintf("read of `%s` while exclusively borrowed", w.name(loc)),
		})
	}
}

// checkWrite reports a direct write to a location while any borrow of
// it is live. Writing through an exclusive reference is the one
// legitimate path and goes through checkStoreThrough instead.
func (w *walker) checkWrite(p region.Point, loc ir.LocalID) {
	for _, in := range w.live.OfLocation(loc) {
		if in.Def == p || !w.live.LiveAt(in, p) {
			continue
		}
		w.add(p, report.Conflict{
			Kind:     report.ExclusivityViolation,
			Location: w.name(loc),
			Regions:  []string{w.regionLabel(in.Region)},
			Detail:   fmt.Sprintf("write to `%s` while it is borrowed as %s", w.name(loc), in.Kind),
		})
	}
}
