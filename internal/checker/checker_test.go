package checker

import (
	"strings"
	"testing"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/region"
	"github.com/gdennie/nomicon/internal/report"
	"github.com/gdennie/nomicon/internal/variance"
)

var i32 = &ir.Base{Name: "i32"}

func sharedRef(elem ir.Type) *ir.Ref {
	return &ir.Ref{Kind: ir.BorrowShared, Lifetime: ir.InferredLifetime(), Elem: elem}
}

func exclRef(elem ir.Type) *ir.Ref {
	return &ir.Ref{Kind: ir.BorrowExclusive, Lifetime: ir.InferredLifetime(), Elem: elem}
}

func paramRef(name string) *ir.Ref {
	return &ir.Ref{Kind: ir.BorrowShared, Lifetime: ir.ParamLifetime(name), Elem: i32}
}

func freezeTable(t *testing.T, mod *ir.Module) *variance.Table {
	t.Helper()
	table := variance.NewTable()
	for _, c := range mod.Constructors {
		if err := table.Define(c); err != nil {
			t.Fatalf("define %s: %v", c.Name, err)
		}
	}
	if err := table.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return table
}

func check(t *testing.T, mod *ir.Module, fn *ir.Function) report.FunctionResult {
	t.Helper()
	return New(mod, freezeTable(t, mod)).CheckFunction(fn)
}

func wantAccepted(t *testing.T, res report.FunctionResult) {
	t.Helper()
	if res.Verdict != report.Accepted {
		t.Fatalf("verdict = %s, want accepted; conflicts: %v", res.Verdict, res.Conflicts)
	}
}

// wantOnly asserts a single finding of the given kind at the given
// point and returns it for further inspection.
func wantOnly(t *testing.T, res report.FunctionResult, kind report.Kind, p region.Point) report.Conflict {
	t.Helper()
	if res.Verdict != report.Rejected {
		t.Fatalf("verdict = %s, want rejected", res.Verdict)
	}
	if len(res.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1: %v", len(res.Conflicts), res.Conflicts)
	}
	c := res.Conflicts[0]
	if c.Kind != kind || c.Point != p {
		t.Fatalf("conflict = %s at point %d, want %s at point %d", c.Kind, c.Point, kind, p)
	}
	return c
}

func singleBlock(name string, locals []ir.Local, stmts []ir.Stmt, term ir.Terminator) *ir.Function {
	return &ir.Function{
		Name:   name,
		Locals: locals,
		Scopes: []ir.Scope{{Parent: ir.NoScope, Kind: ir.ScopeFunction}},
		Blocks: []*ir.Block{{Scope: 0, Stmts: stmts, Term: term}},
	}
}

// ====== Exclusivity ======

func TestWriteToBorrowedLocation(t *testing.T) {
	// bb0: r = &x; x = y; use r  -- the write lands inside the region.
	fn := singleBlock("clobber",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "y", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.Assign{Dst: 0, Src: 1},
			&ir.Use{Operands: []ir.LocalID{2}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.ExclusivityViolation, 1)
	if !strings.Contains(c.Detail, "write to `x`") {
		t.Errorf("detail = %q", c.Detail)
	}

	// bb0: r = &mut x; use r; x = y  -- the borrow is already dead.
	fn = singleBlock("release",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "y", Type: i32, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Use{Operands: []ir.LocalID{2}},
			&ir.Assign{Dst: 0, Src: 1},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	wantAccepted(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn))
}

func TestReadWhileExclusivelyBorrowed(t *testing.T) {
	// bb0: r = &mut x; use x; use x; use r
	fn := singleBlock("reads",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Use{Operands: []ir.LocalID{0}},
			&ir.Use{Operands: []ir.LocalID{0}},
			&ir.Use{Operands: []ir.LocalID{1}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	res := check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn)
	if len(res.Conflicts) != 2 {
		t.Fatalf("got %d conflicts, want one per read: %v", len(res.Conflicts), res.Conflicts)
	}
	for i, c := range res.Conflicts {
		if c.Kind != report.ExclusivityViolation || c.Point != region.Point(i+1) {
			t.Errorf("conflict %d = %s at point %d", i, c.Kind, c.Point)
		}
		if !strings.Contains(c.Detail, "read of `x`") {
			t.Errorf("detail = %q", c.Detail)
		}
	}
}

func TestOverlappingBorrows(t *testing.T) {
	// bb0: r = &mut x; s = &x; use r; use s
	fn := singleBlock("mixed",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
			{Name: "s", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.Use{Operands: []ir.LocalID{1}},
			&ir.Use{Operands: []ir.LocalID{2}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.ExclusivityViolation, 1)
	if !strings.Contains(c.Detail, "shared borrow of `x` overlaps a live exclusive borrow") {
		t.Errorf("detail = %q", c.Detail)
	}
	if len(c.Regions) != 2 || c.Regions[0] != "[0,2]" || c.Regions[1] != "[1,3]" {
		t.Errorf("regions = %v", c.Regions)
	}

	// Two shared borrows of one location may overlap freely.
	fn = singleBlock("aliased",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
			{Name: "s", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared},
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.Use{Operands: []ir.LocalID{1}},
			&ir.Use{Operands: []ir.LocalID{2}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	wantAccepted(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn))
}

// guardModule wraps an exclusive borrow in a Lock guard and reads the
// source while the guard is still in scope:
//
//	bb0: g = &mut x; use x; return
func guardModule(finalizer bool) (*ir.Module, *ir.Function) {
	mod := &ir.Module{
		Name: "guards",
		Constructors: []*ir.Constructor{{
			Name: "Lock",
			Params: []ir.CtorParam{
				{Name: "a", IsLifetime: true},
				{Name: "T"},
			},
			Finalizer: finalizer,
		}},
	}
	fn := singleBlock("hold",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "g", Type: &ir.Ctor{Name: "Lock", Args: []ir.Arg{
				ir.LifetimeArg(ir.InferredLifetime()),
				ir.TypeArg(i32),
			}}, Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Use{Operands: []ir.LocalID{0}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	mod.Functions = []*ir.Function{fn}
	return mod, fn
}

func TestGuardFinalizerForcesConflict(t *testing.T) {
	// With a finalizer the guard's borrow lives to the scope exit, so
	// the intervening read aliases an exclusive borrow.
	mod, fn := guardModule(true)
	c := wantOnly(t, check(t, mod, fn), report.ExclusivityViolation, 1)
	if !strings.Contains(c.Detail, "read of `x` while exclusively borrowed") {
		t.Errorf("detail = %q", c.Detail)
	}

	// Without one the borrow dies at its creation and the read is fine.
	mod, fn = guardModule(false)
	wantAccepted(t, check(t, mod, fn))
}

func TestFinalizeWhileBorrowed(t *testing.T) {
	// bb0: r = &x; finalize x; use r
	fn := singleBlock("early",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared},
			&ir.Finalize{Local: 0},
			&ir.Use{Operands: []ir.LocalID{1}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.ExclusivityViolation, 1)
	if !strings.Contains(c.Detail, "write to `x`") {
		t.Errorf("detail = %q", c.Detail)
	}
}

// ====== Stores ======

func TestStoreThrough(t *testing.T) {
	// Writing through a shared reference is rejected outright.
	fn := singleBlock("via_shared",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "y", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.StoreThrough{Ref: 2, Src: 1},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.ExclusivityViolation, 1)
	if !strings.Contains(c.Detail, "write through shared reference `r`") {
		t.Errorf("detail = %q", c.Detail)
	}

	// An exclusive reference admits the write, but the stored value
	// must still satisfy the referent type.
	fn = singleBlock("wrong_elem",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "b", Type: &ir.Base{Name: "bool"}, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowExclusive},
			&ir.StoreThrough{Ref: 2, Src: 1},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	c = wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.SubtypeMismatch, 1)
	if !strings.Contains(c.Detail, "value stored through `r`") {
		t.Errorf("detail = %q", c.Detail)
	}

	fn = singleBlock("via_excl",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "y", Type: i32, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowExclusive},
			&ir.StoreThrough{Ref: 2, Src: 1},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	wantAccepted(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn))
}

// holderModule declares Holder<'p> with one reference field.
func holderModule(fn *ir.Function) *ir.Module {
	return &ir.Module{
		Name: "fields",
		Constructors: []*ir.Constructor{{
			Name:   "Holder",
			Params: []ir.CtorParam{{Name: "p", IsLifetime: true}},
			Fields: []ir.Field{{Name: "item", Type: paramRef("p")}},
		}},
		Functions: []*ir.Function{fn},
	}
}

func TestStoreFieldLifetime(t *testing.T) {
	holder := &ir.Ctor{Name: "Holder", Args: []ir.Arg{
		ir.LifetimeArg(ir.ParamLifetime("h")),
	}}

	// A borrow of a local cannot fill a field demanding the caller's
	// lifetime.
	fn := singleBlock("fill",
		[]ir.Local{
			{Name: "h", Type: holder, Scope: 0},
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 1, Kind: ir.BorrowShared},
			&ir.StoreField{Base: 0, Field: "item", Src: 2},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	fn.LifetimeParams = []string{"h"}
	fn.NumParams = 1
	c := wantOnly(t, check(t, holderModule(fn), fn), report.SubtypeMismatch, 1)
	if !strings.Contains(c.Detail, "field `item` of Holder") {
		t.Errorf("detail = %q", c.Detail)
	}

	// A reference already carrying that lifetime fits.
	fn = singleBlock("refill",
		[]ir.Local{
			{Name: "h", Type: holder, Scope: 0},
			{Name: "v", Type: paramRef("h"), Scope: 0},
		},
		[]ir.Stmt{
			&ir.StoreField{Base: 0, Field: "item", Src: 1},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	fn.LifetimeParams = []string{"h"}
	fn.NumParams = 2
	wantAccepted(t, check(t, holderModule(fn), fn))
}

func TestAssignIntoLongerLifetime(t *testing.T) {
	// bb0: r = &x; p = r  -- a local borrow cannot rebind a parameter
	// that promises the caller's lifetime.
	fn := singleBlock("keep",
		[]ir.Local{
			{Name: "p", Type: paramRef("h"), Scope: 0},
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 1, Kind: ir.BorrowShared},
			&ir.Assign{Dst: 0, Src: 2},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	fn.LifetimeParams = []string{"h"}
	fn.NumParams = 1
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.SubtypeMismatch, 1)
	if !strings.Contains(c.Detail, "`r` is not assignable to `p`") {
		t.Errorf("detail = %q", c.Detail)
	}
}

// ====== Calls ======

// assignCallee is fn assign<'a>(slot: &mut &'a i32, val: &'a i32),
// which stores val through slot.
func assignCallee() *ir.Function {
	return &ir.Function{
		Name:           "assign",
		LifetimeParams: []string{"a"},
		NumParams:      2,
		Locals: []ir.Local{
			{Name: "slot", Type: exclRef(paramRef("a")), Scope: 0},
			{Name: "val", Type: paramRef("a"), Scope: 0},
		},
		Scopes: []ir.Scope{{Parent: ir.NoScope, Kind: ir.ScopeFunction}},
		Blocks: []*ir.Block{{Scope: 0, Stmts: []ir.Stmt{
			&ir.StoreThrough{Ref: 0, Src: 1},
		}, Term: &ir.Return{Value: ir.NoLocal}}},
	}
}

// shortWorld reproduces the classic too-short store: a reference into
// an inner-scope value is written through an outer reference binding
// that is read after the scope ends.
//
//	bb0 (scope 0): hello = &s; goto bb1
//	bb1 (scope 1): rh = &mut hello; wr = &w; assign(rh, wr); goto bb2
//	bb2 (scope 0): use hello; return
func shortWorld() (*ir.Module, *ir.Function) {
	fn := &ir.Function{
		Name: "demo",
		Locals: []ir.Local{
			{Name: "s", Type: i32, Scope: 0},
			{Name: "hello", Type: sharedRef(i32), Scope: 0},
			{Name: "w", Type: i32, Scope: 1},
			{Name: "rh", Type: exclRef(sharedRef(i32)), Scope: 1},
			{Name: "wr", Type: sharedRef(i32), Scope: 1},
		},
		Scopes: []ir.Scope{
			{Parent: ir.NoScope, Kind: ir.ScopeFunction},
			{Parent: 0, Kind: ir.ScopeBlock},
		},
		Blocks: []*ir.Block{
			{Scope: 0, Stmts: []ir.Stmt{
				&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared},
			}, Term: &ir.Goto{Target: 1}},
			{Scope: 1, Stmts: []ir.Stmt{
				&ir.Borrow{Dst: 3, Src: 1, Kind: ir.BorrowExclusive},
				&ir.Borrow{Dst: 4, Src: 2, Kind: ir.BorrowShared},
				&ir.Call{Dst: ir.NoLocal, Callee: "assign", Args: []ir.LocalID{3, 4}},
			}, Term: &ir.Goto{Target: 2}},
			{Scope: 0, Stmts: []ir.Stmt{
				&ir.Use{Operands: []ir.LocalID{1}},
			}, Term: &ir.Return{Value: ir.NoLocal}},
		},
	}
	mod := &ir.Module{Name: "calls", Functions: []*ir.Function{fn, assignCallee()}}
	return mod, fn
}

// longWorld is the same store with the stored borrow created first and
// used last, so it covers the outer binding's whole region.
//
//	bb0: wr = &w; hello = &s; rh = &mut hello; assign(rh, wr);
//	     use hello; use wr; return
func longWorld() (*ir.Module, *ir.Function) {
	fn := singleBlock("demo",
		[]ir.Local{
			{Name: "w", Type: i32, Scope: 0},
			{Name: "s", Type: i32, Scope: 0},
			{Name: "wr", Type: sharedRef(i32), Scope: 0},
			{Name: "hello", Type: sharedRef(i32), Scope: 0},
			{Name: "rh", Type: exclRef(sharedRef(i32)), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.Borrow{Dst: 3, Src: 1, Kind: ir.BorrowShared},
			&ir.Borrow{Dst: 4, Src: 3, Kind: ir.BorrowExclusive},
			&ir.Call{Dst: ir.NoLocal, Callee: "assign", Args: []ir.LocalID{4, 2}},
			&ir.Use{Operands: []ir.LocalID{3}},
			&ir.Use{Operands: []ir.LocalID{2}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	mod := &ir.Module{Name: "calls", Functions: []*ir.Function{fn, assignCallee()}}
	return mod, fn
}

func TestCallLifetimeBinding(t *testing.T) {
	// The exclusive outer reference pins 'a to the lifetime already
	// stored in hello; the too-short world borrow cannot satisfy it.
	mod, fn := shortWorld()
	c := wantOnly(t, check(t, mod, fn), report.SubtypeMismatch, 4)
	if !strings.Contains(c.Detail, "argument 2 of `assign`") {
		t.Errorf("detail = %q", c.Detail)
	}
	if c.Location != "wr" {
		t.Errorf("location = %q, want wr", c.Location)
	}

	mod, fn = longWorld()
	wantAccepted(t, check(t, mod, fn))
}

// pickCallee is fn pick<'a>(first: &'a i32, second: &'a i32) -> &'a i32.
func pickCallee() *ir.Function {
	return &ir.Function{
		Name:           "pick",
		LifetimeParams: []string{"a"},
		NumParams:      2,
		Result:         paramRef("a"),
		Locals: []ir.Local{
			{Name: "first", Type: paramRef("a"), Scope: 0},
			{Name: "second", Type: paramRef("a"), Scope: 0},
		},
		Scopes: []ir.Scope{{Parent: ir.NoScope, Kind: ir.ScopeFunction}},
		Blocks: []*ir.Block{{Scope: 0, Term: &ir.Return{Value: 0}}},
	}
}

func TestCallResultBinding(t *testing.T) {
	// Two covariant occurrences meet: 'a becomes the shorter region and
	// both arguments still satisfy it.
	choose := func(resultType ir.Type) (*ir.Module, *ir.Function) {
		fn := singleBlock("choose",
			[]ir.Local{
				{Name: "x", Type: i32, Scope: 0},
				{Name: "y", Type: i32, Scope: 0},
				{Name: "rx", Type: sharedRef(i32), Scope: 0},
				{Name: "ry", Type: sharedRef(i32), Scope: 0},
				{Name: "z", Type: resultType, Scope: 0},
			},
			[]ir.Stmt{
				&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
				&ir.Borrow{Dst: 3, Src: 1, Kind: ir.BorrowShared},
				&ir.Call{Dst: 4, Callee: "pick", Args: []ir.LocalID{2, 3}},
				&ir.Use{Operands: []ir.LocalID{4}},
			},
			&ir.Return{Value: ir.NoLocal},
		)
		return &ir.Module{Name: "calls", Functions: []*ir.Function{fn, pickCallee()}}, fn
	}

	mod, fn := choose(sharedRef(i32))
	wantAccepted(t, check(t, mod, fn))

	// A static binding demands more than the meet can deliver.
	mod, fn = choose(&ir.Ref{Kind: ir.BorrowShared, Lifetime: ir.StaticLifetime(), Elem: i32})
	c := wantOnly(t, check(t, mod, fn), report.SubtypeMismatch, 2)
	if !strings.Contains(c.Detail, "result of `pick` is not assignable to `z`") {
		t.Errorf("detail = %q", c.Detail)
	}
}

// ====== Returns ======

func TestReturnLocalBorrow(t *testing.T) {
	// fn ident<'a>(p: &'a i32) -> &'a i32 { return p }
	ident := &ir.Function{
		Name:           "ident",
		LifetimeParams: []string{"a"},
		NumParams:      1,
		Result:         paramRef("a"),
		Locals:         []ir.Local{{Name: "p", Type: paramRef("a"), Scope: 0}},
		Scopes:         []ir.Scope{{Parent: ir.NoScope, Kind: ir.ScopeFunction}},
		Blocks:         []*ir.Block{{Scope: 0, Term: &ir.Return{Value: 0}}},
	}
	wantAccepted(t, check(t, &ir.Module{Functions: []*ir.Function{ident}}, ident))

	// bb0: r = &x; return r  -- the region dies with the function.
	dangle := singleBlock("dangle",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: sharedRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared},
		},
		&ir.Return{Value: 1},
	)
	dangle.Result = sharedRef(i32)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{dangle}}, dangle),
		report.UnboundedEscape, 1)
	if !strings.Contains(c.Detail, "region local to the function") {
		t.Errorf("detail = %q", c.Detail)
	}
	if len(c.Regions) != 1 || c.Regions[0] != "[0,1]" {
		t.Errorf("regions = %v", c.Regions)
	}
	if c.Kind.Severity() != report.SeverityWarning {
		t.Errorf("escape findings rank as warnings")
	}
}

func TestUnboundedReturn(t *testing.T) {
	rawFn := func(name string, declared *ir.Ref, ltParams []string) *ir.Function {
		fn := singleBlock(name,
			[]ir.Local{
				{Name: "rp", Type: &ir.RawPtr{Mutable: true, Elem: i32}, Scope: 0},
				{Name: "p", Type: declared, Scope: 0},
			},
			[]ir.Stmt{
				&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared, Origin: ir.OriginRaw},
			},
			&ir.Return{Value: 1},
		)
		fn.LifetimeParams = ltParams
		fn.NumParams = 1
		fn.Result = declared
		return fn
	}

	// Returning a raw-origin reference that never met a lifetime
	// annotation escapes unbounded.
	fn := rawFn("fabricate", sharedRef(i32), nil)
	c := wantOnly(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn),
		report.UnboundedEscape, 1)
	if !strings.Contains(c.Detail, "no traceable bound") {
		t.Errorf("detail = %q", c.Detail)
	}

	// Binding it at a declared lifetime narrows it on the way out.
	fn = rawFn("lend", paramRef("a"), []string{"a"})
	wantAccepted(t, check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn))
}

// ====== Mechanics ======

func TestReportLimitCaps(t *testing.T) {
	fn := singleBlock("reads",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: exclRef(i32), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Use{Operands: []ir.LocalID{0}},
			&ir.Use{Operands: []ir.LocalID{0}},
			&ir.Use{Operands: []ir.LocalID{1}},
		},
		&ir.Return{Value: ir.NoLocal},
	)
	mod := &ir.Module{Functions: []*ir.Function{fn}}
	ck := New(mod, freezeTable(t, mod))
	ck.SetReportLimit(1)
	res := ck.CheckFunction(fn)
	if len(res.Conflicts) != 1 {
		t.Fatalf("got %d conflicts, want the cap of 1", len(res.Conflicts))
	}
	if res.Conflicts[0].Point != 1 {
		t.Errorf("kept conflict at point %d, want the first at 1", res.Conflicts[0].Point)
	}
}

func TestInvalidFunction(t *testing.T) {
	fn := singleBlock("bad",
		[]ir.Local{{Name: "x", Type: i32, Scope: 0}},
		[]ir.Stmt{&ir.Use{Operands: []ir.LocalID{7}}},
		&ir.Return{Value: ir.NoLocal},
	)
	res := check(t, &ir.Module{Functions: []*ir.Function{fn}}, fn)
	if res.Verdict != report.Invalid {
		t.Fatalf("verdict = %s, want invalid", res.Verdict)
	}
	if res.Err == "" {
		t.Errorf("invalid result must carry the validation error")
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("invalid result must carry no findings, got %v", res.Conflicts)
	}
}
