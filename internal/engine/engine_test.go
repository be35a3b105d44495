package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/report"
)

var i32 = &ir.Base{Name: "i32"}

func ref(kind ir.BorrowKind) *ir.Ref {
	return &ir.Ref{Kind: kind, Lifetime: ir.InferredLifetime(), Elem: i32}
}

func oneBlock(name string, locals []ir.Local, stmts []ir.Stmt) *ir.Function {
	return &ir.Function{
		Name:   name,
		Locals: locals,
		Scopes: []ir.Scope{{Parent: ir.NoScope, Kind: ir.ScopeFunction}},
		Blocks: []*ir.Block{{Scope: 0, Stmts: stmts, Term: &ir.Return{Value: ir.NoLocal}}},
	}
}

func cleanFn() *ir.Function {
	return oneBlock("clean",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "r", Type: ref(ir.BorrowShared), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowShared},
			&ir.Use{Operands: []ir.LocalID{1}},
		},
	)
}

// clashFn takes a shared borrow while an exclusive one is live.
func clashFn() *ir.Function {
	return oneBlock("clash",
		[]ir.Local{
			{Name: "x", Type: i32, Scope: 0},
			{Name: "a", Type: ref(ir.BorrowExclusive), Scope: 0},
			{Name: "b", Type: ref(ir.BorrowShared), Scope: 0},
		},
		[]ir.Stmt{
			&ir.Borrow{Dst: 1, Src: 0, Kind: ir.BorrowExclusive},
			&ir.Borrow{Dst: 2, Src: 0, Kind: ir.BorrowShared},
			&ir.Use{Operands: []ir.LocalID{1, 2}},
		},
	)
}

// brokenFn references an undeclared local, failing the body
// preconditions.
func brokenFn() *ir.Function {
	return oneBlock("broken",
		[]ir.Local{{Name: "x", Type: i32, Scope: 0}},
		[]ir.Stmt{&ir.Use{Operands: []ir.LocalID{7}}},
	)
}

func TestAnalyzeModule(t *testing.T) {
	mod := &ir.Module{
		Name:      "demo",
		Functions: []*ir.Function{cleanFn(), clashFn(), brokenFn()},
	}
	res, err := New().Analyze(context.Background(), mod)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Module != "demo" {
		t.Errorf("module = %q, want %q", res.Module, "demo")
	}

	want := []struct {
		name    string
		verdict report.Verdict
	}{
		{"clean", report.Accepted},
		{"clash", report.Rejected},
		{"broken", report.Invalid},
	}
	if len(res.Functions) != len(want) {
		t.Fatalf("got %d results, want %d", len(res.Functions), len(want))
	}
	for i, w := range want {
		got := res.Functions[i]
		if got.Function != w.name || got.Verdict != w.verdict {
			t.Errorf("result %d = %s/%s, want %s/%s", i, got.Function, got.Verdict, w.name, w.verdict)
		}
	}
	if kind := res.Functions[1].Conflicts[0].Kind; kind != report.ExclusivityViolation {
		t.Errorf("clash finding = %s, want %s", kind, report.ExclusivityViolation)
	}
	if res.Functions[2].Err == "" {
		t.Error("broken function carries no error")
	}
	if res.Accepted() {
		t.Error("module accepted despite findings")
	}
	if errs, warns := res.Counts(); errs != 1 || warns != 0 {
		t.Errorf("counts = %d errors, %d warnings, want 1, 0", errs, warns)
	}
}

// The result order follows declaration order, not completion order,
// for any worker bound.
func TestDeterministicAcrossWorkers(t *testing.T) {
	var fns []*ir.Function
	for i := 0; i < 4; i++ {
		c := cleanFn()
		c.Name = fmt.Sprintf("clean%d", i)
		d := clashFn()
		d.Name = fmt.Sprintf("clash%d", i)
		fns = append(fns, c, d)
	}
	mod := &ir.Module{Name: "wide", Functions: fns}

	serial := New()
	serial.SetWorkers(1)
	narrow, err := serial.Analyze(context.Background(), mod)
	if err != nil {
		t.Fatalf("serial analyze: %v", err)
	}

	parallel := New()
	parallel.SetWorkers(8)
	wide, err := parallel.Analyze(context.Background(), mod)
	if err != nil {
		t.Fatalf("parallel analyze: %v", err)
	}

	if !reflect.DeepEqual(narrow, wide) {
		t.Fatalf("results diverge across worker counts:\n serial: %+v\n parallel: %+v", narrow, wide)
	}
	for i, fn := range mod.Functions {
		if wide.Functions[i].Function != fn.Name {
			t.Errorf("result %d = %q, want %q", i, wide.Functions[i].Function, fn.Name)
		}
	}
}

// Outer's vector lags Inner's by one pass, so a two-pass budget leaves
// Outer unresolved and a three-pass budget converges.
func TestVarianceUnresolvedGate(t *testing.T) {
	mod := &ir.Module{
		Name: "rec",
		Constructors: []*ir.Constructor{
			{
				Name:   "Outer",
				Params: []ir.CtorParam{{Name: "T"}},
				Fields: []ir.Field{{Name: "inner", Type: &ir.Ctor{
					Name: "Inner",
					Args: []ir.Arg{{Kind: ir.ArgType, Type: &ir.TypeParam{Name: "T"}}},
				}}},
			},
			{
				Name:   "Inner",
				Params: []ir.CtorParam{{Name: "T"}},
				Fields: []ir.Field{{Name: "value", Type: &ir.TypeParam{Name: "T"}}},
			},
		},
		Functions: []*ir.Function{cleanFn()},
	}

	eng := New()
	eng.SetVariancePasses(2)
	res, err := eng.Analyze(context.Background(), mod)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Variance) != 1 {
		t.Fatalf("got %d variance findings, want 1: %v", len(res.Variance), res.Variance)
	}
	c := res.Variance[0]
	if c.Kind != report.VarianceUnresolved || c.Ctor != "Outer" {
		t.Errorf("finding = %s on %q, want %s on %q", c.Kind, c.Ctor, report.VarianceUnresolved, "Outer")
	}
	if !strings.Contains(c.Detail, "2 passes") {
		t.Errorf("detail = %q", c.Detail)
	}
	if len(res.Functions) != 0 {
		t.Errorf("functions checked under an unfrozen table: %d", len(res.Functions))
	}
	if res.Accepted() {
		t.Error("module accepted")
	}

	eng.SetVariancePasses(3)
	res, err = eng.Analyze(context.Background(), mod)
	if err != nil {
		t.Fatalf("analyze after raising budget: %v", err)
	}
	if len(res.Variance) != 0 || !res.Accepted() {
		t.Errorf("rerun: variance = %v, accepted = %v", res.Variance, res.Accepted())
	}
}

type panickyChecker struct{ boom string }

func (p panickyChecker) CheckFunction(fn *ir.Function) report.FunctionResult {
	if fn.Name == p.boom {
		panic("index out of range [3] with length 2")
	}
	return report.ForFunction(fn.Name, nil)
}

func TestPanicIsolation(t *testing.T) {
	fns := []*ir.Function{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	eng := New()
	eng.SetWorkers(2)
	results, err := eng.run(context.Background(), panickyChecker{boom: "b"}, fns)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !results[0].Accepted() || !results[2].Accepted() {
		t.Errorf("neighbours disturbed: %+v", results)
	}
	got := results[1]
	if got.Verdict != report.Invalid || !strings.Contains(got.Err, "analysis panicked") {
		t.Errorf("panicking function = %+v", got)
	}
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mod := &ir.Module{Name: "demo", Functions: []*ir.Function{cleanFn()}}
	if _, err := New().Analyze(ctx, mod); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want %v", err, context.Canceled)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	if _, err := New().Analyze(context.Background(), nil); err == nil {
		t.Error("nil module accepted")
	}

	dup := &ir.Module{
		Name:         "dup",
		Constructors: []*ir.Constructor{{Name: "P"}, {Name: "P"}},
	}
	_, err := New().Analyze(context.Background(), dup)
	if !errors.Is(err, ir.ErrMalformed) {
		t.Errorf("err = %v, want %v", err, ir.ErrMalformed)
	}
}

func TestDefaultWorkers(t *testing.T) {
	t.Setenv("NOMICON_MAX_CONCURRENCY", "3")
	if got := defaultWorkers(); got != 3 {
		t.Errorf("workers = %d, want 3", got)
	}
	t.Setenv("NOMICON_MAX_CONCURRENCY", "100000")
	if got := defaultWorkers(); got != 256 {
		t.Errorf("workers = %d, want the 256 cap", got)
	}
	t.Setenv("NOMICON_MAX_CONCURRENCY", "junk")
	if got := defaultWorkers(); got < 1 {
		t.Errorf("workers = %d, want at least 1", got)
	}
}
