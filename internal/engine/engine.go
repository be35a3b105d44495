// Package engine orchestrates one analysis run over a module: the
// constructor load phase (validation plus the variance fixed point),
// then per-function checking. Functions are independent, so the run
// fans out across a bounded worker pool; results land in declaration
// order regardless of completion order, and a failure inside one
// function never disturbs the others.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/gdennie/nomicon/internal/checker"
	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/report"
	"github.com/gdennie/nomicon/internal/variance"
)

// Engine runs module analyses. The zero-configured engine uses one
// worker per CPU and keeps every finding.
type Engine struct {
	workers        int
	reportLimit    int
	variancePasses int
}

// New creates an engine with default settings.
func New() *Engine { return &Engine{} }

// SetWorkers bounds the per-function parallelism; non-positive
// restores the default.
func (e *Engine) SetWorkers(n int) { e.workers = n }

// SetReportLimit caps findings kept per function; non-positive keeps
// everything.
func (e *Engine) SetReportLimit(n int) { e.reportLimit = n }

// SetVariancePasses overrides the variance fixed-point pass budget;
// non-positive restores the automatic bound.
func (e *Engine) SetVariancePasses(n int) { e.variancePasses = n }

// Analyze validates the module, freezes its variance table and checks
// every function. A non-nil error means the run itself could not
// proceed; analysis findings, including an unconverged variance fixed
// point, come back inside the result.
func (e *Engine) Analyze(ctx context.Context, mod *ir.Module) (report.ModuleResult, error) {
	if mod == nil {
		return report.ModuleResult{}, fmt.Errorf("engine: nil module")
	}
	if err := mod.Validate(); err != nil {
		return report.ModuleResult{}, fmt.Errorf("engine: load %q: %w", mod.Name, err)
	}

	out := report.ModuleResult{Module: mod.Name}
	table, unresolved, err := e.freezeTable(mod)
	if err != nil {
		return report.ModuleResult{}, err
	}
	if len(unresolved) > 0 {
		// Without frozen vectors no constructor subtyping question is
		// decidable, so function runs are skipped, not degraded.
		out.Variance = unresolved
		return out, nil
	}

	ck := checker.New(mod, table)
	if e.reportLimit > 0 {
		ck.SetReportLimit(e.reportLimit)
	}
	out.Functions, err = e.run(ctx, ck, mod.Functions)
	if err != nil {
		return report.ModuleResult{}, err
	}
	return out, nil
}

// ====== Load phase ======

// freezeTable defines every constructor and runs the variance fixed
// point. Non-convergence is an analysis finding, not an error.
func (e *Engine) freezeTable(mod *ir.Module) (*variance.Table, []report.Conflict, error) {
	table := variance.NewTable()
	if e.variancePasses > 0 {
		table.SetMaxPasses(e.variancePasses)
	}
	for _, c := range mod.Constructors {
		if err := table.Define(c); err != nil {
			return nil, nil, fmt.Errorf("engine: load %q: %w", mod.Name, err)
		}
	}
	err := table.Freeze()
	var ue *variance.UnresolvedError
	if errors.As(err, &ue) {
		conflicts := make([]report.Conflict, len(ue.Constructors))
		for i, name := range ue.Constructors {
			conflicts[i] = report.Conflict{
				Kind: report.VarianceUnresolved,
				Ctor: name,
				Detail: fmt.Sprintf("variance of recursive constructor `%s` did not converge after %d passes",
					name, ue.Passes),
			}
		}
		return nil, conflicts, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("engine: load %q: %w", mod.Name, err)
	}
	return table, nil, nil
}

// ====== Function fan-out ======

// functionChecker is the per-function analysis the pool drives.
type functionChecker interface {
	CheckFunction(fn *ir.Function) report.FunctionResult
}

// run checks fns over a bounded pool. Each slot in the returned slice
// matches the declaration at the same index.
func (e *Engine) run(ctx context.Context, ck functionChecker, fns []*ir.Function) ([]report.FunctionResult, error) {
	results := make([]report.FunctionResult, len(fns))
	sem := make(chan struct{}, e.poolSize())

	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			if err := gctx.Err(); err != nil {
				return err
			}

			results[i] = checkOne(ck, fn)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return results, nil
}

// checkOne shields the pool from a panicking analysis: the function
// comes back invalid and the rest of the module proceeds.
func checkOne(ck functionChecker, fn *ir.Function) (res report.FunctionResult) {
	defer func() {
		if r := recover(); r != nil {
			res = report.ForInvalid(fn.Name, fmt.Errorf("analysis panicked: %v", r))
		}
	}()
	return ck.CheckFunction(fn)
}

func (e *Engine) poolSize() int {
	if e.workers > 0 {
		return e.workers
	}
	return defaultWorkers()
}

// defaultWorkers reads NOMICON_MAX_CONCURRENCY if set, otherwise one
// worker per CPU. The analysis is CPU bound.
func defaultWorkers() int {
	if v := os.Getenv("NOMICON_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 256 {
				return 256
			}
			return n
		}
	}
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return n
}
