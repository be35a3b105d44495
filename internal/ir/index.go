package ir

import (
	"github.com/gdennie/nomicon/internal/position"
	"github.com/gdennie/nomicon/internal/region"
)

// PointRef locates the statement behind a program point. Stmt equals
// len(Block.Stmts) when the point is the block's terminator.
type PointRef struct {
	Block BlockID
	Stmt  int
}

// Index is the precomputed point numbering and control-flow adjacency
// of one function. Points are assigned densely in block declaration
// order: each statement takes one point, the terminator takes the
// block's final point. An Index is immutable once built and safe to
// share between readers.
type Index struct {
	fn         *Function
	blockStart []region.Point
	total      int
	at         []PointRef
	succs      [][]BlockID
	preds      [][]BlockID
	scopeIvs   [][]region.Interval
	scopeExit  []region.Point
}

// BuildIndex numbers the function's points and derives adjacency and
// scope extents. The function must already be validated.
func (f *Function) BuildIndex() *Index {
	ix := &Index{
		fn:         f,
		blockStart: make([]region.Point, len(f.Blocks)),
		succs:      make([][]BlockID, len(f.Blocks)),
		preds:      make([][]BlockID, len(f.Blocks)),
	}

	next := region.Point(0)
	for b, blk := range f.Blocks {
		ix.blockStart[b] = next
		for i := range blk.Stmts {
			ix.at = append(ix.at, PointRef{Block: BlockID(b), Stmt: i})
			next++
		}
		// Terminator point.
		ix.at = append(ix.at, PointRef{Block: BlockID(b), Stmt: len(blk.Stmts)})
		next++
	}
	ix.total = int(next)

	for b, blk := range f.Blocks {
		ix.succs[b] = blk.Term.Successors()
		for _, s := range ix.succs[b] {
			ix.preds[s] = append(ix.preds[s], BlockID(b))
		}
	}

	ix.buildScopeExtents()
	return ix
}

func (ix *Index) buildScopeExtents() {
	f := ix.fn
	ix.scopeIvs = make([][]region.Interval, len(f.Scopes))
	ix.scopeExit = make([]region.Point, len(f.Scopes))
	for s := range ix.scopeExit {
		ix.scopeExit[s] = region.NoPoint
	}

	for b, blk := range f.Blocks {
		iv := region.Interval{
			Start: ix.blockStart[b],
			End:   ix.TermPoint(BlockID(b)),
		}
		// A block extends its own scope and every enclosing scope.
		for s := blk.Scope; s != NoScope; s = f.Scopes[s].Parent {
			ix.scopeIvs[s] = append(ix.scopeIvs[s], iv)
			if iv.End > ix.scopeExit[s] {
				ix.scopeExit[s] = iv.End
			}
		}
	}
	for s := range ix.scopeIvs {
		ix.scopeIvs[s] = region.Merge(ix.scopeIvs[s])
	}
}

// NumPoints returns the total number of program points.
func (ix *Index) NumPoints() int { return ix.total }

// StmtPoint returns the point of statement i in block b.
func (ix *Index) StmtPoint(b BlockID, i int) region.Point {
	return ix.blockStart[b] + region.Point(i)
}

// TermPoint returns the point of block b's terminator.
func (ix *Index) TermPoint(b BlockID) region.Point {
	return ix.blockStart[b] + region.Point(len(ix.fn.Blocks[b].Stmts))
}

// BlockStart returns the first point of block b.
func (ix *Index) BlockStart(b BlockID) region.Point { return ix.blockStart[b] }

// At resolves a point back to its statement or terminator.
func (ix *Index) At(p region.Point) PointRef { return ix.at[p] }

// StmtAt returns the statement at p, or nil when p is a terminator.
func (ix *Index) StmtAt(p region.Point) Stmt {
	ref := ix.at[p]
	blk := ix.fn.Blocks[ref.Block]
	if ref.Stmt == len(blk.Stmts) {
		return nil
	}
	return blk.Stmts[ref.Stmt]
}

// TermAt returns the terminator at p, or nil when p is a statement.
func (ix *Index) TermAt(p region.Point) Terminator {
	ref := ix.at[p]
	blk := ix.fn.Blocks[ref.Block]
	if ref.Stmt == len(blk.Stmts) {
		return blk.Term
	}
	return nil
}

// SpanAt returns the source attribution of the event at p.
func (ix *Index) SpanAt(p region.Point) position.Span {
	if s := ix.StmtAt(p); s != nil {
		return s.Pos()
	}
	if t := ix.TermAt(p); t != nil {
		return t.Pos()
	}
	return position.Span{}
}

// Succs returns the successor blocks of b.
func (ix *Index) Succs(b BlockID) []BlockID { return ix.succs[b] }

// Preds returns the predecessor blocks of b.
func (ix *Index) Preds(b BlockID) []BlockID { return ix.preds[b] }

// SuccPoints appends the points executable immediately after p to buf
// and returns it. Within a block this is the next point; a terminator
// flows to the entry points of its successor blocks.
func (ix *Index) SuccPoints(p region.Point, buf []region.Point) []region.Point {
	ref := ix.at[p]
	blk := ix.fn.Blocks[ref.Block]
	if ref.Stmt < len(blk.Stmts) {
		return append(buf, p+1)
	}
	for _, s := range ix.succs[ref.Block] {
		buf = append(buf, ix.blockStart[s])
	}
	return buf
}

// PredPoints appends the points executable immediately before p to buf
// and returns it.
func (ix *Index) PredPoints(p region.Point, buf []region.Point) []region.Point {
	ref := ix.at[p]
	if p != ix.blockStart[ref.Block] {
		return append(buf, p-1)
	}
	for _, b := range ix.preds[ref.Block] {
		buf = append(buf, ix.TermPoint(b))
	}
	return buf
}

// ScopeIntervals returns the merged point intervals covered by scope s
// and its descendants.
func (ix *Index) ScopeIntervals(s ScopeID) []region.Interval {
	return ix.scopeIvs[s]
}

// ScopeExit returns the last point executed inside scope s, or NoPoint
// for a scope containing no blocks.
func (ix *Index) ScopeExit(s ScopeID) region.Point {
	return ix.scopeExit[s]
}
