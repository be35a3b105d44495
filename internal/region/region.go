// Package region implements the containment lattice of program-point
// regions that lifetime inference and borrow checking operate on.
// A region names a span of program execution as a set of disjoint
// point-intervals, so a lifetime that pauses and resumes (a gap) is a
// single region with more than one interval. Regions live in an arena
// addressed by index and are discarded wholesale when the analysis of
// one function completes; they are never reused.
package region

import (
	"fmt"
	"sort"
	"strings"
)

// Point is a dense ordinal assigned to one program point of a function
// body. Point values are only meaningful within a single analysis run.
type Point int32

// NoPoint marks an absent program point.
const NoPoint Point = -1

// MaxPoint is the upper bound of the point space; the static region
// spans [0, MaxPoint] so that it contains every region by construction.
const MaxPoint Point = 1<<31 - 2

// Interval is a contiguous, inclusive range of program points.
type Interval struct {
	Start Point
	End   Point
}

// Contains reports whether p lies within the interval.
func (iv Interval) Contains(p Point) bool {
	return iv.Start <= p && p <= iv.End
}

// Covers reports whether every point of o lies within iv.
func (iv Interval) Covers(o Interval) bool {
	return iv.Start <= o.Start && o.End <= iv.End
}

// Overlaps reports whether iv and o share at least one point.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start <= o.End && o.Start <= iv.End
}

func (iv Interval) String() string {
	if iv.Start == iv.End {
		return fmt.Sprintf("[%d]", iv.Start)
	}
	return fmt.Sprintf("[%d,%d]", iv.Start, iv.End)
}

// ID addresses a region inside its arena. The zero ID is the static
// region of that arena.
type ID int32

// None marks an absent region.
const None ID = -1

// Kind classifies why a region was created.
type Kind int

const (
	KindStatic   Kind = iota // process-wide region containing all points
	KindScope                // lexical scope
	KindLoop                 // loop body, joined over iterations
	KindBranch               // conditional arm
	KindInferred             // inferred borrow lifetime
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindScope:
		return "scope"
	case KindLoop:
		return "loop"
	case KindBranch:
		return "branch"
	case KindInferred:
		return "inferred"
	default:
		return "unknown"
	}
}

// Region is one node of the containment lattice. Intervals are kept
// sorted by start point, disjoint and non-adjacent; Parent is the
// syntactically enclosing region, None only for the static root.
type Region struct {
	Parent    ID
	Kind      Kind
	Intervals []Interval
}

// Arena owns all regions of one analysis run. Index 0 is always the
// static region. An arena must not be shared across concurrently
// analyzed functions.
type Arena struct {
	regions []Region
}

// NewArena creates an arena seeded with the static region.
func NewArena() *Arena {
	a := &Arena{}
	a.regions = append(a.regions, Region{
		Parent:    None,
		Kind:      KindStatic,
		Intervals: []Interval{{Start: 0, End: MaxPoint}},
	})
	return a
}

// Static returns the ID of the arena's static region.
func (a *Arena) Static() ID { return 0 }

// Len returns the number of regions allocated so far.
func (a *Arena) Len() int { return len(a.regions) }

// Get returns the region for id, or nil if id is out of range.
func (a *Arena) Get(id ID) *Region {
	if id < 0 || int(id) >= len(a.regions) {
		return nil
	}
	return &a.regions[id]
}

// New allocates a region with the given parent, kind and intervals.
// Intervals are normalized: sorted, with overlapping or adjacent runs
// merged. An empty interval list yields a region containing no points.
func (a *Arena) New(parent ID, kind Kind, intervals ...Interval) ID {
	id := ID(len(a.regions))
	a.regions = append(a.regions, Region{
		Parent:    parent,
		Kind:      kind,
		Intervals: normalize(intervals),
	})
	return id
}

// FromPoints allocates a region covering exactly the given points,
// collapsing consecutive ordinals into intervals.
func (a *Arena) FromPoints(parent ID, kind Kind, points []Point) ID {
	return a.New(parent, kind, Intervalize(points)...)
}

// Contains reports whether outer contains inner: every interval of
// inner lies within some interval of outer. Containment is reflexive
// and transitive; identical IDs always contain each other.
func (a *Arena) Contains(outer, inner ID) bool {
	if outer == inner {
		return true
	}
	or := a.Get(outer)
	ir := a.Get(inner)
	if or == nil || ir == nil {
		return false
	}
	return covers(or.Intervals, ir.Intervals)
}

// Overlaps reports whether x and y share at least one point.
func (a *Arena) Overlaps(x, y ID) bool {
	xr := a.Get(x)
	yr := a.Get(y)
	if xr == nil || yr == nil {
		return false
	}
	i, j := 0, 0
	for i < len(xr.Intervals) && j < len(yr.Intervals) {
		if xr.Intervals[i].Overlaps(yr.Intervals[j]) {
			return true
		}
		if xr.Intervals[i].End < yr.Intervals[j].End {
			i++
		} else {
			j++
		}
	}
	return false
}

// FirstCommonPoint returns the earliest point shared by x and y, or
// NoPoint when the regions are disjoint.
func (a *Arena) FirstCommonPoint(x, y ID) Point {
	common := a.Intersect(x, y)
	if len(common) == 0 {
		return NoPoint
	}
	return common[0].Start
}

// Intersect returns the interval set shared by x and y.
func (a *Arena) Intersect(x, y ID) []Interval {
	xr := a.Get(x)
	yr := a.Get(y)
	if xr == nil || yr == nil {
		return nil
	}
	var out []Interval
	i, j := 0, 0
	for i < len(xr.Intervals) && j < len(yr.Intervals) {
		iv, jv := xr.Intervals[i], yr.Intervals[j]
		if iv.Overlaps(jv) {
			out = append(out, Interval{Start: maxPoint(iv.Start, jv.Start), End: minPoint(iv.End, jv.End)})
		}
		if iv.End < jv.End {
			i++
		} else {
			j++
		}
	}
	return out
}

// Join returns the smallest region containing both x and y. When one
// already contains the other, the containing region itself is
// returned, preserving antisymmetry of the containment order; only
// genuinely incomparable operands allocate a new region, parented at
// the nearest common ancestor.
func (a *Arena) Join(x, y ID) ID {
	if a.Contains(x, y) {
		return x
	}
	if a.Contains(y, x) {
		return y
	}
	xr := a.Get(x)
	yr := a.Get(y)
	if xr == nil {
		return y
	}
	if yr == nil {
		return x
	}
	merged := make([]Interval, 0, len(xr.Intervals)+len(yr.Intervals))
	merged = append(merged, xr.Intervals...)
	merged = append(merged, yr.Intervals...)
	return a.New(a.CommonAncestor(x, y), KindInferred, merged...)
}

// Split returns a region with the same extent as r minus the given gap
// points. When no gap point lands inside r, r itself is returned; the
// split region is parented at r, so r contains every split of itself.
func (a *Arena) Split(r ID, gaps []Point) ID {
	rr := a.Get(r)
	if rr == nil || len(gaps) == 0 {
		return r
	}
	inside := false
	for _, g := range gaps {
		if a.ContainsPoint(r, g) {
			inside = true
			break
		}
	}
	if !inside {
		return r
	}
	gapSet := make(map[Point]struct{}, len(gaps))
	for _, g := range gaps {
		gapSet[g] = struct{}{}
	}
	var out []Interval
	for _, iv := range rr.Intervals {
		start := iv.Start
		for p := iv.Start; p <= iv.End; p++ {
			if _, gap := gapSet[p]; gap {
				if start < p {
					out = append(out, Interval{Start: start, End: p - 1})
				}
				start = p + 1
			}
		}
		if start <= iv.End {
			out = append(out, Interval{Start: start, End: iv.End})
		}
	}
	return a.New(r, rr.Kind, out...)
}

// ContainsPoint reports whether p lies within region r.
func (a *Arena) ContainsPoint(r ID, p Point) bool {
	rr := a.Get(r)
	if rr == nil {
		return false
	}
	n := sort.Search(len(rr.Intervals), func(i int) bool {
		return rr.Intervals[i].End >= p
	})
	return n < len(rr.Intervals) && rr.Intervals[n].Contains(p)
}

// CommonAncestor returns the nearest region that is an ancestor of
// both x and y via the Parent chain, falling back to the static root.
func (a *Arena) CommonAncestor(x, y ID) ID {
	seen := make(map[ID]struct{})
	for id := x; id != None; id = a.parentOf(id) {
		seen[id] = struct{}{}
	}
	for id := y; id != None; id = a.parentOf(id) {
		if _, ok := seen[id]; ok {
			return id
		}
	}
	return a.Static()
}

func (a *Arena) parentOf(id ID) ID {
	r := a.Get(id)
	if r == nil {
		return None
	}
	return r.Parent
}

// String returns a debug dump of the arena.
func (a *Arena) String() string {
	var b strings.Builder
	b.WriteString("RegionArena {\n")
	for id, r := range a.regions {
		parts := make([]string, len(r.Intervals))
		for i, iv := range r.Intervals {
			parts[i] = iv.String()
		}
		b.WriteString(fmt.Sprintf("  #%d %s parent=%d %s\n", id, r.Kind, r.Parent, strings.Join(parts, " ")))
	}
	b.WriteString("}\n")
	return b.String()
}

// Merge normalizes an interval set: sorted by start, with overlapping
// and adjacent runs collapsed.
func Merge(intervals []Interval) []Interval {
	return normalize(intervals)
}

// Covers reports whether the normalized interval set outer contains
// every point of the normalized set inner.
func Covers(outer, inner []Interval) bool {
	return covers(outer, inner)
}

// Intervalize collapses a set of points into sorted disjoint intervals
// of consecutive ordinals.
func Intervalize(points []Point) []Interval {
	if len(points) == 0 {
		return nil
	}
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []Interval
	cur := Interval{Start: sorted[0], End: sorted[0]}
	for _, p := range sorted[1:] {
		if p == cur.End || p == cur.End+1 {
			cur.End = p
			continue
		}
		out = append(out, cur)
		cur = Interval{Start: p, End: p}
	}
	return append(out, cur)
}

// normalize sorts intervals and merges overlapping or adjacent runs.
func normalize(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// covers reports whether every interval of inner lies within some
// interval of outer. Both sets must be normalized.
func covers(outer, inner []Interval) bool {
	i := 0
	for _, in := range inner {
		for i < len(outer) && outer[i].End < in.Start {
			i++
		}
		if i >= len(outer) || !outer[i].Covers(in) {
			return false
		}
	}
	return true
}

func minPoint(a, b Point) Point {
	if a < b {
		return a
	}
	return b
}

func maxPoint(a, b Point) Point {
	if a > b {
		return a
	}
	return b
}
