// Package report defines the structured findings the analysis emits:
// conflict kinds, per-function results and the module-level verdict.
// Findings are values, not errors; a function whose IR violates the
// input contract gets an invalid result instead of findings.
package report

import (
	"fmt"
	"sort"

	"github.com/gdennie/nomicon/internal/region"
)

// Kind classifies a conflict.
type Kind int

const (
	// ExclusivityViolation: overlapping exclusive/shared borrows of one
	// storage location.
	ExclusivityViolation Kind = iota
	// SubtypeMismatch: a boundary-crossing type or lifetime
	// incompatibility at a call, assignment or return.
	SubtypeMismatch
	// UnboundedEscape: an unbounded reference crosses the function
	// return without having been narrowed first.
	UnboundedEscape
	// VarianceUnresolved: the variance fixed point for a recursive
	// constructor declaration failed to converge.
	VarianceUnresolved
)

func (k Kind) String() string {
	switch k {
	case ExclusivityViolation:
		return "exclusivity-violation"
	case SubtypeMismatch:
		return "subtype-mismatch"
	case UnboundedEscape:
		return "unbounded-escape"
	case VarianceUnresolved:
		return "recursive-variance-unresolved"
	default:
		return "unknown"
	}
}

// Code returns the stable short code used in rendered headers.
func (k Kind) Code() string {
	switch k {
	case ExclusivityViolation:
		return "N100"
	case SubtypeMismatch:
		return "N200"
	case UnboundedEscape:
		return "N300"
	case VarianceUnresolved:
		return "N400"
	default:
		return "N000"
	}
}

// MarshalText renders the kind name, so JSON output carries the
// classification rather than an enum ordinal.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText accepts the names MarshalText produces, so clients
// can decode daemon responses back into Conflict values.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "exclusivity-violation":
		*k = ExclusivityViolation
	case "subtype-mismatch":
		*k = SubtypeMismatch
	case "unbounded-escape":
		*k = UnboundedEscape
	case "recursive-variance-unresolved":
		*k = VarianceUnresolved
	default:
		return fmt.Errorf("report: unknown conflict kind %q", text)
	}
	return nil
}

// Severity ranks a finding for rendering and summary counts.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Severity returns the rendering class of the kind. An escape finding
// is a warning-class report: it flips the verdict like any other
// finding but flags a latent defect rather than a broken invariant.
func (k Kind) Severity() Severity {
	if k == UnboundedEscape {
		return SeverityWarning
	}
	return SeverityError
}

// Conflict is one finding. Point orders findings within a function;
// Where carries the source attribution when the IR had spans. The
// remaining fields name the involved parties and are filled per kind.
type Conflict struct {
	Kind     Kind         `json:"kind"`
	Function string       `json:"function,omitempty"`
	Ctor     string       `json:"constructor,omitempty"`
	Point    region.Point `json:"point"`
	Where    string       `json:"where,omitempty"`
	Location string       `json:"location,omitempty"`
	Actual   string       `json:"actual,omitempty"`
	Expected string       `json:"expected,omitempty"`
	Regions  []string     `json:"regions,omitempty"`
	Detail   string       `json:"detail"`
}

func (c Conflict) String() string {
	head := fmt.Sprintf("%s[%s]", c.Kind.Severity(), c.Kind.Code())
	if c.Detail != "" {
		return fmt.Sprintf("%s: %s", head, c.Detail)
	}
	return fmt.Sprintf("%s: %s", head, c.Kind)
}

// SortConflicts orders findings by program point, then kind, then
// detail, giving every run the same output order.
func SortConflicts(cs []Conflict) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Point != b.Point {
			return a.Point < b.Point
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Detail < b.Detail
	})
}

// Verdict is the per-function outcome.
type Verdict int

const (
	// Accepted: the function produced zero findings.
	Accepted Verdict = iota
	// Rejected: at least one finding, of any severity.
	Rejected
	// Invalid: the function's IR violated the input contract; no
	// analysis was performed.
	Invalid
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func (v Verdict) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

// UnmarshalText is the inverse of MarshalText.
func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "accepted":
		*v = Accepted
	case "rejected":
		*v = Rejected
	case "invalid":
		*v = Invalid
	default:
		return fmt.Errorf("report: unknown verdict %q", text)
	}
	return nil
}

// FunctionResult is one function's verdict plus its ordered findings.
type FunctionResult struct {
	Function  string     `json:"function"`
	Verdict   Verdict    `json:"verdict"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
	Err       string     `json:"error,omitempty"`
}

// ForFunction builds a result from the accumulated findings, sorting
// them and deriving the verdict.
func ForFunction(name string, conflicts []Conflict) FunctionResult {
	SortConflicts(conflicts)
	r := FunctionResult{Function: name, Conflicts: conflicts}
	if len(conflicts) > 0 {
		r.Verdict = Rejected
	}
	return r
}

// ForInvalid builds the result for a function whose IR failed
// validation.
func ForInvalid(name string, err error) FunctionResult {
	return FunctionResult{Function: name, Verdict: Invalid, Err: err.Error()}
}

// Accepted reports whether the function passed cleanly.
func (r FunctionResult) Accepted() bool { return r.Verdict == Accepted }

// ModuleResult aggregates one analysis run over a module.
type ModuleResult struct {
	Module    string           `json:"module,omitempty"`
	Variance  []Conflict       `json:"variance,omitempty"`
	Functions []FunctionResult `json:"functions"`
}

// Accepted reports whether every function passed and the declaration
// set froze cleanly.
func (m ModuleResult) Accepted() bool {
	if len(m.Variance) > 0 {
		return false
	}
	for _, f := range m.Functions {
		if !f.Accepted() {
			return false
		}
	}
	return true
}

// Counts tallies findings by severity across the whole module.
func (m ModuleResult) Counts() (errors, warnings int) {
	count := func(cs []Conflict) {
		for _, c := range cs {
			if c.Kind.Severity() == SeverityWarning {
				warnings++
			} else {
				errors++
			}
		}
	}
	count(m.Variance)
	for _, f := range m.Functions {
		count(f.Conflicts)
	}
	return errors, warnings
}

// Collector accumulates findings for one function, dropping past the
// configured cap so a pathological input cannot flood the output.
type Collector struct {
	max       int
	conflicts []Conflict
	dropped   int
}

// NewCollector creates a collector keeping at most max findings; a
// non-positive max keeps everything.
func NewCollector(max int) *Collector {
	return &Collector{max: max}
}

// Add records one finding, or counts it as dropped past the cap.
func (c *Collector) Add(conflict Conflict) {
	if c.max > 0 && len(c.conflicts) >= c.max {
		c.dropped++
		return
	}
	c.conflicts = append(c.conflicts, conflict)
}

// Conflicts returns the kept findings in insertion order.
func (c *Collector) Conflicts() []Conflict { return c.conflicts }

// Dropped returns how many findings the cap discarded.
func (c *Collector) Dropped() int { return c.dropped }
