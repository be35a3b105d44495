package report

import (
	"errors"
	"strings"
	"testing"

	"github.com/gdennie/nomicon/internal/region"
)

func TestKindStrings(t *testing.T) {
	tests := []struct {
		kind Kind
		name string
		code string
		sev  Severity
	}{
		{ExclusivityViolation, "exclusivity-violation", "N100", SeverityError},
		{SubtypeMismatch, "subtype-mismatch", "N200", SeverityError},
		{UnboundedEscape, "unbounded-escape", "N300", SeverityWarning},
		{VarianceUnresolved, "recursive-variance-unresolved", "N400", SeverityError},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.name {
			t.Errorf("%v.String() = %q, want %q", int(tt.kind), got, tt.name)
		}
		if got := tt.kind.Code(); got != tt.code {
			t.Errorf("%s.Code() = %q, want %q", tt.name, got, tt.code)
		}
		if got := tt.kind.Severity(); got != tt.sev {
			t.Errorf("%s.Severity() = %v, want %v", tt.name, got, tt.sev)
		}
	}
}

func TestForFunctionVerdict(t *testing.T) {
	clean := ForFunction("ok", nil)
	if !clean.Accepted() || clean.Verdict != Accepted {
		t.Errorf("no findings must be accepted, got %v", clean.Verdict)
	}

	// A lone warning-class finding still rejects.
	warned := ForFunction("escape", []Conflict{{Kind: UnboundedEscape, Point: 4}})
	if warned.Accepted() || warned.Verdict != Rejected {
		t.Errorf("warning-class finding must reject, got %v", warned.Verdict)
	}

	invalid := ForInvalid("broken", errors.New("block 3: terminator target out of range"))
	if invalid.Verdict != Invalid || invalid.Err == "" {
		t.Errorf("invalid result = %+v", invalid)
	}
}

func TestSortConflictsDeterministic(t *testing.T) {
	cs := []Conflict{
		{Kind: SubtypeMismatch, Point: 9, Detail: "b"},
		{Kind: ExclusivityViolation, Point: 2, Detail: "z"},
		{Kind: SubtypeMismatch, Point: 9, Detail: "a"},
		{Kind: ExclusivityViolation, Point: 9, Detail: "a"},
	}
	SortConflicts(cs)
	if cs[0].Point != 2 {
		t.Fatalf("sorted[0] = %+v, want point 2 first", cs[0])
	}
	if cs[1].Kind != ExclusivityViolation {
		t.Errorf("same point must order by kind, got %v", cs[1].Kind)
	}
	if cs[2].Detail != "a" || cs[3].Detail != "b" {
		t.Errorf("same point and kind must order by detail: %q then %q", cs[2].Detail, cs[3].Detail)
	}
}

func TestModuleAccepted(t *testing.T) {
	m := ModuleResult{
		Functions: []FunctionResult{ForFunction("a", nil), ForFunction("b", nil)},
	}
	if !m.Accepted() {
		t.Fatalf("all-clean module must be accepted")
	}

	m.Variance = []Conflict{{Kind: VarianceUnresolved, Ctor: "Knot", Point: -1}}
	if m.Accepted() {
		t.Errorf("a declaration finding must reject the module")
	}

	errors, warnings := m.Counts()
	if errors != 1 || warnings != 0 {
		t.Errorf("Counts = (%d, %d), want (1, 0)", errors, warnings)
	}
}

func TestCollectorCap(t *testing.T) {
	c := NewCollector(2)
	for i := 0; i < 5; i++ {
		c.Add(Conflict{Kind: ExclusivityViolation, Point: region.Point(i)})
	}
	if len(c.Conflicts()) != 2 {
		t.Fatalf("kept %d findings, want 2", len(c.Conflicts()))
	}
	if c.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", c.Dropped())
	}

	unlimited := NewCollector(0)
	for i := 0; i < 5; i++ {
		unlimited.Add(Conflict{Kind: ExclusivityViolation})
	}
	if len(unlimited.Conflicts()) != 5 || unlimited.Dropped() != 0 {
		t.Errorf("non-positive cap must keep everything")
	}
}

func TestRenderConflict(t *testing.T) {
	rd := &Renderer{}
	c := Conflict{
		Kind:     SubtypeMismatch,
		Function: "assign",
		Point:    7,
		Where:    "demo.nom:3:5",
		Actual:   "&'#2 i32",
		Expected: "&'#1 i32",
		Detail:   "argument 1 is not a subtype of the declared parameter",
	}
	out := rd.Conflict(c)
	for _, want := range []string{
		"error[N200]:",
		"--> demo.nom:3:5 (point 7)",
		"actual:   &'#2 i32",
		"expected: &'#1 i32",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered conflict missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("color disabled but ANSI codes present:\n%s", out)
	}

	colored := (&Renderer{Color: true}).Conflict(c)
	if !strings.Contains(colored, "\033[31merror\033[0m") {
		t.Errorf("color enabled but severity not wrapped:\n%q", colored)
	}
}

func TestRenderModule(t *testing.T) {
	rd := &Renderer{}
	m := ModuleResult{
		Module: "demo",
		Functions: []FunctionResult{
			ForFunction("ok", nil),
			ForFunction("bad", []Conflict{{
				Kind:   ExclusivityViolation,
				Point:  3,
				Detail: "exclusive borrow of `x` overlaps an earlier shared borrow",
			}}),
		},
	}
	out := rd.Module(m)
	for _, want := range []string{
		"module demo",
		"fn ok: accepted",
		"fn bad: rejected (1 findings)",
		"error[N100]:",
		"Found 1 error(s) and 0 warning(s).",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered module missing %q:\n%s", want, out)
		}
	}

	clean := ModuleResult{Functions: []FunctionResult{ForFunction("ok", nil)}}
	if !strings.Contains(rd.Module(clean), "No conflicts.") {
		t.Errorf("clean module must render the no-conflict summary")
	}
}

func TestRenderTable(t *testing.T) {
	rd := &Renderer{}
	m := ModuleResult{
		Module: "demo",
		Functions: []FunctionResult{
			ForFunction("ok", nil),
			ForFunction("bad", []Conflict{
				{Kind: ExclusivityViolation, Point: 3, Detail: "exclusive borrow of `x` overlaps an earlier shared borrow"},
				{Kind: UnboundedEscape, Point: 7, Detail: "returned reference has no traceable bound"},
			}),
			ForInvalid("broken", errors.New("block 3: terminator target out of range")),
		},
	}
	out := rd.Table(m)
	for _, want := range []string{
		"module demo",
		"FUNCTION",
		"accepted",
		"rejected",
		"invalid",
		"Found 1 error(s) and 1 warning(s).",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestVerdictAndKindTextRoundTrip(t *testing.T) {
	for _, v := range []Verdict{Accepted, Rejected, Invalid} {
		text, err := v.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		var back Verdict
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if back != v {
			t.Errorf("round trip %v -> %q -> %v", v, text, back)
		}
	}
	var k Kind
	if err := k.UnmarshalText([]byte("subtype-mismatch")); err != nil || k != SubtypeMismatch {
		t.Errorf("kind parse = %v, %v", k, err)
	}
	if err := k.UnmarshalText([]byte("meh")); err == nil {
		t.Error("unknown kind text must not parse")
	}
	var v Verdict
	if err := v.UnmarshalText([]byte("meh")); err == nil {
		t.Error("unknown verdict text must not parse")
	}
}

func TestWriteJSON(t *testing.T) {
	var b strings.Builder
	m := ModuleResult{
		Module: "demo",
		Functions: []FunctionResult{
			ForFunction("esc", []Conflict{{Kind: UnboundedEscape, Point: 5, Detail: "returned reference has no traceable bound"}}),
		},
	}
	if err := WriteJSON(&b, m); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	out := b.String()
	for _, want := range []string{
		`"kind": "unbounded-escape"`,
		`"verdict": "rejected"`,
		`"module": "demo"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON missing %s:\n%s", want, out)
		}
	}
}
