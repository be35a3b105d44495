package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Renderer produces the human-readable text form of results. Color
// wraps severity words in ANSI codes when enabled.
type Renderer struct {
	Color bool
}

func (rd *Renderer) severity(s Severity) string {
	if !rd.Color {
		return s.String()
	}
	code := "\033[31m"
	if s == SeverityWarning {
		code = "\033[33m"
	}
	return code + s.String() + "\033[0m"
}

// Conflict renders one finding as a header line plus attribution and
// involved-party lines.
func (rd *Renderer) Conflict(c Conflict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]: %s\n", rd.severity(c.Kind.Severity()), c.Kind.Code(), c.Detail)
	switch {
	case c.Where != "":
		fmt.Fprintf(&b, "  --> %s (point %d)\n", c.Where, c.Point)
	case c.Ctor != "":
		fmt.Fprintf(&b, "  --> constructor %s\n", c.Ctor)
	default:
		fmt.Fprintf(&b, "  --> point %d\n", c.Point)
	}
	if c.Location != "" {
		fmt.Fprintf(&b, "  location: %s\n", c.Location)
	}
	if c.Actual != "" || c.Expected != "" {
		fmt.Fprintf(&b, "  actual:   %s\n", c.Actual)
		fmt.Fprintf(&b, "  expected: %s\n", c.Expected)
	}
	if len(c.Regions) > 0 {
		fmt.Fprintf(&b, "  regions:  %s\n", strings.Join(c.Regions, " vs "))
	}
	return b.String()
}

// Function renders one function's verdict and findings.
func (rd *Renderer) Function(r FunctionResult) string {
	var b strings.Builder
	switch r.Verdict {
	case Accepted:
		fmt.Fprintf(&b, "fn %s: accepted\n", r.Function)
	case Invalid:
		fmt.Fprintf(&b, "fn %s: invalid: %s\n", r.Function, r.Err)
	default:
		fmt.Fprintf(&b, "fn %s: rejected (%d findings)\n", r.Function, len(r.Conflicts))
		for _, c := range r.Conflicts {
			b.WriteString(rd.Conflict(c))
		}
	}
	return b.String()
}

// Module renders the whole run: declaration findings first, then each
// function in order, then the summary line.
func (rd *Renderer) Module(m ModuleResult) string {
	var b strings.Builder
	if m.Module != "" {
		fmt.Fprintf(&b, "module %s\n", m.Module)
	}
	for _, c := range m.Variance {
		b.WriteString(rd.Conflict(c))
	}
	for _, f := range m.Functions {
		b.WriteString(rd.Function(f))
	}
	b.WriteString(rd.Summary(m))
	return b.String()
}

// Table renders one row per function with severity tallies, keeping
// declaration findings and the closing summary as plain text around
// it. Cells stay uncolored so alignment holds.
func (rd *Renderer) Table(m ModuleResult) string {
	var b strings.Builder
	if m.Module != "" {
		fmt.Fprintf(&b, "module %s\n", m.Module)
	}
	plain := &Renderer{}
	for _, c := range m.Variance {
		b.WriteString(plain.Conflict(c))
	}
	tw := tablewriter.NewWriter(&b)
	tw.SetHeader([]string{"Function", "Verdict", "Errors", "Warnings"})
	tw.SetBorder(false)
	tw.SetCenterSeparator("")
	tw.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	for _, f := range m.Functions {
		if f.Verdict == Invalid {
			tw.Append([]string{f.Function, f.Verdict.String(), "-", "-"})
			continue
		}
		var errs, warns int
		for _, c := range f.Conflicts {
			if c.Kind.Severity() == SeverityWarning {
				warns++
			} else {
				errs++
			}
		}
		tw.Append([]string{f.Function, f.Verdict.String(), strconv.Itoa(errs), strconv.Itoa(warns)})
	}
	tw.Render()
	b.WriteString(rd.Summary(m))
	return b.String()
}

// Summary renders the closing tally.
func (rd *Renderer) Summary(m ModuleResult) string {
	errors, warnings := m.Counts()
	if errors == 0 && warnings == 0 {
		return "No conflicts.\n"
	}
	return fmt.Sprintf("Found %d error(s) and %d warning(s).\n", errors, warnings)
}

// WriteJSON emits the module result as indented JSON for downstream
// diagnostics collaborators.
func WriteJSON(w io.Writer, m ModuleResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
