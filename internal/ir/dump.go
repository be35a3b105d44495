package ir

import (
	"fmt"
	"strings"
)

// String returns a readable dump of the module for debugging.
func (m *Module) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s {\n", m.Name)
	for _, c := range m.Constructors {
		b.WriteString(indent(c.String()))
	}
	for _, f := range m.Functions {
		b.WriteString(indent(f.String()))
	}
	b.WriteString("}\n")
	return b.String()
}

// String returns a readable dump of the constructor declaration.
func (c *Constructor) String() string {
	var b strings.Builder
	b.WriteString("ctor ")
	b.WriteString(c.Name)
	if len(c.Params) > 0 {
		parts := make([]string, len(c.Params))
		for i, p := range c.Params {
			if p.IsLifetime {
				parts[i] = "'" + p.Name
			} else {
				parts[i] = p.Name
			}
		}
		b.WriteString("[" + strings.Join(parts, ", ") + "]")
	}
	if c.Finalizer {
		b.WriteString(" finalizer")
	}
	b.WriteString(" {\n")
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.Type)
	}
	b.WriteString("}\n")
	return b.String()
}

// String returns a readable dump of the function body.
func (f *Function) String() string {
	var b strings.Builder
	b.WriteString("fn ")
	b.WriteString(f.Name)
	var generics []string
	for _, l := range f.LifetimeParams {
		generics = append(generics, "'"+l)
	}
	generics = append(generics, f.TypeParams...)
	if len(generics) > 0 {
		b.WriteString("[" + strings.Join(generics, ", ") + "]")
	}
	b.WriteString("(")
	for i := 0; i < f.NumParams; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", f.Locals[i].Name, f.Locals[i].Type)
	}
	b.WriteString(")")
	if f.Result != nil {
		fmt.Fprintf(&b, " -> %s", f.Result)
	}
	b.WriteString(" {\n")
	for i := f.NumParams; i < len(f.Locals); i++ {
		fmt.Fprintf(&b, "  let %s: %s  // scope %d\n", f.Locals[i].Name, f.Locals[i].Type, f.Locals[i].Scope)
	}
	for id, blk := range f.Blocks {
		fmt.Fprintf(&b, "  %s:  // block %d, scope %d\n", blockLabel(blk, id), id, blk.Scope)
		for _, s := range blk.Stmts {
			fmt.Fprintf(&b, "    %s\n", StmtString(s, f))
		}
		fmt.Fprintf(&b, "    %s\n", TermString(blk.Term, f))
	}
	b.WriteString("}\n")
	return b.String()
}

func blockLabel(blk *Block, id int) string {
	if blk.Label != "" {
		return blk.Label
	}
	return fmt.Sprintf("bb%d", id)
}

// LocalName returns the binding's declared name, or a positional
// placeholder for anonymous or out-of-range locals.
func (f *Function) LocalName(id LocalID) string {
	if id == NoLocal {
		return "_"
	}
	if int(id) < len(f.Locals) && f.Locals[id].Name != "" {
		return f.Locals[id].Name
	}
	return fmt.Sprintf("_%d", id)
}

// StmtString renders one statement with local names resolved.
func StmtString(s Stmt, f *Function) string {
	switch s := s.(type) {
	case *Borrow:
		sigil := s.Kind.Sigil()
		if s.Origin == OriginRaw {
			return fmt.Sprintf("%s = %s*%s", f.LocalName(s.Dst), sigil, f.LocalName(s.Src))
		}
		return fmt.Sprintf("%s = %s%s", f.LocalName(s.Dst), sigil, f.LocalName(s.Src))
	case *Use:
		parts := make([]string, len(s.Operands))
		for i, op := range s.Operands {
			parts[i] = f.LocalName(op)
		}
		return "use " + strings.Join(parts, ", ")
	case *Assign:
		return fmt.Sprintf("%s = %s", f.LocalName(s.Dst), f.LocalName(s.Src))
	case *StoreField:
		return fmt.Sprintf("%s.%s = %s", f.LocalName(s.Base), s.Field, f.LocalName(s.Src))
	case *StoreThrough:
		return fmt.Sprintf("*%s = %s", f.LocalName(s.Ref), f.LocalName(s.Src))
	case *Call:
		parts := make([]string, len(s.Args))
		for i, a := range s.Args {
			parts[i] = f.LocalName(a)
		}
		call := fmt.Sprintf("%s(%s)", s.Callee, strings.Join(parts, ", "))
		if s.Dst != NoLocal {
			return fmt.Sprintf("%s = %s", f.LocalName(s.Dst), call)
		}
		return call
	case *Finalize:
		return fmt.Sprintf("finalize %s", f.LocalName(s.Local))
	default:
		return fmt.Sprintf("<%T>", s)
	}
}

// TermString renders one terminator with local names resolved.
func TermString(t Terminator, f *Function) string {
	switch t := t.(type) {
	case *Goto:
		return fmt.Sprintf("goto bb%d", t.Target)
	case *If:
		return fmt.Sprintf("if %s -> bb%d else bb%d", f.LocalName(t.Cond), t.Then, t.Else)
	case *Return:
		if t.Value == NoLocal {
			return "return"
		}
		return fmt.Sprintf("return %s", f.LocalName(t.Value))
	default:
		return fmt.Sprintf("<%T>", t)
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n") + "\n"
}
