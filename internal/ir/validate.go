package ir

import (
	"errors"
	"fmt"
)

// ErrMalformed tags every validation failure. Malformed input is a
// precondition violation of the elaboration contract: analysis of the
// offending function halts, other functions proceed.
var ErrMalformed = errors.New("malformed ir")

func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrMalformed}, args...)...)
}

// Validate checks the module's constructor declarations: unique names,
// unique parameters and well-formed field types. Function bodies are
// validated separately so one bad function cannot block the others.
func (m *Module) Validate() error {
	seen := make(map[string]bool, len(m.Constructors))
	for _, c := range m.Constructors {
		if c.Name == "" {
			return malformedf("constructor with empty name")
		}
		if seen[c.Name] {
			return malformedf("constructor %q declared twice", c.Name)
		}
		seen[c.Name] = true

		lts, tys, err := c.paramSets()
		if err != nil {
			return err
		}
		for _, f := range c.Fields {
			if f.Type == nil {
				return malformedf("constructor %q: field %q has no type", c.Name, f.Name)
			}
			if err := m.checkType(f.Type, lts, tys); err != nil {
				return fmt.Errorf("constructor %q: field %q: %w", c.Name, f.Name, err)
			}
		}
	}
	return nil
}

func (c *Constructor) paramSets() (lts, tys map[string]bool, err error) {
	lts = make(map[string]bool)
	tys = make(map[string]bool)
	for _, p := range c.Params {
		if p.Name == "" {
			return nil, nil, malformedf("constructor %q: parameter with empty name", c.Name)
		}
		if lts[p.Name] || tys[p.Name] {
			return nil, nil, malformedf("constructor %q: parameter %q declared twice", c.Name, p.Name)
		}
		if p.IsLifetime {
			lts[p.Name] = true
		} else {
			tys[p.Name] = true
		}
	}
	return lts, tys, nil
}

// ValidateFunction checks one function body against the module:
// in-range local, block and scope references, known callees with
// matching arity, and well-formed types on every local. A nil error
// means the body satisfies the analysis preconditions.
func (m *Module) ValidateFunction(f *Function) error {
	if f.Name == "" {
		return malformedf("function with empty name")
	}
	if len(f.Blocks) == 0 {
		return malformedf("function %q has no blocks", f.Name)
	}
	if f.NumParams < 0 || f.NumParams > len(f.Locals) {
		return malformedf("function %q declares %d params but %d locals", f.Name, f.NumParams, len(f.Locals))
	}
	if err := m.validateScopes(f); err != nil {
		return err
	}

	lts := make(map[string]bool, len(f.LifetimeParams))
	for _, p := range f.LifetimeParams {
		if lts[p] {
			return malformedf("function %q: lifetime parameter %q declared twice", f.Name, p)
		}
		lts[p] = true
	}
	tys := make(map[string]bool, len(f.TypeParams))
	for _, p := range f.TypeParams {
		if tys[p] {
			return malformedf("function %q: type parameter %q declared twice", f.Name, p)
		}
		tys[p] = true
	}

	for i, l := range f.Locals {
		if l.Type == nil {
			return malformedf("function %q: local %d has no type", f.Name, i)
		}
		if err := m.checkType(l.Type, lts, tys); err != nil {
			return fmt.Errorf("function %q: local %q: %w", f.Name, l.Name, err)
		}
		if l.Scope < 0 || int(l.Scope) >= len(f.Scopes) {
			return malformedf("function %q: local %q in undeclared scope %d", f.Name, l.Name, l.Scope)
		}
	}
	if f.Result != nil {
		if err := m.checkType(f.Result, lts, tys); err != nil {
			return fmt.Errorf("function %q: result: %w", f.Name, err)
		}
	}

	for b, blk := range f.Blocks {
		if err := m.validateBlock(f, BlockID(b), blk); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) validateScopes(f *Function) error {
	if len(f.Scopes) == 0 {
		return malformedf("function %q has no scopes", f.Name)
	}
	if f.Scopes[0].Parent != NoScope {
		return malformedf("function %q: root scope must have no parent", f.Name)
	}
	for i, s := range f.Scopes {
		if i == 0 {
			continue
		}
		if s.Parent < 0 || int(s.Parent) >= len(f.Scopes) {
			return malformedf("function %q: scope %d has undeclared parent %d", f.Name, i, s.Parent)
		}
		// Parents must precede children, which also rules out cycles.
		if int(s.Parent) >= i {
			return malformedf("function %q: scope %d precedes its parent %d", f.Name, i, s.Parent)
		}
	}
	return nil
}

func (m *Module) validateBlock(f *Function, b BlockID, blk *Block) error {
	if blk.Scope < 0 || int(blk.Scope) >= len(f.Scopes) {
		return malformedf("function %q: block %d in undeclared scope %d", f.Name, b, blk.Scope)
	}
	checkLocal := func(id LocalID, what string) error {
		if id < 0 || int(id) >= len(f.Locals) {
			return malformedf("function %q: block %d: %s refers to undeclared local %d", f.Name, b, what, id)
		}
		return nil
	}
	checkBlock := func(id BlockID) error {
		if id < 0 || int(id) >= len(f.Blocks) {
			return malformedf("function %q: block %d: jump to undeclared block %d", f.Name, b, id)
		}
		return nil
	}

	for _, s := range blk.Stmts {
		switch s := s.(type) {
		case *Borrow:
			if err := checkLocal(s.Dst, "borrow dst"); err != nil {
				return err
			}
			if err := checkLocal(s.Src, "borrow src"); err != nil {
				return err
			}
		case *Use:
			for _, op := range s.Operands {
				if err := checkLocal(op, "use operand"); err != nil {
					return err
				}
			}
		case *Assign:
			if err := checkLocal(s.Dst, "assign dst"); err != nil {
				return err
			}
			if err := checkLocal(s.Src, "assign src"); err != nil {
				return err
			}
		case *StoreField:
			if err := checkLocal(s.Base, "store base"); err != nil {
				return err
			}
			if err := checkLocal(s.Src, "store src"); err != nil {
				return err
			}
			if err := m.checkFieldRef(f, s); err != nil {
				return err
			}
		case *StoreThrough:
			if err := checkLocal(s.Ref, "store ref"); err != nil {
				return err
			}
			if err := checkLocal(s.Src, "store src"); err != nil {
				return err
			}
		case *Call:
			if err := m.checkCall(f, b, s, checkLocal); err != nil {
				return err
			}
		case *Finalize:
			if err := checkLocal(s.Local, "finalize operand"); err != nil {
				return err
			}
		default:
			return malformedf("function %q: block %d: unknown statement %T", f.Name, b, s)
		}
	}

	switch t := blk.Term.(type) {
	case *Goto:
		return checkBlock(t.Target)
	case *If:
		if err := checkLocal(t.Cond, "branch condition"); err != nil {
			return err
		}
		if err := checkBlock(t.Then); err != nil {
			return err
		}
		return checkBlock(t.Else)
	case *Return:
		if t.Value != NoLocal {
			if err := checkLocal(t.Value, "return value"); err != nil {
				return err
			}
			if f.Result == nil {
				return malformedf("function %q: block %d: returns a value but declares no result", f.Name, b)
			}
		}
		return nil
	case nil:
		return malformedf("function %q: block %d has no terminator", f.Name, b)
	default:
		return malformedf("function %q: block %d: unknown terminator %T", f.Name, b, t)
	}
}

func (m *Module) checkFieldRef(f *Function, s *StoreField) error {
	base := f.Locals[s.Base].Type
	ctor, ok := base.(*Ctor)
	if !ok {
		return malformedf("function %q: field store on non-constructor type %s", f.Name, base)
	}
	decl := m.Constructor(ctor.Name)
	if decl == nil {
		return malformedf("function %q: field store on undeclared constructor %q", f.Name, ctor.Name)
	}
	for _, fld := range decl.Fields {
		if fld.Name == s.Field {
			return nil
		}
	}
	return malformedf("function %q: constructor %q has no field %q", f.Name, ctor.Name, s.Field)
}

func (m *Module) checkCall(f *Function, b BlockID, s *Call, checkLocal func(LocalID, string) error) error {
	callee := m.Function(s.Callee)
	if callee == nil {
		return malformedf("function %q: block %d: call to undeclared function %q", f.Name, b, s.Callee)
	}
	if len(s.Args) != callee.NumParams {
		return malformedf("function %q: call to %q passes %d args, want %d",
			f.Name, s.Callee, len(s.Args), callee.NumParams)
	}
	if s.Dst != NoLocal {
		if err := checkLocal(s.Dst, "call dst"); err != nil {
			return err
		}
		if callee.Result == nil {
			return malformedf("function %q: call to %q binds a result but callee returns none", f.Name, s.Callee)
		}
	}
	for _, a := range s.Args {
		if err := checkLocal(a, "call arg"); err != nil {
			return err
		}
	}
	return nil
}

// checkType verifies that t only references declared constructors with
// matching arity and declared lifetime and type parameters.
func (m *Module) checkType(t Type, lts, tys map[string]bool) error {
	switch t := t.(type) {
	case *Base:
		if t.Name == "" {
			return malformedf("base type with empty name")
		}
		return nil
	case *TypeParam:
		if !tys[t.Name] {
			return malformedf("undeclared type parameter %q", t.Name)
		}
		return nil
	case *Ref:
		if err := m.checkLifetime(t.Lifetime, lts); err != nil {
			return err
		}
		return m.checkType(t.Elem, lts, tys)
	case *RawPtr:
		return m.checkType(t.Elem, lts, tys)
	case *Box:
		return m.checkType(t.Elem, lts, tys)
	case *Cell:
		return m.checkType(t.Elem, lts, tys)
	case *Fn:
		for _, p := range t.Params {
			if err := m.checkType(p, lts, tys); err != nil {
				return err
			}
		}
		if t.Result != nil {
			return m.checkType(t.Result, lts, tys)
		}
		return nil
	case *Ctor:
		decl := m.Constructor(t.Name)
		if decl == nil {
			return malformedf("undeclared constructor %q", t.Name)
		}
		if len(t.Args) != len(decl.Params) {
			return malformedf("constructor %q instantiated with %d args, want %d",
				t.Name, len(t.Args), len(decl.Params))
		}
		for i, a := range t.Args {
			if decl.Params[i].IsLifetime != (a.Kind == ArgLifetime) {
				return malformedf("constructor %q: argument %d kind mismatch", t.Name, i)
			}
			if a.Kind == ArgLifetime {
				if err := m.checkLifetime(a.Lifetime, lts); err != nil {
					return err
				}
			} else if err := m.checkType(a.Type, lts, tys); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return malformedf("missing type")
	default:
		return malformedf("unknown type %T", t)
	}
}

func (m *Module) checkLifetime(l Lifetime, lts map[string]bool) error {
	if l.Kind == LifetimeParam && !lts[l.Param] {
		return malformedf("undeclared lifetime parameter %q", l.Param)
	}
	return nil
}
