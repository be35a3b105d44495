// Package ir defines the elaborated input form consumed by the
// analysis engine. Surface syntax, name resolution and base type
// checking happen upstream; what arrives here is a module of generic
// constructor declarations plus functions whose bodies are explicit
// control-flow graphs of borrow, use, assignment and finalization
// events. The engine never sees source text.
package ir

import (
	"github.com/gdennie/nomicon/internal/position"
)

// ====== Identifiers ======

// LocalID indexes one storage location of a function.
type LocalID int32

// NoLocal marks an absent local operand.
const NoLocal LocalID = -1

// BlockID indexes one basic block of a function body.
type BlockID int32

// ScopeID indexes one lexical scope of a function.
type ScopeID int32

// NoScope marks the absent parent of the function's root scope.
const NoScope ScopeID = -1

// ====== Module ======

// Module is one elaborated compilation unit: the constructor
// declarations visible to variance computation plus the function
// bodies to analyze. Functions are independent; analysis order does
// not matter.
type Module struct {
	Name         string
	Constructors []*Constructor
	Functions    []*Function
}

// Constructor returns the declaration named name, or nil.
func (m *Module) Constructor(name string) *Constructor {
	for _, c := range m.Constructors {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Function returns the function named name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ====== Constructors ======

// CtorParam is one declared parameter of a generic constructor, in
// declaration order. Variance vectors align with this order.
type CtorParam struct {
	Name       string
	IsLifetime bool
}

// Field is one named field of a constructor body.
type Field struct {
	Name string
	Type Type
}

// Constructor declares a generic type constructor. Variance of each
// parameter is computed from the field structure, not declared.
type Constructor struct {
	Name      string
	Params    []CtorParam
	Fields    []Field
	Finalizer bool // runs an observable finalizer when dropped
	Span      position.Span
}

// Bindings maps the declaration's parameters to the given
// instantiation arguments positionally. Arity mismatches are a
// validation failure; here surplus names are simply left unbound.
func (c *Constructor) Bindings(args []Arg) (map[string]Type, map[string]Lifetime) {
	types := make(map[string]Type)
	lifetimes := make(map[string]Lifetime)
	for i, p := range c.Params {
		if i >= len(args) {
			break
		}
		if p.IsLifetime && args[i].Kind == ArgLifetime {
			lifetimes[p.Name] = args[i].Lifetime
		} else if !p.IsLifetime && args[i].Kind == ArgType {
			types[p.Name] = args[i].Type
		}
	}
	return types, lifetimes
}

// ====== Functions ======

// Local is one storage location: a named binding with a declared type,
// owned by a lexical scope. The first NumParams locals of a function
// are its parameters.
type Local struct {
	Name  string
	Type  Type
	Scope ScopeID
}

// ScopeKind classifies a lexical scope for region construction.
type ScopeKind int

const (
	ScopeFunction ScopeKind = iota
	ScopeBlock
	ScopeLoop
	ScopeArm
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeFunction:
		return "function"
	case ScopeBlock:
		return "block"
	case ScopeLoop:
		return "loop"
	case ScopeArm:
		return "arm"
	default:
		return "unknown"
	}
}

// Scope is one node of a function's lexical scope tree. Scopes[0] is
// the function root with Parent == NoScope.
type Scope struct {
	Parent ScopeID
	Kind   ScopeKind
}

// Function is one analyzable unit: a generic signature plus a body in
// explicit control-flow form. Blocks[0] is the entry block.
type Function struct {
	Name           string
	LifetimeParams []string
	TypeParams     []string
	NumParams      int   // parameters are Locals[:NumParams]
	Result         Type  // nil for no return value
	Locals         []Local
	Scopes         []Scope
	Blocks         []*Block
	Span           position.Span
}

// ParamTypes returns the declared parameter types in order.
func (f *Function) ParamTypes() []Type {
	out := make([]Type, f.NumParams)
	for i := 0; i < f.NumParams; i++ {
		out[i] = f.Locals[i].Type
	}
	return out
}

// HasLifetimeParam reports whether name is declared on f.
func (f *Function) HasLifetimeParam(name string) bool {
	for _, p := range f.LifetimeParams {
		if p == name {
			return true
		}
	}
	return false
}

// Block is one basic block: a label, the owning scope, straight-line
// statements and a single terminator.
type Block struct {
	Label string
	Scope ScopeID
	Stmts []Stmt
	Term  Terminator
	Span  position.Span
}

// ====== Statements ======

// Stmt is one event inside a basic block. Every statement occupies
// exactly one program point.
type Stmt interface {
	stmtNode()
	Pos() position.Span
}

// BorrowOrigin says where a created reference draws its lifetime from.
type BorrowOrigin int

const (
	// OriginLocal borrows a tracked storage location; the lifetime is
	// inferred from use points.
	OriginLocal BorrowOrigin = iota
	// OriginRaw derefs a raw pointer value; the resulting lifetime is
	// unbounded and the source location is not tracked.
	OriginRaw
)

func (o BorrowOrigin) String() string {
	if o == OriginRaw {
		return "raw"
	}
	return "local"
}

// Borrow creates a reference and binds it to Dst. For OriginLocal, Src
// is the storage location borrowed; for OriginRaw, Src is the raw
// pointer local being dereferenced.
type Borrow struct {
	Dst    LocalID
	Src    LocalID
	Kind   BorrowKind
	Origin BorrowOrigin
	Span   position.Span
}

func (s *Borrow) stmtNode() {}
func (s *Borrow) Pos() position.Span { return s.Span }

// Use reads the named locals without changing any binding.
type Use struct {
	Operands []LocalID
	Span     position.Span
}

func (s *Use) stmtNode() {}
func (s *Use) Pos() position.Span { return s.Span }

// Assign rebinds Dst to the value currently held by Src. The old value
// of Dst is discarded; if Dst held a reference, that borrow's region
// already ended at its last use.
type Assign struct {
	Dst  LocalID
	Src  LocalID
	Span position.Span
}

func (s *Assign) stmtNode() {}
func (s *Assign) Pos() position.Span { return s.Span }

// StoreField writes Src into the named field of Base, crossing the
// declared boundary of Base's constructor type.
type StoreField struct {
	Base  LocalID
	Field string
	Src   LocalID
	Span  position.Span
}

func (s *StoreField) stmtNode() {}
func (s *StoreField) Pos() position.Span { return s.Span }

// StoreThrough writes Src through the reference held by Ref. This is
// the only legitimate write to a location while it is exclusively
// borrowed.
type StoreThrough struct {
	Ref  LocalID
	Src  LocalID
	Span position.Span
}

func (s *StoreThrough) stmtNode() {}
func (s *StoreThrough) Pos() position.Span { return s.Span }

// Call invokes a module function by name. Dst is NoLocal when the
// callee returns nothing or the result is discarded.
type Call struct {
	Dst    LocalID
	Callee string
	Args   []LocalID
	Span   position.Span
}

func (s *Call) stmtNode() {}
func (s *Call) Pos() position.Span { return s.Span }

// Finalize runs the finalizer of the named local early, counting as a
// use of the value it holds.
type Finalize struct {
	Local LocalID
	Span  position.Span
}

func (s *Finalize) stmtNode() {}
func (s *Finalize) Pos() position.Span { return s.Span }

// ====== Terminators ======

// Terminator ends a basic block. It occupies the block's final program
// point.
type Terminator interface {
	termNode()
	Successors() []BlockID
	Pos() position.Span
}

// Goto jumps unconditionally.
type Goto struct {
	Target BlockID
	Span   position.Span
}

func (t *Goto) termNode() {}
func (t *Goto) Successors() []BlockID { return []BlockID{t.Target} }
func (t *Goto) Pos() position.Span { return t.Span }

// If branches on the value of Cond, which counts as a use.
type If struct {
	Cond LocalID
	Then BlockID
	Else BlockID
	Span position.Span
}

func (t *If) termNode() {}
func (t *If) Successors() []BlockID { return []BlockID{t.Then, t.Else} }
func (t *If) Pos() position.Span { return t.Span }

// Return leaves the function. Value is NoLocal for a unit return.
type Return struct {
	Value LocalID
	Span  position.Span
}

func (t *Return) termNode() {}
func (t *Return) Successors() []BlockID { return nil }
func (t *Return) Pos() position.Span { return t.Span }
