package ir

import (
	"strings"
)

// ====== Variance ======

// Variance describes how subtyping of an argument position relates to
// subtyping of the constructed type.
type Variance int

const (
	// VarianceBivariant means no constraint has been observed; it is
	// the bottom of the variance lattice and the fixed-point seed.
	VarianceBivariant Variance = iota
	// VarianceCovariant preserves the direction of subtyping.
	VarianceCovariant
	// VarianceContravariant reverses the direction of subtyping.
	VarianceContravariant
	// VarianceInvariant admits only structurally identical arguments;
	// it is the top of the lattice and dominates all combinations.
	VarianceInvariant
)

func (v Variance) String() string {
	switch v {
	case VarianceBivariant:
		return "bivariant"
	case VarianceCovariant:
		return "covariant"
	case VarianceContravariant:
		return "contravariant"
	case VarianceInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Symbol returns the single-character form used in vector dumps.
func (v Variance) Symbol() string {
	switch v {
	case VarianceBivariant:
		return "*"
	case VarianceCovariant:
		return "+"
	case VarianceContravariant:
		return "-"
	case VarianceInvariant:
		return "o"
	default:
		return "?"
	}
}

// ====== Type expressions ======

// Type is a resolved analysis type. Expressions are finite trees;
// recursion lives only in constructor declarations, never in an
// instantiated type value.
type Type interface {
	// Key returns the canonical spelling used for identity checks and
	// memoization. Two types with equal keys are structurally
	// identical.
	Key() string
	String() string
	typeNode()
}

// Base is a nominal leaf type with no parameters, such as i32 or str.
type Base struct {
	Name string
}

func (t *Base) typeNode()      {}
func (t *Base) Key() string    { return t.Name }
func (t *Base) String() string { return t.Name }

// TypeParam refers to a type parameter of the enclosing constructor or
// function declaration.
type TypeParam struct {
	Name string
}

func (t *TypeParam) typeNode()      {}
func (t *TypeParam) Key() string    { return "$" + t.Name }
func (t *TypeParam) String() string { return t.Name }

// Ref is a borrowed reference. Shared references admit concurrent
// readers and are covariant in both lifetime and referent; exclusive
// references are covariant in the lifetime but invariant in the
// referent, because they admit writes through themselves.
type Ref struct {
	Kind     BorrowKind
	Lifetime Lifetime
	Elem     Type
}

func (t *Ref) typeNode() {}
func (t *Ref) Key() string {
	return t.Kind.Sigil() + t.Lifetime.Key() + " " + t.Elem.Key()
}
func (t *Ref) String() string {
	return t.Kind.Sigil() + t.Lifetime.String() + " " + t.Elem.String()
}

// RawPtr is an unchecked pointer. It carries no lifetime; creating a
// reference from one fabricates an unbounded lifetime.
type RawPtr struct {
	Mutable bool
	Elem    Type
}

func (t *RawPtr) typeNode() {}
func (t *RawPtr) Key() string {
	if t.Mutable {
		return "*mut " + t.Elem.Key()
	}
	return "*const " + t.Elem.Key()
}
func (t *RawPtr) String() string { return t.Key() }

// Box is an owned heap allocation. Ownership makes it covariant in its
// element: no other party can observe the element being narrowed.
type Box struct {
	Elem Type
}

func (t *Box) typeNode()      {}
func (t *Box) Key() string    { return "Box[" + t.Elem.Key() + "]" }
func (t *Box) String() string { return "Box[" + t.Elem.String() + "]" }

// Cell is the interior-mutability wrapper. Writes are possible through
// a shared handle, so its element position is invariant.
type Cell struct {
	Elem Type
}

func (t *Cell) typeNode()      {}
func (t *Cell) Key() string    { return "Cell[" + t.Elem.Key() + "]" }
func (t *Cell) String() string { return "Cell[" + t.Elem.String() + "]" }

// Fn is a callable value. Parameters are contravariant, the result is
// covariant.
type Fn struct {
	Params []Type
	Result Type // nil for no result
}

func (t *Fn) typeNode() {}
func (t *Fn) Key() string {
	var b strings.Builder
	b.WriteString("fn(")
	for i, p := range t.Params {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(p.Key())
	}
	b.WriteString(")")
	if t.Result != nil {
		b.WriteString("->")
		b.WriteString(t.Result.Key())
	}
	return b.String()
}
func (t *Fn) String() string { return t.Key() }

// ArgKind distinguishes lifetime from type arguments of a constructor
// instantiation.
type ArgKind int

const (
	ArgLifetime ArgKind = iota
	ArgType
)

// Arg is one positional argument of a constructor instantiation.
// Lifetime is set for ArgLifetime, Type for ArgType.
type Arg struct {
	Kind     ArgKind
	Lifetime Lifetime
	Type     Type
}

// LifetimeArg builds a lifetime argument.
func LifetimeArg(l Lifetime) Arg { return Arg{Kind: ArgLifetime, Lifetime: l} }

// TypeArg builds a type argument.
func TypeArg(t Type) Arg { return Arg{Kind: ArgType, Type: t} }

func (a Arg) Key() string {
	if a.Kind == ArgLifetime {
		return a.Lifetime.Key()
	}
	return a.Type.Key()
}

// Ctor instantiates a declared generic constructor with positional
// arguments aligned to the declaration's parameter order.
type Ctor struct {
	Name string
	Args []Arg
}

func (t *Ctor) typeNode() {}
func (t *Ctor) Key() string {
	if len(t.Args) == 0 {
		return t.Name
	}
	parts := make([]string, len(t.Args))
	for i, a := range t.Args {
		parts[i] = a.Key()
	}
	return t.Name + "[" + strings.Join(parts, ",") + "]"
}
func (t *Ctor) String() string { return t.Key() }

// ====== Type helpers ======

// MentionsLifetime reports whether any reference lifetime occurs
// anywhere in t. A type without lifetimes is fully owned; returning
// one transfers ownership and imposes no region obligation.
func MentionsLifetime(t Type) bool {
	switch t := t.(type) {
	case *Base, *TypeParam:
		return false
	case *Ref:
		return true
	case *RawPtr:
		return MentionsLifetime(t.Elem)
	case *Box:
		return MentionsLifetime(t.Elem)
	case *Cell:
		return MentionsLifetime(t.Elem)
	case *Fn:
		for _, p := range t.Params {
			if MentionsLifetime(p) {
				return true
			}
		}
		return t.Result != nil && MentionsLifetime(t.Result)
	case *Ctor:
		for _, a := range t.Args {
			if a.Kind == ArgLifetime || MentionsLifetime(a.Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CollectLifetimes appends every lifetime occurring in t, outermost
// first.
func CollectLifetimes(t Type) []Lifetime {
	var out []Lifetime
	walkLifetimes(t, &out)
	return out
}

func walkLifetimes(t Type, out *[]Lifetime) {
	switch t := t.(type) {
	case *Ref:
		*out = append(*out, t.Lifetime)
		walkLifetimes(t.Elem, out)
	case *RawPtr:
		walkLifetimes(t.Elem, out)
	case *Box:
		walkLifetimes(t.Elem, out)
	case *Cell:
		walkLifetimes(t.Elem, out)
	case *Fn:
		for _, p := range t.Params {
			walkLifetimes(p, out)
		}
		if t.Result != nil {
			walkLifetimes(t.Result, out)
		}
	case *Ctor:
		for _, a := range t.Args {
			if a.Kind == ArgLifetime {
				*out = append(*out, a.Lifetime)
			} else {
				walkLifetimes(a.Type, out)
			}
		}
	}
}

// Substitute replaces type-parameter and lifetime-parameter references
// in t with the given bindings. Unbound parameters pass through
// unchanged. The input type is never mutated.
func Substitute(t Type, types map[string]Type, lifetimes map[string]Lifetime) Type {
	if len(types) == 0 && len(lifetimes) == 0 {
		return t
	}
	switch t := t.(type) {
	case *Base:
		return t
	case *TypeParam:
		if bound, ok := types[t.Name]; ok {
			return bound
		}
		return t
	case *Ref:
		return &Ref{
			Kind:     t.Kind,
			Lifetime: substituteLifetime(t.Lifetime, lifetimes),
			Elem:     Substitute(t.Elem, types, lifetimes),
		}
	case *RawPtr:
		return &RawPtr{Mutable: t.Mutable, Elem: Substitute(t.Elem, types, lifetimes)}
	case *Box:
		return &Box{Elem: Substitute(t.Elem, types, lifetimes)}
	case *Cell:
		return &Cell{Elem: Substitute(t.Elem, types, lifetimes)}
	case *Fn:
		params := make([]Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = Substitute(p, types, lifetimes)
		}
		var result Type
		if t.Result != nil {
			result = Substitute(t.Result, types, lifetimes)
		}
		return &Fn{Params: params, Result: result}
	case *Ctor:
		args := make([]Arg, len(t.Args))
		for i, a := range t.Args {
			if a.Kind == ArgLifetime {
				args[i] = LifetimeArg(substituteLifetime(a.Lifetime, lifetimes))
			} else {
				args[i] = TypeArg(Substitute(a.Type, types, lifetimes))
			}
		}
		return &Ctor{Name: t.Name, Args: args}
	default:
		return t
	}
}

func substituteLifetime(l Lifetime, lifetimes map[string]Lifetime) Lifetime {
	if l.Kind == LifetimeParam {
		if bound, ok := lifetimes[l.Param]; ok {
			return bound
		}
	}
	return l
}

// HasFinalizer reports whether values of t run an observable
// finalization side effect when the owning binding leaves scope.
// Constructors propagate the flag through owned positions; references
// and raw pointers never own their referent.
func HasFinalizer(t Type, m *Module) bool {
	return hasFinalizer(t, m, make(map[string]bool))
}

func hasFinalizer(t Type, m *Module, visiting map[string]bool) bool {
	switch t := t.(type) {
	case *Box:
		return hasFinalizer(t.Elem, m, visiting)
	case *Cell:
		return hasFinalizer(t.Elem, m, visiting)
	case *Ctor:
		if visiting[t.Name] {
			return false
		}
		decl := m.Constructor(t.Name)
		if decl == nil {
			return false
		}
		if decl.Finalizer {
			return true
		}
		visiting[t.Name] = true
		defer delete(visiting, t.Name)
		types, lifetimes := decl.Bindings(t.Args)
		for _, f := range decl.Fields {
			if hasFinalizer(Substitute(f.Type, types, lifetimes), m, visiting) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
