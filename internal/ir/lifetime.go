package ir

import (
	"fmt"

	"github.com/gdennie/nomicon/internal/region"
)

// ====== Borrow kinds ======

// BorrowKind distinguishes the two reference forms the checker tracks.
type BorrowKind int

const (
	// BorrowShared permits any number of concurrent readers.
	BorrowShared BorrowKind = iota
	// BorrowExclusive demands sole access for its whole region.
	BorrowExclusive
)

func (k BorrowKind) String() string {
	switch k {
	case BorrowShared:
		return "shared"
	case BorrowExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Sigil returns the reference sigil used when printing types.
func (k BorrowKind) Sigil() string {
	if k == BorrowExclusive {
		return "&mut"
	}
	return "&"
}

// ====== Lifetimes ======

// LifetimeKind classifies how a reference lifetime is named.
type LifetimeKind int

const (
	// LifetimeInferred is an elided lifetime bound later by liveness
	// inference.
	LifetimeInferred LifetimeKind = iota
	// LifetimeParam names one of the enclosing declaration's
	// universally quantified lifetime parameters.
	LifetimeParam
	// LifetimeStatic is the process-wide lifetime.
	LifetimeStatic
	// LifetimeUnbounded marks a lifetime fabricated from a source that
	// carries none, such as dereferencing a raw pointer. An unbounded
	// lifetime satisfies any demand until it is narrowed.
	LifetimeUnbounded
	// LifetimeConcrete refers to an inferred region in the current
	// function's arena. Concrete lifetimes exist only during analysis.
	LifetimeConcrete
)

func (k LifetimeKind) String() string {
	switch k {
	case LifetimeInferred:
		return "inferred"
	case LifetimeParam:
		return "param"
	case LifetimeStatic:
		return "static"
	case LifetimeUnbounded:
		return "unbounded"
	case LifetimeConcrete:
		return "concrete"
	default:
		return "unknown"
	}
}

// Lifetime is one reference lifetime as written in a type. Param is
// set only for LifetimeParam, Region only for LifetimeConcrete.
type Lifetime struct {
	Kind   LifetimeKind
	Param  string
	Region region.ID
}

// InferredLifetime returns the elided lifetime placeholder.
func InferredLifetime() Lifetime { return Lifetime{Kind: LifetimeInferred} }

// ParamLifetime returns a reference to the named lifetime parameter.
func ParamLifetime(name string) Lifetime { return Lifetime{Kind: LifetimeParam, Param: name} }

// StaticLifetime returns the process-wide lifetime.
func StaticLifetime() Lifetime { return Lifetime{Kind: LifetimeStatic} }

// UnboundedLifetime returns the fabricated, unconstrained lifetime.
func UnboundedLifetime() Lifetime { return Lifetime{Kind: LifetimeUnbounded} }

// ConcreteLifetime returns a lifetime pinned to an inferred region.
func ConcreteLifetime(id region.ID) Lifetime {
	return Lifetime{Kind: LifetimeConcrete, Region: id}
}

// Key returns the canonical spelling of the lifetime.
func (l Lifetime) Key() string {
	switch l.Kind {
	case LifetimeParam:
		return "'" + l.Param
	case LifetimeStatic:
		return "'static"
	case LifetimeUnbounded:
		return "'!"
	case LifetimeConcrete:
		return fmt.Sprintf("'#%d", l.Region)
	default:
		return "'_"
	}
}

func (l Lifetime) String() string { return l.Key() }
