// Package irload reads elaborated IR modules from their JSON document
// form. Documents are what the upstream elaborator emits and what the
// CLI and daemon accept; the in-memory ir.Module API stays the core
// contract. The loader checks the document's format_version against a
// semver constraint and converts structure only; semantic validation
// happens in the engine's load phase.
package irload

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	semver "github.com/Masterminds/semver/v3"

	"github.com/gdennie/nomicon/internal/ir"
	"github.com/gdennie/nomicon/internal/position"
)

// DefaultConstraint is the format_version range this build understands.
const DefaultConstraint = ">=1.0.0, <2.0.0"

// VersionError reports a document whose format_version falls outside
// the supported range.
type VersionError struct {
	Version    string
	Constraint string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("ir format version %s outside supported range %q", e.Version, e.Constraint)
}

// Loader converts IR documents. The zero value is not usable; call
// NewLoader.
type Loader struct {
	constraint *semver.Constraints
}

// NewLoader returns a loader accepting DefaultConstraint.
func NewLoader() *Loader {
	c, err := semver.NewConstraint(DefaultConstraint)
	if err != nil {
		panic(err)
	}
	return &Loader{constraint: c}
}

// SetConstraint replaces the accepted format_version range.
func (l *Loader) SetConstraint(expr string) error {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return fmt.Errorf("irload: constraint %q: %w", expr, err)
	}
	l.constraint = c
	return nil
}

// Load reads one module document from r.
func (l *Loader) Load(r io.Reader) (*ir.Module, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("irload: parse: %w", err)
	}
	if err := l.checkVersion(doc.FormatVersion); err != nil {
		return nil, err
	}
	return doc.module()
}

// LoadFile reads the module document at path.
func (l *Loader) LoadFile(path string) (*ir.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("irload: %w", err)
	}
	defer f.Close()
	mod, err := l.Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mod, nil
}

func (l *Loader) checkVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("irload: document carries no format_version")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("irload: format_version %q: %w", raw, err)
	}
	if !l.constraint.Check(v) {
		return &VersionError{Version: raw, Constraint: l.constraint.String()}
	}
	return nil
}

// ====== Document schema ======

type document struct {
	FormatVersion string    `json:"format_version"`
	Module        string    `json:"module"`
	Constructors  []ctorDoc `json:"constructors"`
	Functions     []fnDoc   `json:"functions"`
}

type ctorDoc struct {
	Name      string     `json:"name"`
	Params    []paramDoc `json:"params"`
	Fields    []fieldDoc `json:"fields"`
	Finalizer bool       `json:"finalizer"`
	Span      *spanDoc   `json:"span"`
}

type paramDoc struct {
	Name     string `json:"name"`
	Lifetime bool   `json:"lifetime"`
}

type fieldDoc struct {
	Name string   `json:"name"`
	Type *typeDoc `json:"type"`
}

type fnDoc struct {
	Name           string     `json:"name"`
	LifetimeParams []string   `json:"lifetime_params"`
	TypeParams     []string   `json:"type_params"`
	NumParams      int        `json:"num_params"`
	Result         *typeDoc   `json:"result"`
	Locals         []localDoc `json:"locals"`
	Scopes         []scopeDoc `json:"scopes"`
	Blocks         []blockDoc `json:"blocks"`
	Span           *spanDoc   `json:"span"`
}

type localDoc struct {
	Name  string   `json:"name"`
	Type  *typeDoc `json:"type"`
	Scope int      `json:"scope"`
}

type scopeDoc struct {
	Parent int    `json:"parent"`
	Kind   string `json:"kind"`
}

type blockDoc struct {
	Label string    `json:"label"`
	Scope int       `json:"scope"`
	Stmts []stmtDoc `json:"stmts"`
	Term  *termDoc  `json:"term"`
	Span  *spanDoc  `json:"span"`
}

// stmtDoc is the flat union of every statement form, discriminated by
// op. Absent dst means a discarded call result.
type stmtDoc struct {
	Op       string   `json:"op"`
	Dst      *int     `json:"dst"`
	Src      int      `json:"src"`
	Kind     string   `json:"kind"`
	Origin   string   `json:"origin"`
	Operands []int    `json:"operands"`
	Base     int      `json:"base"`
	Field    string   `json:"field"`
	Ref      int      `json:"ref"`
	Callee   string   `json:"callee"`
	Args     []int    `json:"args"`
	Local    int      `json:"local"`
	Span     *spanDoc `json:"span"`
}

type termDoc struct {
	Op     string   `json:"op"`
	Target int      `json:"target"`
	Cond   int      `json:"cond"`
	Then   int      `json:"then"`
	Else   int      `json:"else"`
	Value  *int     `json:"value"`
	Span   *spanDoc `json:"span"`
}

type typeDoc struct {
	Kind     string     `json:"kind"`
	Name     string     `json:"name"`
	Borrow   string     `json:"borrow"`
	Mutable  bool       `json:"mutable"`
	Lifetime *ltDoc     `json:"lifetime"`
	Elem     *typeDoc   `json:"elem"`
	Params   []*typeDoc `json:"params"`
	Result   *typeDoc   `json:"result"`
	Args     []argDoc   `json:"args"`
}

type argDoc struct {
	Lifetime *ltDoc   `json:"lifetime"`
	Type     *typeDoc `json:"type"`
}

type ltDoc struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type spanDoc struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	EndLine int    `json:"end_line"`
	EndCol  int    `json:"end_col"`
}

// ====== Conversion ======

func (d *document) module() (*ir.Module, error) {
	mod := &ir.Module{Name: d.Module}
	for _, c := range d.Constructors {
		ctor, err := c.constructor()
		if err != nil {
			return nil, fmt.Errorf("irload: constructor %q: %w", c.Name, err)
		}
		mod.Constructors = append(mod.Constructors, ctor)
	}
	for _, f := range d.Functions {
		fn, err := f.function()
		if err != nil {
			return nil, fmt.Errorf("irload: function %q: %w", f.Name, err)
		}
		mod.Functions = append(mod.Functions, fn)
	}
	return mod, nil
}

func (d *ctorDoc) constructor() (*ir.Constructor, error) {
	c := &ir.Constructor{
		Name:      d.Name,
		Finalizer: d.Finalizer,
		Span:      span(d.Span),
	}
	for _, p := range d.Params {
		c.Params = append(c.Params, ir.CtorParam{Name: p.Name, IsLifetime: p.Lifetime})
	}
	for _, f := range d.Fields {
		t, err := typ(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		c.Fields = append(c.Fields, ir.Field{Name: f.Name, Type: t})
	}
	return c, nil
}

func (d *fnDoc) function() (*ir.Function, error) {
	fn := &ir.Function{
		Name:           d.Name,
		LifetimeParams: d.LifetimeParams,
		TypeParams:     d.TypeParams,
		NumParams:      d.NumParams,
		Span:           span(d.Span),
	}
	if d.Result != nil {
		t, err := typ(d.Result)
		if err != nil {
			return nil, fmt.Errorf("result: %w", err)
		}
		fn.Result = t
	}
	for _, l := range d.Locals {
		t, err := typ(l.Type)
		if err != nil {
			return nil, fmt.Errorf("local %q: %w", l.Name, err)
		}
		fn.Locals = append(fn.Locals, ir.Local{Name: l.Name, Type: t, Scope: ir.ScopeID(l.Scope)})
	}
	for i, s := range d.Scopes {
		kind, err := scopeKind(s.Kind)
		if err != nil {
			return nil, fmt.Errorf("scope %d: %w", i, err)
		}
		fn.Scopes = append(fn.Scopes, ir.Scope{Parent: ir.ScopeID(s.Parent), Kind: kind})
	}
	for i, b := range d.Blocks {
		blk, err := b.block()
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		fn.Blocks = append(fn.Blocks, blk)
	}
	return fn, nil
}

func (d *blockDoc) block() (*ir.Block, error) {
	blk := &ir.Block{
		Label: d.Label,
		Scope: ir.ScopeID(d.Scope),
		Span:  span(d.Span),
	}
	for i, s := range d.Stmts {
		stmt, err := s.stmt()
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		blk.Stmts = append(blk.Stmts, stmt)
	}
	term, err := d.Term.terminator()
	if err != nil {
		return nil, err
	}
	blk.Term = term
	return blk, nil
}

func (d stmtDoc) stmt() (ir.Stmt, error) {
	switch d.Op {
	case "borrow":
		dst, err := requiredLocal(d.Dst, "dst")
		if err != nil {
			return nil, err
		}
		kind, err := borrowKind(d.Kind)
		if err != nil {
			return nil, err
		}
		origin, err := borrowOrigin(d.Origin)
		if err != nil {
			return nil, err
		}
		return &ir.Borrow{Dst: dst, Src: ir.LocalID(d.Src), Kind: kind, Origin: origin, Span: span(d.Span)}, nil
	case "use":
		return &ir.Use{Operands: locals(d.Operands), Span: span(d.Span)}, nil
	case "assign":
		dst, err := requiredLocal(d.Dst, "dst")
		if err != nil {
			return nil, err
		}
		return &ir.Assign{Dst: dst, Src: ir.LocalID(d.Src), Span: span(d.Span)}, nil
	case "store_field":
		return &ir.StoreField{Base: ir.LocalID(d.Base), Field: d.Field, Src: ir.LocalID(d.Src), Span: span(d.Span)}, nil
	case "store_through":
		return &ir.StoreThrough{Ref: ir.LocalID(d.Ref), Src: ir.LocalID(d.Src), Span: span(d.Span)}, nil
	case "call":
		return &ir.Call{Dst: optionalLocal(d.Dst), Callee: d.Callee, Args: locals(d.Args), Span: span(d.Span)}, nil
	case "finalize":
		return &ir.Finalize{Local: ir.LocalID(d.Local), Span: span(d.Span)}, nil
	default:
		return nil, fmt.Errorf("unknown statement op %q", d.Op)
	}
}

func (d *termDoc) terminator() (ir.Terminator, error) {
	if d == nil {
		return nil, fmt.Errorf("missing terminator")
	}
	switch d.Op {
	case "goto":
		return &ir.Goto{Target: ir.BlockID(d.Target), Span: span(d.Span)}, nil
	case "if":
		return &ir.If{Cond: ir.LocalID(d.Cond), Then: ir.BlockID(d.Then), Else: ir.BlockID(d.Else), Span: span(d.Span)}, nil
	case "return":
		return &ir.Return{Value: optionalLocal(d.Value), Span: span(d.Span)}, nil
	default:
		return nil, fmt.Errorf("unknown terminator op %q", d.Op)
	}
}

func typ(d *typeDoc) (ir.Type, error) {
	if d == nil {
		return nil, fmt.Errorf("missing type expression")
	}
	switch d.Kind {
	case "base":
		if d.Name == "" {
			return nil, fmt.Errorf("base type with no name")
		}
		return &ir.Base{Name: d.Name}, nil
	case "param":
		if d.Name == "" {
			return nil, fmt.Errorf("type parameter with no name")
		}
		return &ir.TypeParam{Name: d.Name}, nil
	case "ref":
		kind, err := borrowKind(d.Borrow)
		if err != nil {
			return nil, err
		}
		lt, err := lifetime(d.Lifetime)
		if err != nil {
			return nil, err
		}
		elem, err := typ(d.Elem)
		if err != nil {
			return nil, err
		}
		return &ir.Ref{Kind: kind, Lifetime: lt, Elem: elem}, nil
	case "rawptr":
		elem, err := typ(d.Elem)
		if err != nil {
			return nil, err
		}
		return &ir.RawPtr{Mutable: d.Mutable, Elem: elem}, nil
	case "box":
		elem, err := typ(d.Elem)
		if err != nil {
			return nil, err
		}
		return &ir.Box{Elem: elem}, nil
	case "cell":
		elem, err := typ(d.Elem)
		if err != nil {
			return nil, err
		}
		return &ir.Cell{Elem: elem}, nil
	case "fn":
		var params []ir.Type
		for i, p := range d.Params {
			t, err := typ(p)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
			params = append(params, t)
		}
		var result ir.Type
		if d.Result != nil {
			t, err := typ(d.Result)
			if err != nil {
				return nil, fmt.Errorf("result: %w", err)
			}
			result = t
		}
		return &ir.Fn{Params: params, Result: result}, nil
	case "ctor":
		if d.Name == "" {
			return nil, fmt.Errorf("constructor type with no name")
		}
		var args []ir.Arg
		for i, a := range d.Args {
			switch {
			case a.Lifetime != nil && a.Type != nil:
				return nil, fmt.Errorf("argument %d of %s is both a lifetime and a type", i, d.Name)
			case a.Lifetime != nil:
				lt, err := lifetime(a.Lifetime)
				if err != nil {
					return nil, fmt.Errorf("argument %d of %s: %w", i, d.Name, err)
				}
				args = append(args, ir.LifetimeArg(lt))
			case a.Type != nil:
				t, err := typ(a.Type)
				if err != nil {
					return nil, fmt.Errorf("argument %d of %s: %w", i, d.Name, err)
				}
				args = append(args, ir.TypeArg(t))
			default:
				return nil, fmt.Errorf("argument %d of %s is neither a lifetime nor a type", i, d.Name)
			}
		}
		return &ir.Ctor{Name: d.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("unknown type kind %q", d.Kind)
	}
}

func lifetime(d *ltDoc) (ir.Lifetime, error) {
	if d == nil {
		return ir.InferredLifetime(), nil
	}
	switch d.Kind {
	case "", "inferred":
		return ir.InferredLifetime(), nil
	case "param":
		if d.Name == "" {
			return ir.Lifetime{}, fmt.Errorf("param lifetime with no name")
		}
		return ir.ParamLifetime(d.Name), nil
	case "static":
		return ir.StaticLifetime(), nil
	case "unbounded":
		return ir.UnboundedLifetime(), nil
	case "concrete":
		return ir.Lifetime{}, fmt.Errorf("concrete lifetimes are analysis artifacts, not document input")
	default:
		return ir.Lifetime{}, fmt.Errorf("unknown lifetime kind %q", d.Kind)
	}
}

func borrowKind(s string) (ir.BorrowKind, error) {
	switch s {
	case "", "shared":
		return ir.BorrowShared, nil
	case "exclusive":
		return ir.BorrowExclusive, nil
	default:
		return 0, fmt.Errorf("unknown borrow kind %q", s)
	}
}

func borrowOrigin(s string) (ir.BorrowOrigin, error) {
	switch s {
	case "", "local":
		return ir.OriginLocal, nil
	case "raw":
		return ir.OriginRaw, nil
	default:
		return 0, fmt.Errorf("unknown borrow origin %q", s)
	}
}

func scopeKind(s string) (ir.ScopeKind, error) {
	switch s {
	case "", "function":
		return ir.ScopeFunction, nil
	case "block":
		return ir.ScopeBlock, nil
	case "loop":
		return ir.ScopeLoop, nil
	case "arm":
		return ir.ScopeArm, nil
	default:
		return 0, fmt.Errorf("unknown scope kind %q", s)
	}
}

func requiredLocal(p *int, what string) (ir.LocalID, error) {
	if p == nil {
		return ir.NoLocal, fmt.Errorf("missing %s", what)
	}
	return ir.LocalID(*p), nil
}

func optionalLocal(p *int) ir.LocalID {
	if p == nil {
		return ir.NoLocal
	}
	return ir.LocalID(*p)
}

func locals(xs []int) []ir.LocalID {
	out := make([]ir.LocalID, len(xs))
	for i, x := range xs {
		out[i] = ir.LocalID(x)
	}
	return out
}

func span(d *spanDoc) position.Span {
	if d == nil {
		return position.Span{}
	}
	start := position.Position{Filename: d.File, Line: d.Line, Column: d.Col}
	end := position.Position{Filename: d.File, Line: d.EndLine, Column: d.EndCol}
	if d.EndLine == 0 && d.EndCol == 0 {
		end = start
	}
	return position.Span{Start: start, End: end}
}
