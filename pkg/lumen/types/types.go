// Package types defines the resolved type model used by the checker and
// lowerer, per spec.md §3 and §4.5.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the sum-of-variants Type representation.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindBytes
	KindJSON
	KindNull
	KindAny
	KindList
	KindMap
	KindSet
	KindTuple
	KindRecord
	KindEnum
	KindUnion
	KindResult
	KindFn
	KindTypeRef // unresolved generic reference, spec.md §3 / §9
	KindVar     // generic type variable
)

// Type is a resolved Lumen type.
type Type struct {
	Kind Kind

	// Collections
	Elem  *Type   // List, Set
	Key   *Type   // Map
	Value *Type   // Map
	Elems []*Type // Tuple

	// Record/Enum/TypeRef
	Name string
	Args []*Type

	// Union
	Members []*Type

	// Result
	Ok  *Type
	Err *Type

	// Fn
	Params  []*Type
	Return  *Type
	Effects []string

	// Var
	VarID int
}

func Int() *Type    { return &Type{Kind: KindInt} }
func Float() *Type  { return &Type{Kind: KindFloat} }
func Bool() *Type   { return &Type{Kind: KindBool} }
func String() *Type { return &Type{Kind: KindString} }
func Bytes() *Type  { return &Type{Kind: KindBytes} }
func JSON() *Type   { return &Type{Kind: KindJSON} }
func Null() *Type   { return &Type{Kind: KindNull} }
func Any() *Type    { return &Type{Kind: KindAny} }

func List(elem *Type) *Type          { return &Type{Kind: KindList, Elem: elem} }
func SetOf(elem *Type) *Type         { return &Type{Kind: KindSet, Elem: elem} }
func Map(key, val *Type) *Type       { return &Type{Kind: KindMap, Key: key, Value: val} }
func Tuple(elems ...*Type) *Type     { return &Type{Kind: KindTuple, Elems: elems} }
func Result(ok, err *Type) *Type     { return &Type{Kind: KindResult, Ok: ok, Err: err} }
func Fn(params []*Type, ret *Type, effects []string) *Type {
	return &Type{Kind: KindFn, Params: params, Return: ret, Effects: effects}
}
func Record(name string, args ...*Type) *Type { return &Type{Kind: KindRecord, Name: name, Args: args} }
func Enum(name string, args ...*Type) *Type   { return &Type{Kind: KindEnum, Name: name, Args: args} }
func TypeRef(name string, args ...*Type) *Type { return &Type{Kind: KindTypeRef, Name: name, Args: args} }
func Var(id int) *Type                        { return &Type{Kind: KindVar, VarID: id} }

// Optional builds `T | Null`, the desugaring of `T?` (spec.md §3).
func Optional(t *Type) *Type {
	return Union(t, Null())
}

// Union flattens and de-duplicates its members by structural equality.
func Union(members ...*Type) *Type {
	var flat []*Type
	seen := map[string]bool{}
	var walk func(*Type)
	walk = func(t *Type) {
		if t.Kind == KindUnion {
			for _, m := range t.Members {
				walk(m)
			}
			return
		}
		k := t.String()
		if !seen[k] {
			seen[k] = true
			flat = append(flat, t)
		}
	}
	for _, m := range members {
		walk(m)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].String() < flat[j].String() })
	return &Type{Kind: KindUnion, Members: flat}
}

// String renders a canonical textual form, used both for diagnostics and
// as a structural-equality key (e.g. constant-pool interning).
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindBool:
		return "Bool"
	case KindString:
		return "String"
	case KindBytes:
		return "Bytes"
	case KindJSON:
		return "Json"
	case KindNull:
		return "Null"
	case KindAny:
		return "Any"
	case KindList:
		return fmt.Sprintf("list[%s]", t.Elem)
	case KindSet:
		return fmt.Sprintf("set[%s]", t.Elem)
	case KindMap:
		return fmt.Sprintf("map[%s, %s]", t.Key, t.Value)
	case KindTuple:
		parts := make([]string, len(t.Elems))
		for i, e := range t.Elems {
			parts[i] = e.String()
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, ", "))
	case KindRecord, KindEnum, KindTypeRef:
		if len(t.Args) == 0 {
			return t.Name
		}
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return fmt.Sprintf("%s[%s]", t.Name, strings.Join(parts, ", "))
	case KindUnion:
		parts := make([]string, len(t.Members))
		for i, m := range t.Members {
			parts[i] = m.String()
		}
		return strings.Join(parts, " | ")
	case KindResult:
		return fmt.Sprintf("result[%s, %s]", t.Ok, t.Err)
	case KindFn:
		parts := make([]string, len(t.Params))
		for i, p := range t.Params {
			parts[i] = p.String()
		}
		eff := ""
		if len(t.Effects) > 0 {
			eff = " / {" + strings.Join(t.Effects, ", ") + "}"
		}
		return fmt.Sprintf("fn(%s) -> %s%s", strings.Join(parts, ", "), t.Return, eff)
	case KindVar:
		return fmt.Sprintf("'t%d", t.VarID)
	default:
		return "?"
	}
}

// IsOptional reports whether t is exactly `T | Null` and returns T.
func (t *Type) IsOptional() (*Type, bool) {
	if t.Kind != KindUnion {
		return nil, false
	}
	var rest []*Type
	hasNull := false
	for _, m := range t.Members {
		if m.Kind == KindNull {
			hasNull = true
			continue
		}
		rest = append(rest, m)
	}
	if !hasNull {
		return nil, false
	}
	if len(rest) == 1 {
		return rest[0], true
	}
	return Union(rest...), true
}

// Equal reports structural equality.
func Equal(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// AssignableTo implements the subtyping rules of spec.md §4.5: exact
// equality, T <: T|U (and any superset union), Null <: T?, Any <: anything.
func AssignableTo(from, to *Type) bool {
	if Equal(from, to) {
		return true
	}
	if to.Kind == KindAny || from.Kind == KindAny {
		return true
	}
	if to.Kind == KindUnion {
		if from.Kind == KindUnion {
			for _, fm := range from.Members {
				if !memberOf(fm, to.Members) {
					return false
				}
			}
			return true
		}
		return memberOf(from, to.Members)
	}
	return false
}

func memberOf(t *Type, members []*Type) bool {
	for _, m := range members {
		if Equal(t, m) {
			return true
		}
	}
	return false
}

// Substitution maps generic type-variable IDs to concrete types, used by
// monomorphization at each instantiation site (spec.md §4.5, §9).
type Substitution map[int]*Type

// Substitute replaces every KindVar (and nested TypeRef whose Name matches
// a type-parameter binding recorded by the caller) with its binding.
func Substitute(t *Type, sub Substitution) *Type {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case KindVar:
		if bound, ok := sub[t.VarID]; ok {
			return bound
		}
		return t
	case KindList:
		return List(Substitute(t.Elem, sub))
	case KindSet:
		return SetOf(Substitute(t.Elem, sub))
	case KindMap:
		return Map(Substitute(t.Key, sub), Substitute(t.Value, sub))
	case KindTuple:
		elems := make([]*Type, len(t.Elems))
		for i, e := range t.Elems {
			elems[i] = Substitute(e, sub)
		}
		return Tuple(elems...)
	case KindUnion:
		members := make([]*Type, len(t.Members))
		for i, m := range t.Members {
			members[i] = Substitute(m, sub)
		}
		return Union(members...)
	case KindResult:
		return Result(Substitute(t.Ok, sub), Substitute(t.Err, sub))
	case KindRecord, KindEnum:
		args := make([]*Type, len(t.Args))
		for i, a := range t.Args {
			args[i] = Substitute(a, sub)
		}
		return &Type{Kind: t.Kind, Name: t.Name, Args: args}
	case KindFn:
		params := make([]*Type, len(t.Params))
		for i, p := range t.Params {
			params[i] = Substitute(p, sub)
		}
		return Fn(params, Substitute(t.Return, sub), t.Effects)
	default:
		return t
	}
}

// Unify attempts to unify a and b, binding any KindVar it encounters into
// sub. Implements the rules of spec.md §4.5 including an occurs-check.
func Unify(a, b *Type, sub Substitution) error {
	a = resolveVar(a, sub)
	b = resolveVar(b, sub)

	if a.Kind == KindVar {
		return bind(a.VarID, b, sub)
	}
	if b.Kind == KindVar {
		return bind(b.VarID, a, sub)
	}
	if a.Kind == KindAny || b.Kind == KindAny {
		return nil
	}
	if a.Kind != b.Kind {
		if a.Kind == KindUnion || b.Kind == KindUnion {
			return unifyUnion(a, b, sub)
		}
		return fmt.Errorf("cannot unify %s with %s", a, b)
	}
	switch a.Kind {
	case KindList, KindSet:
		return Unify(a.Elem, b.Elem, sub)
	case KindMap:
		if err := Unify(a.Key, b.Key, sub); err != nil {
			return err
		}
		return Unify(a.Value, b.Value, sub)
	case KindTuple:
		if len(a.Elems) != len(b.Elems) {
			return fmt.Errorf("tuple arity mismatch: %s vs %s", a, b)
		}
		for i := range a.Elems {
			if err := Unify(a.Elems[i], b.Elems[i], sub); err != nil {
				return err
			}
		}
		return nil
	case KindRecord, KindEnum, KindTypeRef:
		if a.Name != b.Name || len(a.Args) != len(b.Args) {
			return fmt.Errorf("cannot unify %s with %s", a, b)
		}
		for i := range a.Args {
			if err := Unify(a.Args[i], b.Args[i], sub); err != nil {
				return err
			}
		}
		return nil
	case KindUnion:
		return unifyUnion(a, b, sub)
	case KindResult:
		if err := Unify(a.Ok, b.Ok, sub); err != nil {
			return err
		}
		return Unify(a.Err, b.Err, sub)
	case KindFn:
		if len(a.Params) != len(b.Params) {
			return fmt.Errorf("fn arity mismatch: %s vs %s", a, b)
		}
		for i := range a.Params {
			if err := Unify(a.Params[i], b.Params[i], sub); err != nil {
				return err
			}
		}
		return Unify(a.Return, b.Return, sub)
	default:
		if !Equal(a, b) {
			return fmt.Errorf("cannot unify %s with %s", a, b)
		}
		return nil
	}
}

func unifyUnion(a, b *Type, sub Substitution) error {
	// Member-wise unification as a set (spec.md §4.5): every member of one
	// side must unify with some member of the other.
	am, bm := members(a), members(b)
	if len(am) != len(bm) {
		return fmt.Errorf("cannot unify %s with %s", a, b)
	}
	used := make([]bool, len(bm))
	for _, x := range am {
		matched := false
		for i, y := range bm {
			if used[i] {
				continue
			}
			if Unify(x, y, Substitution{}) == nil {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return fmt.Errorf("cannot unify %s with %s", a, b)
		}
	}
	return nil
}

func members(t *Type) []*Type {
	if t.Kind == KindUnion {
		return t.Members
	}
	return []*Type{t}
}

func resolveVar(t *Type, sub Substitution) *Type {
	for t.Kind == KindVar {
		bound, ok := sub[t.VarID]
		if !ok {
			return t
		}
		t = bound
	}
	return t
}

func bind(id int, t *Type, sub Substitution) error {
	if occurs(id, t, sub) {
		return fmt.Errorf("occurs check failed: 't%d occurs in %s", id, t)
	}
	sub[id] = t
	return nil
}

func occurs(id int, t *Type, sub Substitution) bool {
	t = resolveVar(t, sub)
	if t.Kind == KindVar {
		return t.VarID == id
	}
	for _, c := range children(t) {
		if occurs(id, c, sub) {
			return true
		}
	}
	return false
}

func children(t *Type) []*Type {
	var out []*Type
	if t.Elem != nil {
		out = append(out, t.Elem)
	}
	if t.Key != nil {
		out = append(out, t.Key)
	}
	if t.Value != nil {
		out = append(out, t.Value)
	}
	out = append(out, t.Elems...)
	out = append(out, t.Args...)
	out = append(out, t.Members...)
	if t.Ok != nil {
		out = append(out, t.Ok)
	}
	if t.Err != nil {
		out = append(out, t.Err)
	}
	out = append(out, t.Params...)
	if t.Return != nil {
		out = append(out, t.Return)
	}
	return out
}
