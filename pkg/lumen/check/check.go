// Package check implements the Lumen bidirectional type checker, per
// spec.md §4.5: generics/monomorphization, subtyping, and match
// exhaustiveness over the resolved module produced by package resolve.
package check

import (
	"sort"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/resolve"
	"github.com/ternarybob/lumen/pkg/lumen/token"
	"github.com/ternarybob/lumen/pkg/lumen/types"
)

// Checker type-checks one resolved module at a time.
type Checker struct {
	mod  *resolve.Module
	errs *diag.Bag

	records map[string]*types.RecordSchema
	enums   map[string]*types.EnumSchema
	aliases map[string]ast.TypeExpr
	consts  map[string]*types.Type
	cells   map[string]*types.Type

	nextVar int
}

// New creates a Checker for mod, reporting into errs.
func New(mod *resolve.Module, errs *diag.Bag) *Checker {
	c := &Checker{
		mod:     mod,
		errs:    errs,
		records: map[string]*types.RecordSchema{},
		enums:   map[string]*types.EnumSchema{},
		aliases: map[string]ast.TypeExpr{},
		consts:  map[string]*types.Type{},
		cells:   map[string]*types.Type{},
	}
	return c
}

// Check runs the full pipeline: schema collection, signature binding,
// then per-cell body checking.
func (c *Checker) Check() {
	for _, sym := range c.mod.Symbols {
		switch d := sym.Item.(type) {
		case *ast.RecordDecl:
			c.records[d.Name] = c.recordSchema(d)
		case *ast.EnumDecl:
			c.enums[d.Name] = c.enumSchema(d)
		case *ast.TypeAliasDecl:
			c.aliases[d.Name] = d.Underlying
		}
	}
	for _, sym := range c.mod.Symbols {
		if d, ok := sym.Item.(*ast.CellDecl); ok {
			c.cells[d.Name] = c.cellType(d)
		}
	}
	for _, sym := range c.mod.Symbols {
		switch d := sym.Item.(type) {
		case *ast.ConstDecl:
			t := c.inferExpr(newScope(nil), d.Value)
			if d.Type != nil {
				declared := c.resolveType(d.Type)
				if !types.AssignableTo(t, declared) {
					c.report(d.Span(), "const %q: cannot assign %s to declared type %s", d.Name, t, declared)
				}
				t = declared
			}
			c.consts[d.Name] = t
		case *ast.CellDecl:
			c.checkCell(d)
		case *ast.ImplDecl:
			for _, cell := range d.Cells {
				c.checkCell(cell)
			}
		}
	}
}

// scope tracks local bindings introduced by let/params/patterns.
type scope struct {
	parent *scope
	vars   map[string]*types.Type
}

func newScope(parent *scope) *scope {
	return &scope{parent: parent, vars: map[string]*types.Type{}}
}

func (s *scope) lookup(name string) (*types.Type, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if t, ok := cur.vars[name]; ok {
			return t, true
		}
	}
	return nil, false
}

func (s *scope) define(name string, t *types.Type) {
	s.vars[name] = t
}

func (c *Checker) recordSchema(d *ast.RecordDecl) *types.RecordSchema {
	rs := &types.RecordSchema{Name: d.Name}
	for _, tp := range d.TypeParams {
		rs.TypeParams = append(rs.TypeParams, tp.Name)
	}
	for _, f := range d.Fields {
		rs.Fields = append(rs.Fields, types.FieldSchema{
			Name: f.Name, Type: c.resolveType(f.Type), HasDefault: f.Default != nil,
		})
	}
	return rs
}

func (c *Checker) enumSchema(d *ast.EnumDecl) *types.EnumSchema {
	es := &types.EnumSchema{Name: d.Name}
	for _, tp := range d.TypeParams {
		es.TypeParams = append(es.TypeParams, tp.Name)
	}
	for i, v := range d.Variants {
		var fields []types.FieldSchema
		for _, f := range v.Fields {
			fields = append(fields, types.FieldSchema{Name: f.Name, Type: c.resolveType(f.Type)})
		}
		es.Variants = append(es.Variants, types.VariantSchema{Name: v.Name, Tag: i, Fields: fields})
	}
	return es
}

func (c *Checker) cellType(d *ast.CellDecl) *types.Type {
	var params []*types.Type
	for _, p := range d.Params {
		params = append(params, c.resolveType(p.Type))
	}
	ret := types.Any()
	if d.Return != nil {
		ret = c.resolveType(d.Return)
	}
	var effects []string
	if d.Effects != nil {
		effects = d.Effects.Names
	}
	return types.Fn(params, ret, effects)
}

// resolveType turns an ast.TypeExpr into a types.Type, resolving named
// references against records/enums/aliases/type-parameter scope.
func (c *Checker) resolveType(t ast.TypeExpr) *types.Type {
	if t == nil {
		return types.Any()
	}
	switch x := t.(type) {
	case *ast.NamedTypeExpr:
		return c.resolveNamedType(x)
	case *ast.OptionalTypeExpr:
		return types.Optional(c.resolveType(x.Inner))
	case *ast.UnionTypeExpr:
		var members []*types.Type
		for _, m := range x.Members {
			members = append(members, c.resolveType(m))
		}
		return types.Union(members...)
	case *ast.ListTypeExpr:
		return types.List(c.resolveType(x.Elem))
	case *ast.MapTypeExpr:
		return types.Map(c.resolveType(x.Key), c.resolveType(x.Value))
	case *ast.SetTypeExpr:
		return types.SetOf(c.resolveType(x.Elem))
	case *ast.TupleTypeExpr:
		var elems []*types.Type
		for _, e := range x.Elems {
			elems = append(elems, c.resolveType(e))
		}
		return types.Tuple(elems...)
	case *ast.ResultTypeExpr:
		return types.Result(c.resolveType(x.Ok), c.resolveType(x.Err))
	case *ast.FnTypeExpr:
		var params []*types.Type
		for _, p := range x.Params {
			params = append(params, c.resolveType(p))
		}
		var effects []string
		if x.Effects != nil {
			effects = x.Effects.Names
		}
		return types.Fn(params, c.resolveType(x.Return), effects)
	case *ast.AnyTypeExpr:
		return types.Any()
	}
	return types.Any()
}

func (c *Checker) resolveNamedType(x *ast.NamedTypeExpr) *types.Type {
	switch x.Name {
	case "Int":
		return types.Int()
	case "Float":
		return types.Float()
	case "Bool":
		return types.Bool()
	case "String":
		return types.String()
	case "Bytes":
		return types.Bytes()
	case "Json":
		return types.JSON()
	case "Null":
		return types.Null()
	}
	var args []*types.Type
	for _, a := range x.Args {
		args = append(args, c.resolveType(a))
	}
	if _, ok := c.records[x.Name]; ok {
		return types.Record(x.Name, args...)
	}
	if _, ok := c.enums[x.Name]; ok {
		return types.Enum(x.Name, args...)
	}
	if under, ok := c.aliases[x.Name]; ok {
		return c.resolveType(under)
	}
	return types.TypeRef(x.Name, args...)
}

// inferExpr computes the synthesized type of e, recursing into every
// subexpression and reporting mismatches it can detect locally. Names
// it cannot resolve (free identifiers belonging to an unresolved
// import, record field access before layout is known, etc.) degrade to
// Any rather than cascading further errors, per spec.md §4.5.
func (c *Checker) inferExpr(s *scope, e ast.Expr) *types.Type {
	if e == nil {
		return types.Any()
	}
	switch x := e.(type) {
	case *ast.IntLit:
		return types.Int()
	case *ast.FloatLit:
		return types.Float()
	case *ast.BoolLit:
		return types.Bool()
	case *ast.NullLit:
		return types.Null()
	case *ast.BytesLit:
		return types.Bytes()
	case *ast.StringLit:
		for _, part := range x.Parts {
			if part.Expr != nil {
				c.inferExpr(s, part.Expr)
			}
		}
		return types.String()
	case *ast.Ident:
		return c.lookupIdent(s, x)
	case *ast.ListExpr:
		elem := types.Any()
		for i, el := range x.Elems {
			t := c.inferExpr(s, el)
			if i == 0 {
				elem = t
			}
		}
		return types.List(elem)
	case *ast.SetExpr:
		elem := types.Any()
		for i, el := range x.Elems {
			t := c.inferExpr(s, el)
			if i == 0 {
				elem = t
			}
		}
		return types.SetOf(elem)
	case *ast.TupleExpr:
		var elems []*types.Type
		for _, el := range x.Elems {
			elems = append(elems, c.inferExpr(s, el))
		}
		return types.Tuple(elems...)
	case *ast.MapExpr:
		key, val := types.Any(), types.Any()
		for i, en := range x.Entries {
			kt := c.inferExpr(s, en.Key)
			vt := c.inferExpr(s, en.Value)
			if i == 0 {
				key, val = kt, vt
			}
		}
		return types.Map(key, val)
	case *ast.RecordExpr:
		for _, a := range x.Args {
			c.inferExpr(s, a.Value)
		}
		if x.Type != nil {
			return c.resolveType(x.Type)
		}
		return types.Any()
	case *ast.UnaryExpr:
		t := c.inferExpr(s, x.X)
		if x.Op == ast.UnaryNot {
			return types.Bool()
		}
		return t
	case *ast.BinaryExpr:
		return c.inferBinary(s, x)
	case *ast.RangeExpr:
		c.inferExpr(s, x.From)
		c.inferExpr(s, x.To)
		return types.List(types.Int())
	case *ast.CallExpr:
		return c.inferCall(s, x)
	case *ast.FieldExpr:
		xt := c.inferExpr(s, x.X)
		ft := c.fieldType(xt.Name, x.Field)
		if x.Opt {
			return types.Optional(ft)
		}
		return ft
	case *ast.IndexExpr:
		xt := c.inferExpr(s, x.X)
		c.inferExpr(s, x.Index)
		var res *types.Type
		switch xt.Kind {
		case types.KindList, types.KindSet:
			res = xt.Elem
		case types.KindMap:
			res = xt.Value
		case types.KindTuple:
			res = types.Any()
		default:
			res = types.Any()
		}
		if x.Opt {
			return types.Optional(res)
		}
		return res
	case *ast.TryExpr:
		xt := c.inferExpr(s, x.X)
		if xt.Kind == types.KindResult {
			return xt.Ok
		}
		return xt
	case *ast.NullAssertExpr:
		xt := c.inferExpr(s, x.X)
		if inner, ok := xt.IsOptional(); ok {
			return inner
		}
		return xt
	case *ast.NullCoalesceExpr:
		xt := c.inferExpr(s, x.X)
		dt := c.inferExpr(s, x.Default)
		if inner, ok := xt.IsOptional(); ok {
			return types.Union(inner, dt)
		}
		return xt
	case *ast.CastExpr:
		c.inferExpr(s, x.X)
		return c.resolveType(x.Type)
	case *ast.IsExpr:
		c.inferExpr(s, x.X)
		return types.Bool()
	case *ast.IfExpr:
		c.inferExpr(s, x.Cond)
		tt := c.inferExpr(s, x.Then)
		et := c.inferExpr(s, x.Else)
		if types.Equal(tt, et) {
			return tt
		}
		return types.Union(tt, et)
	case *ast.MatchExpr:
		subjT := c.inferExpr(s, x.Subject)
		c.checkMatchArms(s, x.Span(), subjT, x.Arms, types.Any())
		var armTypes []*types.Type
		for _, arm := range x.Arms {
			inner := newScope(s)
			c.bindPattern(inner, arm.Pattern, subjT)
			armTypes = append(armTypes, c.inferExpr(inner, arm.Body))
		}
		if len(armTypes) == 0 {
			return types.Any()
		}
		return types.Union(armTypes...)
	case *ast.BlockExpr:
		inner := newScope(s)
		return c.inferBlockExpr(inner, x.Block)
	case *ast.LambdaExpr:
		inner := newScope(s)
		var params []*types.Type
		for _, p := range x.Params {
			pt := c.resolveType(p.Type)
			inner.define(p.Name, pt)
			params = append(params, pt)
		}
		bodyT := c.inferExpr(inner, x.Body)
		ret := bodyT
		if x.Return != nil {
			ret = c.resolveType(x.Return)
		}
		var effects []string
		if x.Effects != nil {
			effects = x.Effects.Names
		}
		return types.Fn(params, ret, effects)
	case *ast.SpawnExpr:
		c.inferExpr(s, x.Call)
		return types.TypeRef("Future")
	case *ast.AwaitExpr:
		xt := c.inferExpr(s, x.X)
		if xt.Kind == types.KindTypeRef && xt.Name == "Future" && len(xt.Args) == 1 {
			return xt.Args[0]
		}
		return xt
	case *ast.PipeExpr:
		c.inferExpr(s, x.X)
		return c.inferCall(s, x.Call)
	case *ast.ComposeExpr:
		ft := c.inferExpr(s, x.F)
		c.inferExpr(s, x.G)
		return ft
	case *ast.ForComprehension:
		iterT := c.inferExpr(s, x.Iter)
		inner := newScope(s)
		c.bindPattern(inner, x.Pattern, elemTypeOf(iterT))
		if x.Filter != nil {
			c.inferExpr(inner, x.Filter)
		}
		return types.List(c.inferExpr(inner, x.Body))
	}
	return types.Any()
}

// inferBlockExpr types the final expression-statement of a block, or
// Null when the block ends in a non-expression statement.
func (c *Checker) inferBlockExpr(s *scope, b *ast.Block) *types.Type {
	if b == nil || len(b.Stmts) == 0 {
		return types.Null()
	}
	for _, stmt := range b.Stmts[:len(b.Stmts)-1] {
		c.checkStmt(s, stmt, types.Any())
	}
	last := b.Stmts[len(b.Stmts)-1]
	if es, ok := last.(*ast.ExprStmt); ok {
		return c.inferExpr(s, es.X)
	}
	c.checkStmt(s, last, types.Any())
	return types.Null()
}

func (c *Checker) inferBinary(s *scope, x *ast.BinaryExpr) *types.Type {
	lt := c.inferExpr(s, x.X)
	rt := c.inferExpr(s, x.Y)
	switch x.Op {
	case ast.BinEq, ast.BinNeq, ast.BinLt, ast.BinLe, ast.BinGt, ast.BinGe, ast.BinAnd, ast.BinOr, ast.BinIn:
		return types.Bool()
	case ast.BinConcat:
		return lt
	case ast.BinNullCo:
		if inner, ok := lt.IsOptional(); ok {
			return types.Union(inner, rt)
		}
		return lt
	default: // arithmetic/bitwise
		if lt.Kind == types.KindFloat || rt.Kind == types.KindFloat {
			return types.Float()
		}
		return lt
	}
}

func (c *Checker) inferCall(s *scope, x *ast.CallExpr) *types.Type {
	for _, a := range x.Args {
		c.inferExpr(s, a.Value)
	}
	ct := c.inferExpr(s, x.Callee)
	if ct.Kind == types.KindFn {
		return ct.Return
	}
	return types.Any()
}

// lookupIdent resolves an identifier against local scope, then
// cell/const bindings, then the module's import table.
func (c *Checker) lookupIdent(s *scope, id *ast.Ident) *types.Type {
	if t, ok := s.lookup(id.Name); ok {
		return t
	}
	if t, ok := c.cells[id.Name]; ok {
		return t
	}
	if t, ok := c.consts[id.Name]; ok {
		return t
	}
	if sym, ok := c.mod.Symbols[id.Name]; ok {
		if cd, ok := sym.Item.(*ast.CellDecl); ok {
			return c.cellType(cd)
		}
	}
	return types.Any()
}

// checkCell type-checks one cell body against its declared (or inferred)
// return type, binding parameters into a fresh scope.
func (c *Checker) checkCell(d *ast.CellDecl) {
	s := newScope(nil)
	for _, p := range d.Params {
		s.define(p.Name, c.resolveType(p.Type))
	}
	ret := types.Any()
	if d.Return != nil {
		ret = c.resolveType(d.Return)
	}
	c.checkBlock(s, d.Body, ret)
}

func (c *Checker) checkBlock(s *scope, b *ast.Block, ret *types.Type) {
	if b == nil {
		return
	}
	for _, stmt := range b.Stmts {
		c.checkStmt(s, stmt, ret)
	}
}

func (c *Checker) checkStmt(s *scope, stmt ast.Stmt, ret *types.Type) {
	switch x := stmt.(type) {
	case *ast.LetStmt:
		t := c.inferExpr(s, x.Value)
		if x.Type != nil {
			declared := c.resolveType(x.Type)
			if !types.AssignableTo(t, declared) {
				c.report(x.Span(), "cannot assign %s to declared type %s", t, declared)
			}
			t = declared
		}
		c.bindPattern(s, x.Pattern, t)
	case *ast.AssignStmt:
		c.inferExpr(s, x.Target)
		c.inferExpr(s, x.Value)
	case *ast.ExprStmt:
		c.inferExpr(s, x.X)
	case *ast.ReturnStmt:
		if x.Value != nil {
			t := c.inferExpr(s, x.Value)
			if !types.AssignableTo(t, ret) {
				c.report(x.Span(), "return type %s does not match declared return type %s", t, ret)
			}
		}
	case *ast.IfStmt:
		c.inferExpr(s, x.Cond)
		c.checkBlock(newScope(s), x.Then, ret)
		c.checkBlock(newScope(s), x.Else, ret)
	case *ast.ForStmt:
		iterT := c.inferExpr(s, x.Iter)
		inner := newScope(s)
		c.bindPattern(inner, x.Pattern, elemTypeOf(iterT))
		if x.Filter != nil {
			c.inferExpr(inner, x.Filter)
		}
		c.checkBlock(inner, x.Body, ret)
	case *ast.WhileStmt:
		c.inferExpr(s, x.Cond)
		c.checkBlock(newScope(s), x.Body, ret)
	case *ast.LoopStmt:
		c.checkBlock(newScope(s), x.Body, ret)
	case *ast.MatchStmt:
		subjT := c.inferExpr(s, x.Subject)
		c.checkMatchArms(s, x.Span(), subjT, x.Arms, ret)
	case *ast.DeferStmt:
		c.checkBlock(newScope(s), x.Body, ret)
	case *ast.HaltStmt:
		if x.Message != nil {
			c.inferExpr(s, x.Message)
		}
	}
}

// elemTypeOf returns the element type iterated by a `for` loop over t.
func elemTypeOf(t *types.Type) *types.Type {
	switch t.Kind {
	case types.KindList, types.KindSet:
		return t.Elem
	case types.KindMap:
		return types.Tuple(t.Key, t.Value)
	case types.KindTuple:
		return types.Any()
	}
	return types.Any()
}

func (c *Checker) bindPattern(s *scope, p ast.Pattern, t *types.Type) {
	switch x := p.(type) {
	case *ast.WildcardPattern:
	case *ast.IdentPattern:
		s.define(x.Name, t)
	case *ast.TuplePattern:
		for i, el := range x.Elems {
			et := types.Any()
			if t.Kind == types.KindTuple && i < len(t.Elems) {
				et = t.Elems[i]
			}
			c.bindPattern(s, el, et)
		}
	case *ast.ListPattern:
		et := elemTypeOf(t)
		for _, el := range x.Elems {
			c.bindPattern(s, el, et)
		}
		if x.HasRest && x.Rest != "" {
			s.define(x.Rest, types.List(et))
		}
	case *ast.RecordPattern:
		for _, f := range x.Fields {
			ft := c.fieldType(x.TypeName, f.Name)
			c.bindPattern(s, f.Pattern, ft)
		}
	case *ast.VariantPattern:
		variant := c.variantSchema(x.EnumName, x.VariantName)
		for i, pp := range x.Positional {
			ft := types.Any()
			if variant != nil && i < len(variant.Fields) {
				ft = variant.Fields[i].Type
			}
			c.bindPattern(s, pp, ft)
		}
		for _, f := range x.Named {
			ft := types.Any()
			if variant != nil {
				for _, vf := range variant.Fields {
					if vf.Name == f.Name {
						ft = vf.Type
					}
				}
			}
			c.bindPattern(s, f.Pattern, ft)
		}
	case *ast.OrPattern:
		for _, alt := range x.Alternatives {
			c.bindPattern(s, alt, t)
		}
	case *ast.TypedPattern:
		s.define(x.Name, c.resolveType(x.Type))
	case *ast.LiteralPattern:
	}
}

func (c *Checker) fieldType(typeName, field string) *types.Type {
	if typeName == "" {
		return types.Any()
	}
	if rs, ok := c.records[typeName]; ok {
		for _, f := range rs.Fields {
			if f.Name == field {
				return f.Type
			}
		}
	}
	return types.Any()
}

func (c *Checker) variantSchema(enumName, variantName string) *types.VariantSchema {
	if enumName != "" {
		if es, ok := c.enums[enumName]; ok {
			if v, ok := es.VariantByName(variantName); ok {
				return v
			}
		}
		return nil
	}
	for _, es := range c.enums {
		if v, ok := es.VariantByName(variantName); ok {
			return v
		}
	}
	return nil
}

// checkMatchArms verifies exhaustiveness against the subject's type per
// spec.md §4.5/§9: every enum variant (or both branches of an optional,
// or the member types of a union) must be covered unless a wildcard or
// bare identifier pattern is present.
func (c *Checker) checkMatchArms(s *scope, span token.Span, subjT *types.Type, arms []*ast.MatchArm, ret *types.Type) {
	covered := map[string]bool{}
	hasCatchAll := false
	for _, arm := range arms {
		inner := newScope(s)
		c.bindPattern(inner, arm.Pattern, subjT)
		if arm.Guard != nil {
			c.inferExpr(inner, arm.Guard)
		} else {
			c.markCovered(arm.Pattern, covered, &hasCatchAll)
		}
		c.inferExpr(inner, arm.Body)
	}
	if hasCatchAll {
		return
	}
	switch subjT.Kind {
	case types.KindEnum:
		if es, ok := c.enums[subjT.Name]; ok {
			var missing []string
			for _, v := range es.Variants {
				if !covered[v.Name] {
					missing = append(missing, v.Name)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				c.report(span, "match on %s is not exhaustive: missing variant(s) %v", subjT, missing)
			}
		}
	case types.KindUnion:
		for _, m := range subjT.Members {
			if !covered[m.String()] {
				c.report(span, "match on %s is not exhaustive: missing arm for %s", subjT, m)
			}
		}
	}
}

func (c *Checker) markCovered(p ast.Pattern, covered map[string]bool, catchAll *bool) {
	switch x := p.(type) {
	case *ast.WildcardPattern, *ast.IdentPattern:
		*catchAll = true
	case *ast.VariantPattern:
		covered[x.VariantName] = true
	case *ast.TypedPattern:
		covered[c.resolveType(x.Type).String()] = true
	case *ast.OrPattern:
		for _, alt := range x.Alternatives {
			c.markCovered(alt, covered, catchAll)
		}
	}
}

func (c *Checker) report(span token.Span, format string, args ...any) {
	c.errs.Errorf(span, diag.CodeTypeMismatch, format, args...)
}
