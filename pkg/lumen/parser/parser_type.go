package parser

import (
	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/token"
)

// parseType parses a type annotation (spec.md §3): a named/generic type,
// optionally suffixed with `?` for optional and chained with `|` for
// unions, or one of the structural forms (list/map/set/tuple/result/fn).
func (p *Parser) parseType() ast.TypeExpr {
	t := p.parseTypeAtom()
	if p.at(token.Question) {
		st := t.Span()
		p.advance()
		t = &ast.OptionalTypeExpr{SpanVal: span(st, p.cur().Span), Inner: t}
	}
	if p.at(token.Pipe) {
		st := t.Span()
		members := []ast.TypeExpr{t}
		for p.at(token.Pipe) {
			p.advance()
			members = append(members, p.parseTypeAtomWithOptional())
		}
		return &ast.UnionTypeExpr{SpanVal: span(st, p.cur().Span), Members: members}
	}
	return t
}

// parseTypeAtomWithOptional handles a union member that itself carries a
// trailing `?`, e.g. `A | B? | C`.
func (p *Parser) parseTypeAtomWithOptional() ast.TypeExpr {
	t := p.parseTypeAtom()
	if p.at(token.Question) {
		st := t.Span()
		p.advance()
		t = &ast.OptionalTypeExpr{SpanVal: span(st, p.cur().Span), Inner: t}
	}
	return t
}

func (p *Parser) parseTypeAtom() ast.TypeExpr {
	st := p.cur().Span
	switch {
	case p.at(token.LParen):
		return p.parseTupleOrFnType(st)
	case p.at(token.Ident):
		name := p.cur().Lexeme
		switch name {
		case "list":
			p.advance()
			p.expect(token.LBracket)
			elem := p.parseType()
			p.expect(token.RBracket)
			return &ast.ListTypeExpr{SpanVal: span(st, p.cur().Span), Elem: elem}
		case "map":
			p.advance()
			p.expect(token.LBracket)
			key := p.parseType()
			p.expect(token.Comma)
			val := p.parseType()
			p.expect(token.RBracket)
			return &ast.MapTypeExpr{SpanVal: span(st, p.cur().Span), Key: key, Value: val}
		case "set":
			p.advance()
			p.expect(token.LBracket)
			elem := p.parseType()
			p.expect(token.RBracket)
			return &ast.SetTypeExpr{SpanVal: span(st, p.cur().Span), Elem: elem}
		case "result":
			p.advance()
			p.expect(token.LBracket)
			ok := p.parseType()
			p.expect(token.Comma)
			errT := p.parseType()
			p.expect(token.RBracket)
			return &ast.ResultTypeExpr{SpanVal: span(st, p.cur().Span), Ok: ok, Err: errT}
		case "any", "Any":
			p.advance()
			return &ast.AnyTypeExpr{SpanVal: span(st, p.cur().Span)}
		case "fn":
			return p.parseFnType(st)
		}
		p.advance()
		nt := &ast.NamedTypeExpr{SpanVal: span(st, p.cur().Span), Name: name}
		if p.at(token.LBracket) {
			p.advance()
			nt.Args = append(nt.Args, p.parseType())
			for p.at(token.Comma) {
				p.advance()
				nt.Args = append(nt.Args, p.parseType())
			}
			p.expect(token.RBracket)
			nt.SpanVal = span(st, p.cur().Span)
		}
		return nt
	}
	p.errorf("expected a type, found %s", p.cur())
	p.advance()
	return &ast.AnyTypeExpr{SpanVal: span(st, p.cur().Span)}
}

// parseTupleOrFnType disambiguates `(A, B)` tuple types from a
// parenthesized `fn`-less function type; Lumen always spells function
// types with the `fn` keyword (spec.md §3), so a leading `(` here is
// always a tuple.
func (p *Parser) parseTupleOrFnType(st token.Span) ast.TypeExpr {
	p.advance() // (
	if p.at(token.RParen) {
		p.advance()
		return &ast.TupleTypeExpr{SpanVal: span(st, p.cur().Span)}
	}
	elems := []ast.TypeExpr{p.parseType()}
	for p.at(token.Comma) {
		p.advance()
		if p.at(token.RParen) {
			break
		}
		elems = append(elems, p.parseType())
	}
	p.expect(token.RParen)
	if len(elems) == 1 {
		return elems[0]
	}
	return &ast.TupleTypeExpr{SpanVal: span(st, p.cur().Span), Elems: elems}
}

// parseFnType parses `fn(A, B) -> R / {effects}`.
func (p *Parser) parseFnType(st token.Span) ast.TypeExpr {
	p.advance() // fn
	p.expect(token.LParen)
	var params []ast.TypeExpr
	if !p.at(token.RParen) {
		params = append(params, p.parseType())
		for p.at(token.Comma) {
			p.advance()
			params = append(params, p.parseType())
		}
	}
	p.expect(token.RParen)
	var ret ast.TypeExpr
	if p.at(token.Arrow) {
		p.advance()
		ret = p.parseType()
	}
	effects := p.tryParseEffectRow()
	return &ast.FnTypeExpr{SpanVal: span(st, p.cur().Span), Params: params, Return: ret, Effects: effects}
}
