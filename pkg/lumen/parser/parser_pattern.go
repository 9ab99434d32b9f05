package parser

import (
	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/token"
)

// parsePattern parses a single pattern, without the top-level `|`
// alternation (used by let/for bindings, which never alternate).
func (p *Parser) parsePattern() ast.Pattern {
	return p.parsePatternAtom()
}

// parseOrPattern parses a pattern allowing top-level `p1 | p2 | ...`
// alternation, used by match arms (spec.md §4.3, §4.6).
func (p *Parser) parseOrPattern() ast.Pattern {
	st := p.cur().Span
	first := p.parsePatternAtom()
	if !p.at(token.Pipe) {
		return first
	}
	alts := []ast.Pattern{first}
	for p.at(token.Pipe) {
		p.advance()
		alts = append(alts, p.parsePatternAtom())
	}
	return &ast.OrPattern{SpanVal: span(st, p.cur().Span), Alternatives: alts}
}

func (p *Parser) parsePatternAtom() ast.Pattern {
	st := p.cur().Span
	switch p.cur().Kind {
	case token.Ident:
		if p.cur().Lexeme == "_" {
			p.advance()
			return &ast.WildcardPattern{SpanVal: span(st, p.cur().Span)}
		}
		return p.parseIdentLedPattern(st)
	case token.Int, token.Float, token.String, token.Bool, token.Null, token.Bytes:
		lit := p.parsePrimary()
		return &ast.LiteralPattern{SpanVal: span(st, p.cur().Span), Value: lit}
	case token.Minus:
		// negative numeric literal pattern, e.g. `-1 -> ...`
		lit := p.parseUnary()
		return &ast.LiteralPattern{SpanVal: span(st, p.cur().Span), Value: lit}
	case token.LParen:
		return p.parseTuplePattern(st)
	case token.LBracket:
		return p.parseListPattern(st)
	}
	p.errorf("expected a pattern, found %s", p.cur())
	p.advance()
	return &ast.WildcardPattern{SpanVal: span(st, p.cur().Span)}
}

// parseIdentLedPattern disambiguates a bare binding (`x`), a typed
// binding (`x: T`), a record pattern (`Point{x, y}`), and a variant
// pattern (`Some(x)`, `Color.Red`, `Shape.Circle{radius}`).
func (p *Parser) parseIdentLedPattern(st token.Span) ast.Pattern {
	name := p.advance().Lexeme

	if p.at(token.Colon) {
		p.advance()
		typ := p.parseType()
		return &ast.TypedPattern{SpanVal: span(st, p.cur().Span), Name: name, Type: typ}
	}

	enumName := ""
	variantName := name
	if p.at(token.Dot) {
		p.advance()
		enumName = name
		variantName = p.parseIdentName()
	}

	switch {
	case p.at(token.LParen):
		p.advance()
		var positional []ast.Pattern
		for !p.at(token.RParen) && !p.at(token.EOF) {
			positional = append(positional, p.parseOrPattern())
			if p.at(token.Comma) {
				p.advance()
			}
		}
		p.expect(token.RParen)
		return &ast.VariantPattern{SpanVal: span(st, p.cur().Span), EnumName: enumName, VariantName: variantName, Positional: positional}
	case p.at(token.LBrace):
		p.advance()
		var fields []ast.FieldPattern
		for !p.at(token.RBrace) && !p.at(token.EOF) {
			fname := p.parseIdentName()
			var fpat ast.Pattern
			if p.at(token.Colon) {
				p.advance()
				fpat = p.parseOrPattern()
			} else {
				fpat = &ast.IdentPattern{SpanVal: span(st, p.cur().Span), Name: fname}
			}
			fields = append(fields, ast.FieldPattern{Name: fname, Pattern: fpat})
			if p.at(token.Comma) {
				p.advance()
			}
		}
		p.expect(token.RBrace)
		if enumName != "" {
			return &ast.VariantPattern{SpanVal: span(st, p.cur().Span), EnumName: enumName, VariantName: variantName, Named: fields}
		}
		return &ast.RecordPattern{SpanVal: span(st, p.cur().Span), TypeName: variantName, Fields: fields}
	}

	if enumName != "" {
		return &ast.VariantPattern{SpanVal: span(st, p.cur().Span), EnumName: enumName, VariantName: variantName}
	}
	return &ast.IdentPattern{SpanVal: span(st, p.cur().Span), Name: name}
}

func (p *Parser) parseTuplePattern(st token.Span) ast.Pattern {
	p.advance() // (
	if p.at(token.RParen) {
		p.advance()
		return &ast.TuplePattern{SpanVal: span(st, p.cur().Span)}
	}
	elems := []ast.Pattern{p.parseOrPattern()}
	for p.at(token.Comma) {
		p.advance()
		if p.at(token.RParen) {
			break
		}
		elems = append(elems, p.parseOrPattern())
	}
	p.expect(token.RParen)
	if len(elems) == 1 {
		return elems[0]
	}
	return &ast.TuplePattern{SpanVal: span(st, p.cur().Span), Elems: elems}
}

func (p *Parser) parseListPattern(st token.Span) ast.Pattern {
	p.advance() // [
	lp := &ast.ListPattern{}
	for !p.at(token.RBracket) && !p.at(token.EOF) {
		if p.at(token.Ellipsis) {
			p.advance()
			lp.HasRest = true
			if p.at(token.Ident) {
				lp.Rest = p.parseIdentName()
			}
		} else {
			lp.Elems = append(lp.Elems, p.parseOrPattern())
		}
		if p.at(token.Comma) {
			p.advance()
		}
	}
	p.expect(token.RBracket)
	lp.SpanVal = span(st, p.cur().Span)
	return lp
}
