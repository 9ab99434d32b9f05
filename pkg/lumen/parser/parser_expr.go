package parser

import (
	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/lexer"
	"github.com/ternarybob/lumen/pkg/lumen/token"
)

// parseExpr and parseExprNoFilter are identical: the `if` filter clause of
// a `for` loop is parsed by the caller *after* the iterable expression, and
// since `if` only introduces expressions in prefix position there is no
// ambiguity to guard against (spec.md §4.3, the "discarded filter" bug to
// avoid per spec.md §9).
func (p *Parser) parseExpr() ast.Expr         { return p.parsePipe() }
func (p *Parser) parseExprNoFilter() ast.Expr { return p.parsePipe() }

func (p *Parser) parsePipe() ast.Expr {
	x := p.parseCompose()
	for p.at(token.PipeGt) {
		st := x.Span()
		p.advance()
		callee := p.parseCompose()
		call, ok := callee.(*ast.CallExpr)
		if !ok {
			call = &ast.CallExpr{SpanVal: callee.Span(), Callee: callee}
		}
		args := append([]ast.RecordArg{{Value: x}}, call.Args...)
		sp := span(st, p.cur().Span)
		x = &ast.PipeExpr{SpanVal: sp, X: x, Call: &ast.CallExpr{SpanVal: sp, Callee: call.Callee, Args: args}}
	}
	return x
}

func (p *Parser) parseCompose() ast.Expr {
	x := p.parseNullCoalesce()
	for p.at(token.TildeGt) {
		st := x.Span()
		p.advance()
		y := p.parseNullCoalesce()
		x = &ast.ComposeExpr{SpanVal: span(st, p.cur().Span), F: x, G: y}
	}
	return x
}

func (p *Parser) parseNullCoalesce() ast.Expr {
	x := p.parseLogicalOr()
	for p.at(token.QQ) {
		st := x.Span()
		p.advance()
		y := p.parseLogicalOr()
		x = &ast.NullCoalesceExpr{SpanVal: span(st, p.cur().Span), X: x, Default: y}
	}
	return x
}

func (p *Parser) parseLogicalOr() ast.Expr {
	x := p.parseLogicalAnd()
	for p.at(token.Or) {
		st := x.Span()
		p.advance()
		y := p.parseLogicalAnd()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinOr, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseLogicalAnd() ast.Expr {
	x := p.parseCompare()
	for p.at(token.And) {
		st := x.Span()
		p.advance()
		y := p.parseCompare()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinAnd, X: x, Y: y}
	}
	return x
}

// parseCompare handles equality/relational/in/is/as, all non-associative
// at this precedence level but chainable left-to-right as binary ops.
func (p *Parser) parseCompare() ast.Expr {
	x := p.parseBitOr()
	for {
		st := x.Span()
		switch p.cur().Kind {
		case token.Eq:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinEq, X: x, Y: p.parseBitOr()}
		case token.Neq:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinNeq, X: x, Y: p.parseBitOr()}
		case token.Lt:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinLt, X: x, Y: p.parseBitOr()}
		case token.Le:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinLe, X: x, Y: p.parseBitOr()}
		case token.Gt:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinGt, X: x, Y: p.parseBitOr()}
		case token.Ge:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinGe, X: x, Y: p.parseBitOr()}
		case token.In:
			p.advance()
			x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinIn, X: x, Y: p.parseBitOr()}
		case token.Is:
			p.advance()
			x = &ast.IsExpr{SpanVal: span(st, p.cur().Span), X: x, Type: p.parseType()}
		case token.As:
			p.advance()
			x = &ast.CastExpr{SpanVal: span(st, p.cur().Span), X: x, Type: p.parseType()}
		default:
			return x
		}
	}
}

func (p *Parser) parseBitOr() ast.Expr {
	x := p.parseConcat()
	for p.at(token.Pipe) {
		st := x.Span()
		p.advance()
		y := p.parseConcat()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinBitOr, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseConcat() ast.Expr {
	x := p.parseRange()
	for p.at(token.PlusPlus) {
		st := x.Span()
		p.advance()
		y := p.parseRange()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinConcat, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseRange() ast.Expr {
	x := p.parseAdditive()
	if p.at(token.DotDot) || p.at(token.DotDotEq) {
		st := x.Span()
		inclusive := p.at(token.DotDotEq)
		p.advance()
		y := p.parseAdditive()
		return &ast.RangeExpr{SpanVal: span(st, p.cur().Span), From: x, To: y, Inclusive: inclusive}
	}
	return x
}

func (p *Parser) parseAdditive() ast.Expr {
	x := p.parseMultiplicative()
	for p.at(token.Plus) || p.at(token.Minus) {
		st := x.Span()
		op := ast.BinAdd
		if p.at(token.Minus) {
			op = ast.BinSub
		}
		p.advance()
		y := p.parseMultiplicative()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: op, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseMultiplicative() ast.Expr {
	x := p.parsePower()
	for {
		var op ast.BinaryOp
		switch p.cur().Kind {
		case token.Star:
			op = ast.BinMul
		case token.Slash:
			op = ast.BinDiv
		case token.SlashSlash:
			op = ast.BinFloorDiv
		case token.Percent:
			op = ast.BinMod
		case token.Amp:
			op = ast.BinBitAnd
		case token.Caret:
			op = ast.BinBitXor
		default:
			return x
		}
		st := x.Span()
		p.advance()
		y := p.parsePower()
		x = &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: op, X: x, Y: y}
	}
}

// parsePower is right-associative, sitting between multiplicative and unary.
func (p *Parser) parsePower() ast.Expr {
	x := p.parseUnary()
	if p.at(token.StarStar) {
		st := x.Span()
		p.advance()
		y := p.parsePower()
		return &ast.BinaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.BinPow, X: x, Y: y}
	}
	return x
}

func (p *Parser) parseUnary() ast.Expr {
	st := p.cur().Span
	switch p.cur().Kind {
	case token.Minus:
		p.advance()
		return &ast.UnaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.UnaryNeg, X: p.parseUnary()}
	case token.Not:
		p.advance()
		return &ast.UnaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.UnaryNot, X: p.parseUnary()}
	case token.Tilde:
		p.advance()
		return &ast.UnaryExpr{SpanVal: span(st, p.cur().Span), Op: ast.UnaryBitNot, X: p.parseUnary()}
	case token.Spawn:
		p.advance()
		call := p.parseUnary()
		return &ast.SpawnExpr{SpanVal: span(st, p.cur().Span), Call: call}
	case token.Await:
		p.advance()
		x := p.parseUnary()
		return &ast.AwaitExpr{SpanVal: span(st, p.cur().Span), X: x}
	case token.If:
		return p.parseIfExpr(st)
	case token.Match:
		return p.parseMatchExpr(st)
	}
	return p.parsePostfix()
}

func (p *Parser) parseIfExpr(st token.Span) ast.Expr {
	p.advance() // if
	cond := p.parseExpr()
	p.expect(token.Then)
	then := p.parseExpr()
	p.expect(token.Else)
	els := p.parseExpr()
	return &ast.IfExpr{SpanVal: span(st, p.cur().Span), Cond: cond, Then: then, Else: els}
}

func (p *Parser) parseMatchExpr(st token.Span) ast.Expr {
	p.advance() // match
	subject := p.parseExprNoFilter()
	p.skipNewlines()
	arms := p.parseMatchArms()
	if p.at(token.End) {
		p.advance()
	}
	return &ast.MatchExpr{SpanVal: span(st, p.cur().Span), Subject: subject, Arms: arms}
}

func (p *Parser) parsePostfix() ast.Expr {
	x := p.parsePrimary()
	for {
		st := x.Span()
		switch p.cur().Kind {
		case token.Dot:
			p.advance()
			name := p.parseIdentName()
			x = &ast.FieldExpr{SpanVal: span(st, p.cur().Span), X: x, Field: name}
		case token.QDot:
			p.advance()
			name := p.parseIdentName()
			x = &ast.FieldExpr{SpanVal: span(st, p.cur().Span), X: x, Field: name, Opt: true}
		case token.LBracket:
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBracket)
			x = &ast.IndexExpr{SpanVal: span(st, p.cur().Span), X: x, Index: idx}
		case token.QBracket:
			p.advance()
			idx := p.parseExpr()
			p.expect(token.RBracket)
			x = &ast.IndexExpr{SpanVal: span(st, p.cur().Span), X: x, Index: idx, Opt: true}
		case token.LParen:
			x = p.parseCallArgs(x, st)
		case token.Question:
			p.advance()
			x = &ast.TryExpr{SpanVal: span(st, p.cur().Span), X: x}
		case token.Bang:
			p.advance()
			x = &ast.NullAssertExpr{SpanVal: span(st, p.cur().Span), X: x}
		default:
			return x
		}
	}
}

func (p *Parser) parseCallArgs(callee ast.Expr, st token.Span) ast.Expr {
	p.advance() // (
	var args []ast.RecordArg
	for !p.at(token.RParen) && !p.at(token.EOF) {
		if p.at(token.Ellipsis) {
			p.advance() // spread args collapse into a single positional arg
		}
		name := ""
		if p.at(token.Ident) && p.peekN(1).Kind == token.Colon {
			name = p.advance().Lexeme
			p.advance()
		}
		val := p.parseExpr()
		args = append(args, ast.RecordArg{Name: name, Value: val})
		if p.at(token.Comma) {
			p.advance()
		}
	}
	p.expect(token.RParen)
	return &ast.CallExpr{SpanVal: span(st, p.cur().Span), Callee: callee, Args: args}
}

func (p *Parser) parsePrimary() ast.Expr {
	st := p.cur().Span
	switch p.cur().Kind {
	case token.Int:
		lit := p.advance().Lexeme
		return &ast.IntLit{SpanVal: span(st, p.cur().Span), Value: parseIntLiteral(lit)}
	case token.Float:
		lit := p.advance().Lexeme
		return &ast.FloatLit{SpanVal: span(st, p.cur().Span), Value: parseFloatLiteral(lit)}
	case token.Bool:
		lit := p.advance().Lexeme
		return &ast.BoolLit{SpanVal: span(st, p.cur().Span), Value: lit == "true"}
	case token.Null:
		p.advance()
		return &ast.NullLit{SpanVal: span(st, p.cur().Span)}
	case token.String:
		lit := p.advance().Lexeme
		return p.buildStringLit(st, lit, false)
	case token.Bytes:
		lit := p.advance().Lexeme
		return &ast.BytesLit{SpanVal: span(st, p.cur().Span), Value: decodeHexBytes(lit)}
	case token.LParen:
		p.advance()
		if p.at(token.RParen) {
			p.advance()
			return &ast.TupleExpr{SpanVal: span(st, p.cur().Span)}
		}
		first := p.parseExpr()
		if p.at(token.Comma) {
			elems := []ast.Expr{first}
			for p.at(token.Comma) {
				p.advance()
				if p.at(token.RParen) {
					break
				}
				elems = append(elems, p.parseExpr())
			}
			p.expect(token.RParen)
			return &ast.TupleExpr{SpanVal: span(st, p.cur().Span), Elems: elems}
		}
		p.expect(token.RParen)
		return first
	case token.LBracket:
		return p.parseListExpr(st)
	case token.LBrace:
		return p.parseMapOrSetExpr(st)
	case token.Ident:
		return p.parseIdentOrRecord(st)
	}
	p.errorf("unexpected token %s in expression", p.cur())
	p.advance()
	return &ast.Ident{SpanVal: span(st, p.cur().Span), Name: "<error>"}
}

// buildStringLit splits an interpolated string lexeme into literal and
// expression parts on balanced `{...}` boundaries, re-lexing each
// expression segment as a standalone fragment.
func (p *Parser) buildStringLit(st token.Span, lit string, raw bool) ast.Expr {
	s := &ast.StringLit{SpanVal: span(st, p.cur().Span), Raw: raw}
	i := 0
	var lastLiteral []byte
	for i < len(lit) {
		c := lit[i]
		if c == '{' {
			if len(lastLiteral) > 0 {
				s.Parts = append(s.Parts, ast.StringPart{Literal: string(lastLiteral)})
				lastLiteral = nil
			}
			depth := 1
			j := i + 1
			for j < len(lit) && depth > 0 {
				if lit[j] == '{' {
					depth++
				} else if lit[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
				j++
			}
			inner := lit[i+1 : j]
			s.Parts = append(s.Parts, ast.StringPart{Expr: parseExprString(inner, p.errs)})
			i = j + 1
			continue
		}
		lastLiteral = append(lastLiteral, c)
		i++
	}
	if len(lastLiteral) > 0 {
		s.Parts = append(s.Parts, ast.StringPart{Literal: string(lastLiteral)})
	}
	if len(s.Parts) == 0 {
		s.Parts = append(s.Parts, ast.StringPart{Literal: ""})
	}
	return s
}

// parseExprString re-enters the parser over a standalone expression
// fragment, used for string interpolation segments.
func parseExprString(src string, errs *diag.Bag) ast.Expr {
	toks := lexer.Tokenize(src, errs)
	sub := &Parser{toks: toks, errs: errs, path: "<interp>"}
	return sub.parseExpr()
}

func (p *Parser) parseListExpr(st token.Span) ast.Expr {
	p.advance() // [
	if p.at(token.RBracket) {
		p.advance()
		return &ast.ListExpr{SpanVal: span(st, p.cur().Span)}
	}
	first := p.parseExpr()
	if p.at(token.For) {
		return p.parseComprehension(st, first, token.RBracket)
	}
	elems := []ast.Expr{first}
	for p.at(token.Comma) {
		p.advance()
		if p.at(token.RBracket) {
			break
		}
		if p.at(token.Ellipsis) {
			p.advance()
		}
		elems = append(elems, p.parseExpr())
	}
	p.expect(token.RBracket)
	return &ast.ListExpr{SpanVal: span(st, p.cur().Span), Elems: elems}
}

func (p *Parser) parseComprehension(st token.Span, body ast.Expr, closer token.Kind) ast.Expr {
	p.advance() // for
	pat := p.parsePattern()
	p.expect(token.In)
	iter := p.parseExprNoFilter()
	var filter ast.Expr
	if p.at(token.If) {
		p.advance()
		filter = p.parseExpr()
	}
	p.expect(closer)
	return &ast.ForComprehension{SpanVal: span(st, p.cur().Span), Pattern: pat, Iter: iter, Filter: filter, Body: body}
}

func (p *Parser) parseMapOrSetExpr(st token.Span) ast.Expr {
	p.advance() // {
	if p.at(token.RBrace) {
		p.advance()
		return &ast.MapExpr{SpanVal: span(st, p.cur().Span)}
	}
	firstKey := p.parseExpr()
	if p.at(token.Colon) {
		p.advance()
		firstVal := p.parseExpr()
		entries := []ast.MapEntry{{Key: firstKey, Value: firstVal}}
		for p.at(token.Comma) {
			p.advance()
			if p.at(token.RBrace) {
				break
			}
			k := p.parseExpr()
			p.expect(token.Colon)
			v := p.parseExpr()
			entries = append(entries, ast.MapEntry{Key: k, Value: v})
		}
		p.expect(token.RBrace)
		return &ast.MapExpr{SpanVal: span(st, p.cur().Span), Entries: entries}
	}
	elems := []ast.Expr{firstKey}
	for p.at(token.Comma) {
		p.advance()
		if p.at(token.RBrace) {
			break
		}
		elems = append(elems, p.parseExpr())
	}
	p.expect(token.RBrace)
	return &ast.SetExpr{SpanVal: span(st, p.cur().Span), Elems: elems}
}

// parseIdentOrRecord parses a bare identifier, which may turn out (per
// spec.md §4.3) to be a record construction once disambiguated by the
// resolver/checker; here it is simply an Ident or, if immediately
// followed by `(`, a CallExpr/RecordExpr handled uniformly as CallExpr.
func (p *Parser) parseIdentOrRecord(st token.Span) ast.Expr {
	name := p.advance().Lexeme
	return &ast.Ident{SpanVal: span(st, p.cur().Span), Name: name}
}

// decodeHexBytes decodes a `b"..."` lexeme's lowercase hex-pair body
// (already validated and underscore-stripped by the lexer) into raw bytes.
func decodeHexBytes(lit string) []byte {
	out := make([]byte, 0, len(lit)/2)
	for i := 0; i+1 < len(lit); i += 2 {
		out = append(out, hexByte(lit[i])<<4|hexByte(lit[i+1]))
	}
	return out
}

func hexByte(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
