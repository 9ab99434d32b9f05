package parser

import (
	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/token"
)

func (p *Parser) parseStmt() ast.Stmt {
	start := p.cur().Span
	switch p.cur().Kind {
	case token.Let:
		return p.parseLetStmt(start)
	case token.Return:
		p.advance()
		var val ast.Expr
		if !p.at(token.Newline) && !p.at(token.Dedent) && !p.at(token.End) && !p.at(token.EOF) {
			val = p.parseExpr()
		}
		return &ast.ReturnStmt{SpanVal: span(start, p.cur().Span), Value: val}
	case token.If:
		return p.parseIfStmt(start)
	case token.For:
		return p.parseForStmt(start, "")
	case token.While:
		return p.parseWhileStmt(start, "")
	case token.Loop:
		return p.parseLoopStmt(start, "")
	case token.At:
		// labeled loop: `for @label`, `while @label`, `loop @label`
		label := p.advance().Lexeme
		switch p.cur().Kind {
		case token.For:
			return p.parseForStmt(start, label)
		case token.While:
			return p.parseWhileStmt(start, label)
		case token.Loop:
			return p.parseLoopStmt(start, label)
		}
		p.errorf("expected a loop after label @%s", label)
		p.recover()
		return &ast.ExprStmt{SpanVal: start}
	case token.Break:
		p.advance()
		label := ""
		if p.at(token.At) {
			label = p.advance().Lexeme
		}
		return &ast.BreakStmt{SpanVal: span(start, p.cur().Span), Label: label}
	case token.Continue:
		p.advance()
		label := ""
		if p.at(token.At) {
			label = p.advance().Lexeme
		}
		return &ast.ContinueStmt{SpanVal: span(start, p.cur().Span), Label: label}
	case token.Match:
		return p.parseMatchStmt(start)
	case token.Defer:
		p.advance()
		body := p.parseIndentedOrSingleBlock()
		return &ast.DeferStmt{SpanVal: span(start, p.cur().Span), Body: body}
	case token.Ident:
		if p.cur().Lexeme == "halt" && p.peekN(1).Kind == token.LParen {
			p.advance()
			p.advance()
			msg := p.parseExpr()
			p.expect(token.RParen)
			return &ast.HaltStmt{SpanVal: span(start, p.cur().Span), Message: msg}
		}
	}
	return p.parseSimpleStmt(start)
}

// parseIndentedOrSingleBlock allows `defer` to introduce either a single
// statement on the same line or an indented block.
func (p *Parser) parseIndentedOrSingleBlock() *ast.Block {
	if p.at(token.Newline) {
		return p.parseIndentedBlock()
	}
	st := p.cur().Span
	b := &ast.Block{SpanVal: st}
	b.Stmts = append(b.Stmts, p.parseStmt())
	b.SpanVal = span(st, p.cur().Span)
	return b
}

func (p *Parser) parseLetStmt(start token.Span) ast.Stmt {
	p.advance() // let
	pat := p.parsePattern()
	var typ ast.TypeExpr
	if p.at(token.Colon) {
		p.advance()
		typ = p.parseType()
	}
	p.expect(token.Assign)
	val := p.parseExpr()
	return &ast.LetStmt{SpanVal: span(start, p.cur().Span), Pattern: pat, Type: typ, Value: val}
}

func (p *Parser) parseIfStmt(start token.Span) ast.Stmt {
	p.advance() // if
	cond := p.parseExpr()
	then := p.parseIndentedBlock()
	st := &ast.IfStmt{SpanVal: span(start, p.cur().Span), Cond: cond, Then: then}
	if p.at(token.Else) {
		p.advance()
		if p.at(token.If) {
			elseStart := p.cur().Span
			nested := p.parseIfStmt(elseStart)
			st.Else = &ast.Block{SpanVal: nested.Span(), Stmts: []ast.Stmt{nested}}
		} else {
			st.Else = p.parseIndentedBlock()
		}
	}
	if p.at(token.End) {
		p.advance()
	}
	st.SpanVal = span(start, p.cur().Span)
	return st
}

func (p *Parser) parseForStmt(start token.Span, label string) ast.Stmt {
	p.advance() // for
	pat := p.parsePattern()
	p.expect(token.In)
	iter := p.parseExprNoFilter()
	var filter ast.Expr
	if p.at(token.If) {
		p.advance()
		filter = p.parseExpr()
	}
	body := p.parseIndentedBlock()
	if p.at(token.End) {
		p.advance()
	}
	return &ast.ForStmt{SpanVal: span(start, p.cur().Span), Label: label, Pattern: pat, Iter: iter, Filter: filter, Body: body}
}

func (p *Parser) parseWhileStmt(start token.Span, label string) ast.Stmt {
	p.advance() // while
	cond := p.parseExpr()
	body := p.parseIndentedBlock()
	if p.at(token.End) {
		p.advance()
	}
	return &ast.WhileStmt{SpanVal: span(start, p.cur().Span), Label: label, Cond: cond, Body: body}
}

func (p *Parser) parseLoopStmt(start token.Span, label string) ast.Stmt {
	p.advance() // loop
	body := p.parseIndentedBlock()
	if p.at(token.End) {
		p.advance()
	}
	return &ast.LoopStmt{SpanVal: span(start, p.cur().Span), Label: label, Body: body}
}

func (p *Parser) parseMatchArms() []*ast.MatchArm {
	var arms []*ast.MatchArm
	if p.at(token.Indent) {
		p.advance()
	}
	for !p.at(token.Dedent) && !p.at(token.End) && !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.Dedent) || p.at(token.End) || p.at(token.EOF) {
			break
		}
		ast_ := p.cur().Span
		pat := p.parseOrPattern()
		var guard ast.Expr
		if p.at(token.If) {
			p.advance()
			guard = p.parseExpr()
		}
		p.expect(token.Arrow)
		var body ast.Expr
		if p.at(token.Newline) {
			blk := p.parseIndentedBlock()
			body = &ast.BlockExpr{Block: blk}
		} else {
			body = p.parseExpr()
		}
		arms = append(arms, &ast.MatchArm{SpanVal: span(ast_, p.cur().Span), Pattern: pat, Guard: guard, Body: body})
		p.skipNewlines()
	}
	if p.at(token.Dedent) {
		p.advance()
	}
	return arms
}

func (p *Parser) parseMatchStmt(start token.Span) ast.Stmt {
	p.advance() // match
	subject := p.parseExprNoFilter()
	p.skipNewlines()
	arms := p.parseMatchArms()
	if p.at(token.End) {
		p.advance()
	}
	return &ast.MatchStmt{SpanVal: span(start, p.cur().Span), Subject: subject, Arms: arms}
}

func (p *Parser) parseSimpleStmt(start token.Span) ast.Stmt {
	e := p.parseExpr()
	op, isAssign := p.tryAssignOp()
	if isAssign {
		val := p.parseExpr()
		return &ast.AssignStmt{SpanVal: span(start, p.cur().Span), Target: e, Op: op, Value: val}
	}
	return &ast.ExprStmt{SpanVal: span(start, p.cur().Span), X: e}
}

func (p *Parser) tryAssignOp() (ast.AssignOp, bool) {
	switch p.cur().Kind {
	case token.Assign:
		p.advance()
		return ast.AssignSet, true
	case token.PlusAssign:
		p.advance()
		return ast.AssignAdd, true
	case token.MinusAssign:
		p.advance()
		return ast.AssignSub, true
	case token.StarAssign:
		p.advance()
		return ast.AssignMul, true
	case token.SlashAssign:
		p.advance()
		return ast.AssignDiv, true
	case token.SlashSlashAssign:
		p.advance()
		return ast.AssignFloorDiv, true
	case token.PercentAssign:
		p.advance()
		return ast.AssignMod, true
	case token.StarStarAssign:
		p.advance()
		return ast.AssignPow, true
	case token.AmpAssign:
		p.advance()
		return ast.AssignBitAnd, true
	case token.PipeAssign:
		p.advance()
		return ast.AssignBitOr, true
	case token.CaretAssign:
		p.advance()
		return ast.AssignBitXor, true
	}
	return 0, false
}
