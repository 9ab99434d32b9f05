// Package parser implements the Lumen recursive-descent parser, per
// spec.md §4.3. Indentation tokens terminate most statement-level
// constructs; `end` terminates block constructs.
package parser

import (
	"strconv"
	"strings"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/diag"
	"github.com/ternarybob/lumen/pkg/lumen/lexer"
	"github.com/ternarybob/lumen/pkg/lumen/token"
)

// Parser consumes a token stream and produces an AST, recovering from
// syntax errors at statement boundaries so multiple diagnostics can
// surface from a single pass (spec.md §4.3).
type Parser struct {
	toks []token.Token
	pos  int
	errs *diag.Bag
	path string
}

// Parse tokenizes src (already markdown-extracted) and parses it into a
// *ast.File. Errors are collected into errs; Parse always returns a best
// effort AST, even in the presence of syntax errors.
func Parse(path, src string, errs *diag.Bag) *ast.File {
	toks := lexer.Tokenize(src, errs)
	p := &Parser{toks: toks, errs: errs, path: path}
	return p.parseFile()
}

func (p *Parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) at(k token.Kind) bool { return p.cur().Kind == k }

func (p *Parser) peekN(n int) token.Token {
	if p.pos+n >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos+n]
}

func (p *Parser) advance() token.Token {
	t := p.cur()
	if p.pos < len(p.toks)-1 || t.Kind != token.EOF {
		p.pos++
	}
	return t
}

// skipNewlines consumes any run of Newline tokens (blank statement
// separators carry no meaning between declarations/statements).
func (p *Parser) skipNewlines() {
	for p.at(token.Newline) {
		p.advance()
	}
}

func (p *Parser) expect(k token.Kind) token.Token {
	if p.at(k) {
		return p.advance()
	}
	p.errorf("expected %s, found %s", k, p.cur())
	return p.cur()
}

func (p *Parser) errorf(format string, args ...any) {
	p.errs.Errorf(p.cur().Span, diag.CodeParseError, format, args...)
}

// recover skips tokens until the next statement boundary: a Newline at
// the current nesting, or a matching `end`, so later passes still see a
// usable partial AST (spec.md §4.3).
func (p *Parser) recover() {
	depth := 0
	for {
		switch p.cur().Kind {
		case token.EOF:
			return
		case token.End:
			if depth == 0 {
				return
			}
			depth--
		case token.Cell, token.Record, token.Enum, token.Process, token.If,
			token.For, token.While, token.Loop, token.Match:
			depth++
		case token.Newline:
			if depth == 0 {
				p.advance()
				return
			}
		}
		p.advance()
	}
}

func (p *Parser) parseFile() *ast.File {
	f := &ast.File{Path: p.path, Strict: true}
	p.skipNewlines()
	for p.at(token.At) && isDirectiveLexeme(p.cur().Lexeme) {
		p.parseDirective(f)
		p.skipNewlines()
	}
	for !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.EOF) {
			break
		}
		item := p.parseItem()
		if item != nil {
			f.Items = append(f.Items, item)
		}
		p.skipNewlines()
	}
	return f
}

func isDirectiveLexeme(s string) bool {
	switch s {
	case "strict", "deterministic", "doc_mode", "version":
		return true
	}
	return false
}

func (p *Parser) parseDirective(f *ast.File) {
	name := p.advance().Lexeme // consumes "@name"
	var val string
	if p.at(token.String) {
		val = p.advance().Lexeme
	} else if p.at(token.Bool) {
		val = p.advance().Lexeme
	} else if p.at(token.Ident) {
		val = p.advance().Lexeme
	}
	switch name {
	case "strict":
		f.Strict = val != "false"
	case "deterministic":
		f.Deterministic = val == "true"
	case "doc_mode":
		f.DocMode = val == "true"
	case "version":
		f.Version = strings.Trim(val, `"`)
	}
}

func (p *Parser) parseItem() ast.Item {
	pub := false
	if p.at(token.Pub) {
		pub = true
		p.advance()
	}
	start := p.cur().Span
	switch p.cur().Kind {
	case token.Cell:
		return p.parseCellDecl(pub, start)
	case token.Record:
		return p.parseRecordDecl(pub, start)
	case token.Enum:
		return p.parseEnumDecl(pub, start)
	case token.Effect:
		return p.parseEffectDecl(start)
	case token.Trait:
		return p.parseTraitDecl(pub, start)
	case token.Impl:
		return p.parseImplDecl(start)
	case token.Type:
		return p.parseTypeAliasDecl(pub, start)
	case token.Const:
		return p.parseConstDecl(pub, start)
	case token.Import:
		return p.parseImportDecl(start)
	case token.Macro:
		return p.parseMacroDecl(start)
	case token.Process:
		return p.parseProcessDecl(pub, start, "")
	case token.Ident:
		switch p.cur().Lexeme {
		case "memory", "machine", "pipeline":
			kind := p.advance().Lexeme
			return p.parseProcessDecl(pub, start, kind)
		case "use":
			return p.parseToolUseDecl(start)
		case "grant":
			return p.parseGrantDecl(start)
		case "bind":
			return p.parseBindEffectDecl(start)
		}
	case token.Use:
		return p.parseToolUseDecl(start)
	case token.Grant:
		return p.parseGrantDecl(start)
	case token.Bind:
		return p.parseBindEffectDecl(start)
	case token.Handler:
		return p.parseHandlerDecl(start)
	}
	p.errorf("unexpected token %s at top level", p.cur())
	p.recover()
	return nil
}

func span(from, to token.Span) token.Span {
	return token.Span{Start: from.Start, End: to.End, From: from.From, To: to.To}
}

func (p *Parser) parseIdentName() string {
	t := p.expect(token.Ident)
	return t.Lexeme
}

// --- directives / imports / tool & grant decls -----------------------------

func (p *Parser) parseImportDecl(start token.Span) ast.Item {
	p.advance() // import
	var pathParts []string
	pathParts = append(pathParts, p.parseIdentName())
	for p.at(token.Dot) {
		p.advance()
		pathParts = append(pathParts, p.parseIdentName())
	}
	d := &ast.ImportDecl{Path: strings.Join(pathParts, "/")}
	if p.at(token.Colon) {
		p.advance()
		d.Names = append(d.Names, p.parseIdentName())
		for p.at(token.Comma) {
			p.advance()
			d.Names = append(d.Names, p.parseIdentName())
		}
	}
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseToolUseDecl(start token.Span) ast.Item {
	p.advance() // use
	p.expect(token.Tool)
	var pathParts []string
	pathParts = append(pathParts, p.parseIdentName())
	for p.at(token.Dot) {
		p.advance()
		pathParts = append(pathParts, p.parseIdentName())
	}
	d := &ast.ToolUseDecl{Path: strings.Join(pathParts, ".")}
	if p.at(token.As) {
		p.advance()
		d.Alias = p.parseIdentName()
	} else {
		d.Alias = pathParts[len(pathParts)-1]
	}
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseGrantDecl(start token.Span) ast.Item {
	p.advance() // grant
	alias := p.parseIdentName()
	constraint := p.parseIdentName()
	value := p.parseExpr()
	return &ast.GrantDecl{SpanVal: span(start, p.cur().Span), Alias: alias, Constraint: constraint, Value: value}
}

func (p *Parser) parseBindEffectDecl(start token.Span) ast.Item {
	p.advance() // bind
	p.expect(token.Effect)
	effect := p.parseIdentName()
	p.expect(token.To)
	alias := p.parseIdentName()
	return &ast.BindEffectDecl{SpanVal: span(start, p.cur().Span), Effect: effect, Alias: alias}
}

// --- type declarations ------------------------------------------------------

func (p *Parser) parseTypeParams() []*ast.TypeParam {
	if !p.at(token.LBracket) {
		return nil
	}
	p.advance()
	var out []*ast.TypeParam
	for !p.at(token.RBracket) && !p.at(token.EOF) {
		st := p.cur().Span
		name := p.parseIdentName()
		tp := &ast.TypeParam{Name: name}
		if p.at(token.Colon) {
			p.advance()
			tp.Bound = p.parseType()
		}
		tp.SpanVal = span(st, p.cur().Span)
		out = append(out, tp)
		if p.at(token.Comma) {
			p.advance()
		}
	}
	p.expect(token.RBracket)
	return out
}

func (p *Parser) parseRecordDecl(pub bool, start token.Span) ast.Item {
	p.advance() // record
	name := p.parseIdentName()
	tparams := p.parseTypeParams()
	d := &ast.RecordDecl{Pub: pub, Name: name, TypeParams: tparams}
	p.skipNewlines()
	if p.at(token.Indent) {
		p.advance()
	}
	for !p.at(token.End) && !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.End) || p.at(token.EOF) {
			break
		}
		d.Fields = append(d.Fields, p.parseField())
		p.skipNewlines()
	}
	if p.at(token.Dedent) {
		p.advance()
	}
	p.expect(token.End)
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseField() *ast.Field {
	st := p.cur().Span
	name := p.parseIdentName()
	p.expect(token.Colon)
	typ := p.parseType()
	f := &ast.Field{Name: name, Type: typ}
	if p.at(token.Assign) {
		p.advance()
		f.Default = p.parseExpr()
	}
	if p.at(token.Where) {
		p.advance()
		f.Where = p.parseExpr()
	}
	f.SpanVal = span(st, p.cur().Span)
	return f
}

func (p *Parser) parseEnumDecl(pub bool, start token.Span) ast.Item {
	p.advance() // enum
	name := p.parseIdentName()
	tparams := p.parseTypeParams()
	d := &ast.EnumDecl{Pub: pub, Name: name, TypeParams: tparams}
	p.skipNewlines()
	if p.at(token.Indent) {
		p.advance()
	}
	for !p.at(token.End) && !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.End) || p.at(token.EOF) {
			break
		}
		vst := p.cur().Span
		vname := p.parseIdentName()
		v := &ast.EnumVariant{Name: vname}
		if p.at(token.LParen) {
			p.advance()
			for !p.at(token.RParen) && !p.at(token.EOF) {
				fst := p.cur().Span
				fname := ""
				if p.at(token.Ident) && p.peekN(1).Kind == token.Colon {
					fname = p.advance().Lexeme
					p.advance() // colon
				}
				ftyp := p.parseType()
				v.Fields = append(v.Fields, &ast.Field{SpanVal: span(fst, p.cur().Span), Name: fname, Type: ftyp})
				if p.at(token.Comma) {
					p.advance()
				}
			}
			p.expect(token.RParen)
		}
		v.SpanVal = span(vst, p.cur().Span)
		d.Variants = append(d.Variants, v)
		p.skipNewlines()
	}
	if p.at(token.Dedent) {
		p.advance()
	}
	p.expect(token.End)
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseEffectDecl(start token.Span) ast.Item {
	p.advance() // effect
	name := p.parseIdentName()
	return &ast.EffectDecl{SpanVal: span(start, p.cur().Span), Name: name}
}

func (p *Parser) parseHandlerDecl(start token.Span) ast.Item {
	p.advance() // handler
	name := ""
	if p.at(token.Ident) {
		name = p.advance().Lexeme
	}
	body := p.parseBlockUntilEnd()
	return &ast.HandlerDecl{SpanVal: span(start, p.cur().Span), Name: name, Body: body}
}

func (p *Parser) parseTraitDecl(pub bool, start token.Span) ast.Item {
	p.advance() // trait
	name := p.parseIdentName()
	d := &ast.TraitDecl{Pub: pub, Name: name}
	p.skipNewlines()
	if p.at(token.Indent) {
		p.advance()
	}
	for !p.at(token.End) && !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.End) || p.at(token.EOF) {
			break
		}
		if p.at(token.Cell) {
			p.advance()
			sigStart := p.cur().Span
			sname := p.parseIdentName()
			params := p.parseParams()
			var ret ast.TypeExpr
			if p.at(token.Arrow) {
				p.advance()
				ret = p.parseType()
			}
			eff := p.tryParseEffectRow()
			d.Methods = append(d.Methods, &ast.CellSig{SpanVal: span(sigStart, p.cur().Span), Name: sname, Params: params, Return: ret, Effects: eff})
		}
		p.skipNewlines()
	}
	if p.at(token.Dedent) {
		p.advance()
	}
	p.expect(token.End)
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseImplDecl(start token.Span) ast.Item {
	p.advance() // impl
	trait := p.parseIdentName()
	p.expect(token.For)
	typ := p.parseType()
	d := &ast.ImplDecl{Trait: trait, Type: typ}
	p.skipNewlines()
	if p.at(token.Indent) {
		p.advance()
	}
	for !p.at(token.End) && !p.at(token.EOF) {
		p.skipNewlines()
		if p.at(token.End) || p.at(token.EOF) {
			break
		}
		if cd, ok := p.parseItem().(*ast.CellDecl); ok {
			d.Cells = append(d.Cells, cd)
		}
		p.skipNewlines()
	}
	if p.at(token.Dedent) {
		p.advance()
	}
	p.expect(token.End)
	d.SpanVal = span(start, p.cur().Span)
	return d
}

func (p *Parser) parseTypeAliasDecl(pub bool, start token.Span) ast.Item {
	p.advance() // type
	name := p.parseIdentName()
	tparams := p.parseTypeParams()
	p.expect(token.Assign)
	under := p.parseType()
	return &ast.TypeAliasDecl{SpanVal: span(start, p.cur().Span), Pub: pub, Name: name, TypeParams: tparams, Underlying: under}
}

func (p *Parser) parseConstDecl(pub bool, start token.Span) ast.Item {
	p.advance() // const
	name := p.parseIdentName()
	var typ ast.TypeExpr
	if p.at(token.Colon) {
		p.advance()
		typ = p.parseType()
	}
	p.expect(token.Assign)
	val := p.parseExpr()
	return &ast.ConstDecl{SpanVal: span(start, p.cur().Span), Pub: pub, Name: name, Type: typ, Value: val}
}

func (p *Parser) parseMacroDecl(start token.Span) ast.Item {
	p.advance() // macro
	name := p.parseIdentName()
	params := p.parseParams()
	body := p.parseBlockUntilEnd()
	return &ast.MacroDecl{SpanVal: span(start, p.cur().Span), Name: name, Params: params, Body: body}
}

func (p *Parser) parseProcessDecl(pub bool, start token.Span, kind string) ast.Item {
	if kind == "" {
		p.advance() // `process` keyword form: process memory Name
		kind = p.parseIdentName()
	}
	name := p.parseIdentName()
	tparams := p.parseTypeParams()
	d := &ast.ProcessDecl{Pub: pub, Kind: ast.ProcessKind(kind), Name: name, TypeParams: tparams}
	if p.at(token.LBracket) {
		// memory[T]: element type already parsed as a type param; also
		// accept `memory Name of T` style via explicit "of" ident.
	}
	if p.at(token.Ident) && p.cur().Lexeme == "of" {
		p.advance()
		d.ItemType = p.parseType()
	}
	p.skipNewlines()
	if p.at(token.Indent) {
		p.advance()
		for !p.at(token.Dedent) && !p.at(token.End) && !p.at(token.EOF) {
			p.skipNewlines()
			if p.at(token.Dedent) || p.at(token.End) || p.at(token.EOF) {
				break
			}
			if p.at(token.Ident) && p.cur().Lexeme == "state" {
				p.advance()
				sst := p.cur().Span
				sname := p.parseIdentName()
				params := p.parseParams()
				d.States = append(d.States, &ast.ProcessState{SpanVal: span(sst, p.cur().Span), Name: sname, Params: params})
				if d.Initial == "" {
					d.Initial = sname
				}
			} else {
				p.recover()
			}
			p.skipNewlines()
		}
		if p.at(token.Dedent) {
			p.advance()
		}
	}
	if p.at(token.End) {
		p.advance()
	}
	d.SpanVal = span(start, p.cur().Span)
	return d
}

// --- cell declaration --------------------------------------------------------

func (p *Parser) parseCellDecl(pub bool, start token.Span) ast.Item {
	p.advance() // cell
	name := p.parseIdentName()
	tparams := p.parseTypeParams()
	params := p.parseParams()
	var ret ast.TypeExpr
	if p.at(token.Arrow) {
		p.advance()
		ret = p.parseType()
	}
	eff := p.tryParseEffectRow()
	body := p.parseBlockUntilEnd()
	return &ast.CellDecl{SpanVal: span(start, p.cur().Span), Pub: pub, Name: name, TypeParams: tparams, Params: params, Return: ret, Effects: eff, Body: body}
}

func (p *Parser) parseParams() []*ast.Param {
	p.expect(token.LParen)
	var out []*ast.Param
	for !p.at(token.RParen) && !p.at(token.EOF) {
		st := p.cur().Span
		variadic := false
		if p.at(token.Ellipsis) {
			variadic = true
			p.advance()
		}
		name := p.parseIdentName()
		var typ ast.TypeExpr
		if p.at(token.Colon) {
			p.advance()
			typ = p.parseType()
		}
		var def ast.Expr
		if p.at(token.Assign) {
			p.advance()
			def = p.parseExpr()
		}
		out = append(out, &ast.Param{SpanVal: span(st, p.cur().Span), Name: name, Type: typ, Default: def, Variadic: variadic})
		if p.at(token.Comma) {
			p.advance()
		}
	}
	p.expect(token.RParen)
	return out
}

// tryParseEffectRow parses the optional `/ {e1, e2}` trailing a signature.
func (p *Parser) tryParseEffectRow() *ast.EffectRow {
	if !p.at(token.Slash) {
		return &ast.EffectRow{Declared: false}
	}
	st := p.cur().Span
	p.advance()
	p.expect(token.LBrace)
	row := &ast.EffectRow{Declared: true}
	for !p.at(token.RBrace) && !p.at(token.EOF) {
		row.Names = append(row.Names, p.parseIdentName())
		if p.at(token.Comma) {
			p.advance()
		}
	}
	p.expect(token.RBrace)
	row.SpanVal = span(st, p.cur().Span)
	return row
}

// parseBlockUntilEnd parses an indented statement block and the closing
// `end` keyword, used by block-bodied declarations.
func (p *Parser) parseBlockUntilEnd() *ast.Block {
	st := p.cur().Span
	p.skipNewlines()
	b := &ast.Block{}
	if p.at(token.Indent) {
		p.advance()
		for !p.at(token.Dedent) && !p.at(token.EOF) {
			p.skipNewlines()
			if p.at(token.Dedent) || p.at(token.EOF) {
				break
			}
			b.Stmts = append(b.Stmts, p.parseStmt())
			p.skipNewlines()
		}
		if p.at(token.Dedent) {
			p.advance()
		}
	}
	p.skipNewlines()
	p.expect(token.End)
	b.SpanVal = span(st, p.cur().Span)
	return b
}

// parseIndentedBlock parses an indented statement block terminated by
// Dedent (no trailing `end`), used for if/for/while/loop bodies.
func (p *Parser) parseIndentedBlock() *ast.Block {
	st := p.cur().Span
	p.skipNewlines()
	b := &ast.Block{}
	if p.at(token.Indent) {
		p.advance()
		for !p.at(token.Dedent) && !p.at(token.EOF) {
			p.skipNewlines()
			if p.at(token.Dedent) || p.at(token.EOF) {
				break
			}
			b.Stmts = append(b.Stmts, p.parseStmt())
			p.skipNewlines()
		}
		if p.at(token.Dedent) {
			p.advance()
		}
	}
	b.SpanVal = span(st, p.cur().Span)
	return b
}

func parseIntLiteral(lexeme string) int64 {
	clean := strings.ReplaceAll(lexeme, "_", "")
	base := 10
	switch {
	case strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X"):
		base = 16
		clean = clean[2:]
	case strings.HasPrefix(clean, "0b") || strings.HasPrefix(clean, "0B"):
		base = 2
		clean = clean[2:]
	case strings.HasPrefix(clean, "0o") || strings.HasPrefix(clean, "0O"):
		base = 8
		clean = clean[2:]
	}
	v, _ := strconv.ParseInt(clean, base, 64)
	return v
}

func parseFloatLiteral(lexeme string) float64 {
	clean := strings.ReplaceAll(lexeme, "_", "")
	v, _ := strconv.ParseFloat(clean, 64)
	return v
}
