// Package diag defines compiler diagnostics: source-anchored errors and
// warnings collected across the lex/parse/resolve/check passes, per
// spec.md §7.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ternarybob/lumen/pkg/lumen/token"
)

// Severity classifies a diagnostic's impact on compilation success.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Code identifies the diagnostic's category, stable across releases.
type Code string

const (
	CodeUnterminatedFence   Code = "E0001"
	CodeLexError            Code = "E0100"
	CodeParseError          Code = "E0200"
	CodeUnresolvedSymbol    Code = "E0300"
	CodeDuplicateDefinition Code = "E0301"
	CodeImportCycle         Code = "E0302"
	CodeImportNotFound      Code = "E0303"
	CodePrivateAccess       Code = "E0304"
	CodeUndeclaredEffect    Code = "E0305"
	CodeDeterministicViolation Code = "E0306"
	CodeTypeMismatch        Code = "E0400"
	CodeIncompleteMatch     Code = "E0401"
	CodeUnknownField        Code = "E0402"
	CodeGenericInstantiation Code = "E0403"
	CodeNotImplemented      Code = "E0500"
	CodeInternal            Code = "E0600"
)

// Diagnostic is a single compiler-reported finding.
type Diagnostic struct {
	Severity Severity
	Code     Code
	Span     token.Span
	Message  string
	Hints    []string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s [%s] %s", d.Span, d.Severity, d.Code, d.Message)
	for _, h := range d.Hints {
		fmt.Fprintf(&b, "\n  hint: %s", h)
	}
	return b.String()
}

// Bag accumulates diagnostics across a compilation unit. Passes keep
// running after recoverable errors so multiple findings surface together.
type Bag struct {
	items []Diagnostic
}

// Add appends a diagnostic.
func (b *Bag) Add(d Diagnostic) {
	b.items = append(b.items, d)
}

// Errorf appends an error-severity diagnostic.
func (b *Bag) Errorf(span token.Span, code Code, format string, args ...any) {
	b.Add(Diagnostic{Severity: SeverityError, Code: code, Span: span, Message: fmt.Sprintf(format, args...)})
}

// Warnf appends a warning-severity diagnostic.
func (b *Bag) Warnf(span token.Span, code Code, format string, args ...any) {
	b.Add(Diagnostic{Severity: SeverityWarning, Code: code, Span: span, Message: fmt.Sprintf(format, args...)})
}

// HasErrors reports whether any diagnostic has error severity.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// All returns every diagnostic collected so far, in insertion order.
func (b *Bag) All() []Diagnostic {
	return b.items
}

// Suggest appends a "did you mean" hint to the most recently added
// diagnostic, computed via Levenshtein distance over candidates.
func (b *Bag) Suggest(name string, candidates []string) {
	if len(b.items) == 0 {
		return
	}
	if best, ok := closest(name, candidates); ok {
		last := &b.items[len(b.items)-1]
		last.Hints = append(last.Hints, fmt.Sprintf("did you mean %q?", best))
	}
}

// closest returns the candidate with the smallest Levenshtein distance
// to name, provided the distance is small enough to be a plausible typo.
func closest(name string, candidates []string) (string, bool) {
	type scored struct {
		name string
		dist int
	}
	var scores []scored
	for _, c := range candidates {
		scores = append(scores, scored{c, Levenshtein(name, c)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	if len(scores) == 0 {
		return "", false
	}
	threshold := len(name)/2 + 1
	if scores[0].dist > threshold {
		return "", false
	}
	return scores[0].name, true
}

// Levenshtein computes the edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
