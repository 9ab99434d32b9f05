package tool

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Policy is every grant attached to one tool alias merged into a single
// set of constraints (spec.md §4.10). Constraints not mentioned by any
// grant are left at their zero value, meaning "unconstrained".
type Policy struct {
	Domains      []string // OR'd: a call passes if it matches any one
	TimeoutMs    *int64
	MaxTokens    *int64
	Temperature  *float64
	TopP         *float64
	Stop         []string
	Model        string
	Effects      map[string]bool // nil = unrestricted
	MaxRetries   *int64
	MaxRedirects *int64
}

// MergePolicy folds every grant declared for one alias into a Policy.
// Multiple `domain` grants accumulate (a call need only satisfy one);
// every other scalar constraint is last-declaration-wins, matching how
// `resolve.Module.Grants` already appends in declaration order — the
// same "later wins" rule spec.md's resolver uses for re-declared
// bindings elsewhere.
func MergePolicy(alias string, grants []*ast.GrantDecl) (*Policy, error) {
	p := &Policy{}
	for _, g := range grants {
		switch g.Constraint {
		case "domain":
			s, err := literalString(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s domain: %w", alias, err)
			}
			p.Domains = append(p.Domains, s)

		case "timeout_ms":
			n, err := literalInt(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s timeout_ms: %w", alias, err)
			}
			p.TimeoutMs = &n

		case "max_tokens":
			n, err := literalInt(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s max_tokens: %w", alias, err)
			}
			p.MaxTokens = &n

		case "temperature":
			f, err := literalFloat(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s temperature: %w", alias, err)
			}
			p.Temperature = &f

		case "top_p":
			f, err := literalFloat(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s top_p: %w", alias, err)
			}
			p.TopP = &f

		case "stop":
			ss, err := literalStringList(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s stop: %w", alias, err)
			}
			p.Stop = ss

		case "model":
			s, err := literalString(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s model: %w", alias, err)
			}
			p.Model = s

		case "effect", "effects":
			names, err := literalStringList(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s effects: %w", alias, err)
			}
			if p.Effects == nil {
				p.Effects = map[string]bool{}
			}
			for _, n := range names {
				p.Effects[n] = true
			}

		case "max_retries":
			n, err := literalInt(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s max_retries: %w", alias, err)
			}
			p.MaxRetries = &n

		case "max_redirects":
			n, err := literalInt(g.Value)
			if err != nil {
				return nil, fmt.Errorf("grant %s max_redirects: %w", alias, err)
			}
			p.MaxRedirects = &n

		default:
			return nil, fmt.Errorf("grant %s: unsupported constraint %q", alias, g.Constraint)
		}
	}
	return p, nil
}

// Validate checks one call's arguments against the policy's domain,
// timeout_ms, max_tokens and model constraints, returning a
// *ProviderError{Kind: ErrPolicyViolation} on the first one that fails.
// The other merged constraints (Temperature, TopP, Stop, Effects,
// MaxRetries, MaxRedirects) are not checked here.
func (p *Policy) Validate(argNames []string, args []vm.Value) error {
	named := map[string]vm.Value{}
	for i, v := range args {
		if i < len(argNames) && argNames[i] != "" {
			named[argNames[i]] = v
		}
	}

	if len(p.Domains) > 0 {
		host, ok := findURLHost(named, args)
		if ok {
			if !matchesAnyDomain(p.Domains, host) {
				return policyViolation("domain", host, strings.Join(p.Domains, ", "))
			}
		}
	}
	if p.TimeoutMs != nil {
		if v, ok := named["timeout_ms"]; ok && v.Kind == vm.KInt && v.Int > *p.TimeoutMs {
			return policyViolation("timeout_ms", fmt.Sprint(v.Int), fmt.Sprint(*p.TimeoutMs))
		}
	}
	if p.MaxTokens != nil {
		if v, ok := named["max_tokens"]; ok && v.Kind == vm.KInt && v.Int > *p.MaxTokens {
			return policyViolation("max_tokens", fmt.Sprint(v.Int), fmt.Sprint(*p.MaxTokens))
		}
	}
	if p.Model != "" {
		if v, ok := named["model"]; ok && v.Kind == vm.KString && v.Str != p.Model {
			return policyViolation("model", v.Str, p.Model)
		}
	}
	return nil
}

// findURLHost looks for a URL-bearing argument by the conventional
// names a Fetch-style tool alias uses (spec.md §8 scenario 6 names its
// argument "url"), falling back to the first string argument that
// parses as an absolute URL — the grammar erases a call-site argument's
// semantic role beyond its name, so this is a heuristic, not a type-
// system guarantee.
func findURLHost(named map[string]vm.Value, positional []vm.Value) (string, bool) {
	for _, key := range []string{"url", "domain", "endpoint", "uri"} {
		if v, ok := named[key]; ok && v.Kind == vm.KString {
			if host, ok := hostOf(v.Str); ok {
				return host, true
			}
		}
	}
	for _, v := range positional {
		if v.Kind == vm.KString {
			if host, ok := hostOf(v.Str); ok {
				return host, true
			}
		}
	}
	return "", false
}

func hostOf(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Hostname(), true
}

// matchesAnyDomain reports whether host satisfies at least one glob
// pattern, per spec.md §4.10's "standard shell semantics with `*`
// matching a single label and `**` matching multiple".
func matchesAnyDomain(patterns []string, host string) bool {
	for _, p := range patterns {
		if domainGlobMatch(p, host) {
			return true
		}
	}
	return false
}

func domainGlobMatch(pattern, host string) bool {
	return matchLabels(strings.Split(pattern, "."), strings.Split(host, "."))
}

func matchLabels(pattern, labels []string) bool {
	if len(pattern) == 0 {
		return len(labels) == 0
	}
	head := pattern[0]
	if head == "**" {
		if matchLabels(pattern[1:], labels) {
			return true
		}
		for i := 1; i <= len(labels); i++ {
			if matchLabels(pattern[1:], labels[i:]) {
				return true
			}
		}
		return false
	}
	if len(labels) == 0 {
		return false
	}
	if head != "*" && head != labels[0] {
		return false
	}
	return matchLabels(pattern[1:], labels[1:])
}

func literalString(e ast.Expr) (string, error) {
	s, ok := e.(*ast.StringLit)
	if !ok {
		return "", fmt.Errorf("expected a string literal")
	}
	var b strings.Builder
	for _, part := range s.Parts {
		if part.Expr != nil {
			return "", fmt.Errorf("grant values must be constant, not interpolated")
		}
		b.WriteString(part.Literal)
	}
	return b.String(), nil
}

func literalInt(e ast.Expr) (int64, error) {
	switch v := e.(type) {
	case *ast.IntLit:
		return v.Value, nil
	}
	return 0, fmt.Errorf("expected an integer literal")
}

func literalFloat(e ast.Expr) (float64, error) {
	switch v := e.(type) {
	case *ast.FloatLit:
		return v.Value, nil
	case *ast.IntLit:
		return float64(v.Value), nil
	}
	return 0, fmt.Errorf("expected a numeric literal")
}

func literalStringList(e ast.Expr) ([]string, error) {
	if s, ok := e.(*ast.StringLit); ok {
		one, err := literalString(s)
		if err != nil {
			return nil, err
		}
		return []string{one}, nil
	}
	lst, ok := e.(*ast.ListExpr)
	if !ok {
		return nil, fmt.Errorf("expected a string or a list of strings")
	}
	out := make([]string, 0, len(lst.Elems))
	for _, el := range lst.Elems {
		s, err := literalString(el)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
