package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

func strLit(s string) *ast.StringLit {
	return &ast.StringLit{Parts: []ast.StringPart{{Literal: s}}}
}

func grant(alias, constraint string, value ast.Expr) *ast.GrantDecl {
	return &ast.GrantDecl{Alias: alias, Constraint: constraint, Value: value}
}

// TestPolicyDomainViolationRejectsUnlistedHost is spec.md §8 scenario 6:
// `grant Fetch domain "*.example.com"` must reject a call whose url
// argument resolves to a host outside that glob.
func TestPolicyDomainViolationRejectsUnlistedHost(t *testing.T) {
	p, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "domain", strLit("*.example.com")),
	})
	require.NoError(t, err)

	err = p.Validate([]string{"url"}, []vm.Value{vm.String("https://evil.com/x")})
	require.Error(t, err)

	pe, ok := err.(*ProviderError)
	require.True(t, ok)
	assert.Equal(t, ErrPolicyViolation, pe.Kind)
	assert.Equal(t, "domain", pe.Constraint)
	assert.Equal(t, "evil.com", pe.Value)
	assert.Equal(t, "*.example.com", pe.Allowed)
}

func TestPolicyDomainAllowsMatchingSubdomain(t *testing.T) {
	p, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "domain", strLit("*.example.com")),
	})
	require.NoError(t, err)

	err = p.Validate([]string{"url"}, []vm.Value{vm.String("https://api.example.com/x")})
	assert.NoError(t, err)
}

func TestPolicyDomainDoubleStarMatchesMultipleLabels(t *testing.T) {
	p, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "domain", strLit("**.example.com")),
	})
	require.NoError(t, err)

	assert.NoError(t, p.Validate([]string{"url"}, []vm.Value{vm.String("https://a.b.example.com")}))
	assert.NoError(t, p.Validate([]string{"url"}, []vm.Value{vm.String("https://example.com")}))
}

func TestPolicyMultipleDomainGrantsAreOred(t *testing.T) {
	p, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "domain", strLit("*.example.com")),
		grant("fetch", "domain", strLit("*.trusted.org")),
	})
	require.NoError(t, err)

	assert.NoError(t, p.Validate([]string{"url"}, []vm.Value{vm.String("https://api.trusted.org")}))
	assert.Error(t, p.Validate([]string{"url"}, []vm.Value{vm.String("https://evil.com")}))
}

func TestPolicyTimeoutMsRejectsOverLimit(t *testing.T) {
	p, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "timeout_ms", &ast.IntLit{Value: 5000}),
	})
	require.NoError(t, err)

	err = p.Validate([]string{"timeout_ms"}, []vm.Value{vm.Int(9000)})
	require.Error(t, err)
	pe := err.(*ProviderError)
	assert.Equal(t, "timeout_ms", pe.Constraint)
}

func TestPolicyUnsupportedConstraintErrors(t *testing.T) {
	_, err := MergePolicy("fetch", []*ast.GrantDecl{
		grant("fetch", "bogus", strLit("x")),
	})
	assert.Error(t, err)
}

func TestDomainGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "a.b.example.com", false},
		{"**.example.com", "a.b.example.com", true},
		{"**.example.com", "example.com", true},
		{"example.com", "example.com", true},
		{"example.com", "evil.com", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, domainGlobMatch(c.pattern, c.host), "%s vs %s", c.pattern, c.host)
	}
}
