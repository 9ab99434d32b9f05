package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

type stubProvider struct {
	name string
	err  error
	out  vm.Value
	got  map[string]vm.Value
}

func (p *stubProvider) Name() string               { return p.name }
func (p *stubProvider) Version() string            { return "v1" }
func (p *stubProvider) Schema() Schema             { return Schema{} }
func (p *stubProvider) Capabilities() Capabilities { return Capabilities{} }
func (p *stubProvider) Call(args map[string]vm.Value) (vm.Value, error) {
	p.got = args
	if p.err != nil {
		return vm.Value{}, p.err
	}
	return p.out, nil
}

func TestDispatchCallsRegisteredProvider(t *testing.T) {
	reg := NewRegistry()
	prov := &stubProvider{name: "primary", out: vm.String("ok")}
	reg.Register("echo", prov)

	d := NewDispatcher(reg)
	res, err := d.Dispatch("echo", []string{"message"}, []vm.Value{vm.String("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Str)
	assert.Equal(t, vm.String("hi"), prov.got["message"])
}

func TestDispatchUnknownAliasReturnsNotFound(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	_, err := d.Dispatch("nope", nil, nil)
	require.Error(t, err)
	pe := err.(*ProviderError)
	assert.Equal(t, ErrNotFound, pe.Kind)
}

func TestDispatchRetriesNextProviderOnRetryableFailure(t *testing.T) {
	reg := NewRegistry()
	first := &stubProvider{name: "primary", err: &ProviderError{Kind: ErrServiceUnavailable}}
	second := &stubProvider{name: "fallback", out: vm.String("from-fallback")}
	reg.Register("fetch", first)
	reg.Register("fetch", second)

	d := NewDispatcher(reg)
	res, err := d.Dispatch("fetch", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-fallback", res.Str)
}

func TestDispatchDoesNotRetryOnNonRetryableFailure(t *testing.T) {
	reg := NewRegistry()
	first := &stubProvider{name: "primary", err: &ProviderError{Kind: ErrAuthenticationError}}
	second := &stubProvider{name: "fallback", out: vm.String("from-fallback")}
	reg.Register("fetch", first)
	reg.Register("fetch", second)

	d := NewDispatcher(reg)
	_, err := d.Dispatch("fetch", nil, nil)
	require.Error(t, err)
	pe := err.(*ProviderError)
	assert.Equal(t, ErrAuthenticationError, pe.Kind)
}

func TestDispatchEnforcesPolicyBeforeCallingProvider(t *testing.T) {
	reg := NewRegistry()
	prov := &stubProvider{name: "primary", out: vm.String("unreachable")}
	reg.Register("fetch", prov)

	d := NewDispatcher(reg)
	policies, err := BuildPolicies(map[string][]*ast.GrantDecl{
		"fetch": {grant("fetch", "domain", strLit("*.example.com"))},
	})
	require.NoError(t, err)
	d.SetPolicies(policies)

	_, err = d.Dispatch("fetch", []string{"url"}, []vm.Value{vm.String("https://evil.com")})
	require.Error(t, err)
	pe := err.(*ProviderError)
	assert.Equal(t, ErrPolicyViolation, pe.Kind)
	assert.Nil(t, prov.got, "provider must never be called once policy rejects the request")
}
