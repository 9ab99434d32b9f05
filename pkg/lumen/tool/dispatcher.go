package tool

import (
	"fmt"

	"github.com/ternarybob/lumen/pkg/lumen/ast"
	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

// Dispatcher satisfies vm.ToolDispatcher: it is the single seam the VM
// calls through for every CallTool instruction (spec.md §4.9's
// "dispatch(request) -> result[ToolResponse, ToolError]"). It owns
// nothing about how a provider does its work — only the registry
// lookup, ordered retry, and the policy check §4.10 requires to run
// before any provider is ever called.
type Dispatcher struct {
	registry *Registry
	policies map[string]*Policy
}

// NewDispatcher wires a Registry into a Dispatcher with no policies
// attached; use SetPolicies (or SetPolicy per-alias) once the resolver
// has produced a module's grants.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{registry: reg, policies: map[string]*Policy{}}
}

// SetPolicy attaches a merged Policy to one alias.
func (d *Dispatcher) SetPolicy(alias string, p *Policy) {
	d.policies[alias] = p
}

// SetPolicies replaces every attached policy at once, keyed by alias.
func (d *Dispatcher) SetPolicies(policies map[string]*Policy) {
	d.policies = policies
}

// BuildPolicies merges every grant in a resolved module's Grants table
// into one Policy per alias — the compiler driver calls this once per
// module and feeds the result to SetPolicies.
func BuildPolicies(grants map[string][]*ast.GrantDecl) (map[string]*Policy, error) {
	out := make(map[string]*Policy, len(grants))
	for alias, gs := range grants {
		p, err := MergePolicy(alias, gs)
		if err != nil {
			return nil, err
		}
		out[alias] = p
	}
	return out, nil
}

// Dispatch implements vm.ToolDispatcher. It enforces alias's policy (if
// any) before ever touching a provider, then tries each registered
// provider for alias in order, moving to the next only when the
// previous one's failure is Retryable (spec.md §4.9).
func (d *Dispatcher) Dispatch(alias string, argNames []string, args []vm.Value) (vm.Value, error) {
	if p, ok := d.policies[alias]; ok && p != nil {
		if err := p.Validate(argNames, args); err != nil {
			return vm.Value{}, err
		}
	}

	providers := d.registry.Providers(alias)
	if len(providers) == 0 {
		return vm.Value{}, notFound("no provider registered for tool alias %q", alias)
	}

	namedArgs := namedArgMap(argNames, args)

	var lastErr error
	for i, p := range providers {
		res, err := p.Call(namedArgs)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if i == len(providers)-1 || !Retryable(err) {
			break
		}
	}
	return vm.Value{}, lastErr
}

// namedArgMap keys each argument by its call-site name where one was
// given, and by its positional index otherwise (see Provider.Call's
// doc comment on the args map's keying convention).
func namedArgMap(argNames []string, args []vm.Value) map[string]vm.Value {
	m := make(map[string]vm.Value, len(args))
	for i, v := range args {
		if i < len(argNames) && argNames[i] != "" {
			m[argNames[i]] = v
		} else {
			m[fmt.Sprint(i)] = v
		}
	}
	return m
}
