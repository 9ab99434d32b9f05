package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOrdersProvidersByRegistration(t *testing.T) {
	r := NewRegistry()
	a := &stubProvider{name: "a"}
	b := &stubProvider{name: "b"}
	r.Register("fetch", a)
	r.Register("fetch", b)

	got := r.Providers("fetch")
	assert.Equal(t, []Provider{a, b}, got)
}

func TestRegistryAliasesSorted(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", &stubProvider{name: "z"})
	r.Register("alpha", &stubProvider{name: "a"})
	assert.Equal(t, []string{"alpha", "zeta"}, r.Aliases())
}
