package mcp

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/lumen/pkg/lumen/vm"
)

func TestToJSONScalarKinds(t *testing.T) {
	assert.Equal(t, "hi", toJSON(vm.String("hi")))
	assert.Equal(t, int64(5), toJSON(vm.Int(5)))
	assert.Equal(t, 1.5, toJSON(vm.Float(1.5)))
	assert.Equal(t, true, toJSON(vm.Bool(true)))
	assert.Nil(t, toJSON(vm.Null()))
}

func TestTextContentConcatenatesBlocks(t *testing.T) {
	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "hello "},
			mcp.TextContent{Type: "text", Text: "world"},
		},
	}
	assert.Equal(t, "hello world", textContent(result))
}

func TestProviderNameIncludesToolName(t *testing.T) {
	p := &Provider{toolName: "search"}
	assert.Equal(t, "mcp:search", p.Name())
}
