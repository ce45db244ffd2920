package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedTokenHasScope(t *testing.T) {
	empty := &SharedToken{}
	assert.True(t, empty.HasScope(""), "no scope required is always satisfied")
	assert.False(t, empty.HasScope("chat:write"))

	scoped := &SharedToken{Scopes: []string{"chat:write", "embeddings:read"}}
	assert.True(t, scoped.HasScope("chat:write"))
	assert.False(t, scoped.HasScope("chat:delete"))

	wildcard := &SharedToken{Scopes: []string{"*"}}
	assert.True(t, wildcard.HasScope("anything"))
}
