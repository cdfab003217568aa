package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix(PrefixOrganization)
	assert.True(t, strings.HasPrefix(id, "org_"))
	assert.Len(t, id, len("org_")+32)
	assert.NotContains(t, id, "-")
}

func TestWithPrefix_SortsByCreation(t *testing.T) {
	prev := WithPrefix(PrefixAudit)
	for i := 0; i < 100; i++ {
		next := WithPrefix(PrefixAudit)
		assert.NotEqual(t, prev, next)
		assert.LessOrEqual(t, prev[:len(PrefixAudit)+12], next[:len(PrefixAudit)+12], "timestamp component must not go backwards")
		prev = next
	}
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(16), 32)
	assert.NotEqual(t, Hex(16), Hex(16))
}
