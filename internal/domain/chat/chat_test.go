package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefKeys(t *testing.T) {
	assert.Equal(t, Ref{ID: "eng", IsGroup: true}, GroupRef("eng"))
	assert.Equal(t, "group:eng", GroupRef("eng").Key("alice"))

	assert.Equal(t, Direct("bob").Key("alice"), Direct("alice").Key("bob"))
	assert.Equal(t, "direct:alice:bob", Direct("alice").Key("bob"))

	assert.False(t, Direct("  ").Valid())
	assert.True(t, GroupRef("eng").Valid())
}

func TestGroupTables(t *testing.T) {
	assert.Equal(t, "groups", Group{}.TableName())
	assert.Equal(t, "group_members", Member{}.TableName())
}
