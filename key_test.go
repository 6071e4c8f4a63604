package atomix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyParts(t *testing.T) {
	k := MakeKey("User", "42")
	assert.Equal(t, Key("User:42"), k)
	assert.Equal(t, "User", k.Prefix())
	assert.Equal(t, "42", k.PK())
	assert.True(t, k.Qualified())

	bare := Key("42")
	assert.Equal(t, "", bare.Prefix())
	assert.Equal(t, "42", bare.PK())
	assert.False(t, bare.Qualified())
}

func TestKeyPKKeepsExtraColons(t *testing.T) {
	k := Key("User:tenant:42")
	assert.Equal(t, "User", k.Prefix())
	assert.Equal(t, "tenant:42", k.PK())
}

func TestQueueKeyDerivation(t *testing.T) {
	k := MakeKey("User", "42")
	qk := k.queueKey("jobs")
	assert.Equal(t, Key("User:42:pq:jobs"), qk)
	assert.True(t, isQueueKey(qk.String()))
	assert.False(t, isQueueKey(k.String()))
}

func TestJSONPath(t *testing.T) {
	assert.Equal(t, "$", jsonPath(""))
	assert.Equal(t, "$.a.b", jsonPath(".a.b"))
}
