package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/atomix"
	"github.com/sharedcode/atomix/scripts"
)

func TestEncodeJSON(t *testing.T) {
	s, err := encodeJSON("abc")
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, s, "strings go over the wire as JSON literals")

	s, err = encodeJSON(map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, s)

	s, err = encodeJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "null", s)
}

func TestUnwrapPath(t *testing.T) {
	v, found, err := unwrapPath(`[{"a":1}]`)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, map[string]any{"a": 1.0}, v)

	_, found, err = unwrapPath(`[]`)
	require.NoError(t, err)
	assert.False(t, found, "a path matching nothing is absence, not an error")

	v, found, err = unwrapPath(`[null]`)
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, v)

	_, _, err = unwrapPath(`not json`)
	assert.Error(t, err)
}

func TestParseNumIncrReply(t *testing.T) {
	n, err := parseNumIncrReply(`[42.5]`)
	require.NoError(t, err)
	assert.Equal(t, 42.5, n)

	_, err = parseNumIncrReply(`[null]`)
	assert.Error(t, err, "a null match means the path held no number")

	_, err = parseNumIncrReply(`[]`)
	assert.Error(t, err)
}

func TestEncodeAll(t *testing.T) {
	literals, err := encodeAll([]any{"a", 1, true})
	require.NoError(t, err)
	assert.Equal(t, []any{`"a"`, `1`, `true`}, literals)
}

func TestFirstLen(t *testing.T) {
	n, err := firstLen([]int64{3, 9})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = firstLen(nil)
	assert.Error(t, err)
}

// serverErr mimics a reply-level error from the server, which go-redis
// surfaces as its RedisError type.
type serverErr string

func (e serverErr) Error() string { return string(e) }
func (e serverErr) RedisError()   {}

func TestWrapScriptErr(t *testing.T) {
	assert.NoError(t, wrapScriptErr(nil))

	plain := errors.New("NOSCRIPT-looking transport error")
	assert.Equal(t, plain, wrapScriptErr(plain), "only server replies carry the prefix convention")

	readonly := serverErr("READONLY You can't write against a replica")
	assert.NotErrorIs(t, wrapScriptErr(readonly), scripts.ErrNoScript)

	noscript := serverErr("NOSCRIPT No matching script. Please use EVAL.")
	assert.ErrorIs(t, wrapScriptErr(noscript), scripts.ErrNoScript)
}

func TestDecodeTTL(t *testing.T) {
	// The sentinels arrive as raw -2 and -1, not scaled to seconds.
	ttl, found := decodeTTL(time.Duration(-2))
	assert.False(t, found, "-2 means the key does not exist")
	assert.Equal(t, time.Duration(0), ttl)

	ttl, found = decodeTTL(time.Duration(-1))
	assert.True(t, found, "-1 means the key exists without an expiry")
	assert.Equal(t, time.Duration(0), ttl)

	ttl, found = decodeTTL(90 * time.Second)
	assert.True(t, found)
	assert.Equal(t, 90*time.Second, ttl)
}

func TestZMemberConversions(t *testing.T) {
	members := []atomix.ZMember{{Member: "a", Score: 1}, {Member: "b", Score: 2}}
	assert.Equal(t, members, fromZ(toZ(members)))
}

func TestArgHelpers(t *testing.T) {
	args := []any{1.5, int64(2), 3}

	f, err := floatArg(args, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)

	n, err := intArg(args, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = floatArg(args, 5)
	assert.Error(t, err)
	_, err = floatArg([]any{"nope"}, 0)
	assert.Error(t, err)

	ms, err := zMemberArgs([]any{atomix.ZMember{Member: "a", Score: 1}})
	require.NoError(t, err)
	assert.Equal(t, "a", ms[0].Member)

	_, err = zMemberArgs([]any{"raw"})
	assert.Error(t, err)
}

func TestClientRequiresOpenConnection(t *testing.T) {
	c := &client{}
	err := c.JSONSet(context.Background(), "k", "$", nil)
	assert.ErrorIs(t, err, errNotOpen)
}
