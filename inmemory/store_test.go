package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/atomix"
	"github.com/sharedcode/atomix/scripts"
)

func TestParsePath(t *testing.T) {
	segs, err := parsePath("$")
	require.NoError(t, err)
	assert.Empty(t, segs)

	segs, err = parsePath("$.a.b")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "a", segs[0].field)
	assert.Equal(t, "b", segs[1].field)

	segs, err = parsePath("$.a[2].c")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "a", segs[0].field)
	assert.True(t, segs[0].hasIndex)
	assert.Equal(t, 2, segs[0].index)
	assert.Equal(t, "c", segs[1].field)

	_, err = parsePath("a.b")
	assert.Error(t, err)
	_, err = parsePath("$.a[2")
	assert.Error(t, err)
}

func TestResolveAndSetAt(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{"b": []any{1.0, 2.0, 3.0}},
	}

	segs, _ := parsePath("$.a.b[1]")
	v, found := resolve(tree, segs)
	require.True(t, found)
	assert.Equal(t, 2.0, v)

	segs, _ = parsePath("$.a.b[-1]")
	v, found = resolve(tree, segs)
	require.True(t, found)
	assert.Equal(t, 3.0, v)

	segs, _ = parsePath("$.a.missing")
	_, found = resolve(tree, segs)
	assert.False(t, found)

	segs, _ = parsePath("$.a.b[1]")
	_, err := setAt(tree, segs, 9.0)
	require.NoError(t, err)
	v, _ = resolve(tree, segs)
	assert.Equal(t, 9.0, v)

	// Intermediate containers must exist already.
	segs, _ = parsePath("$.x.y")
	_, err = setAt(tree, segs, 1.0)
	assert.Error(t, err)
}

func TestJSONSetRequiresRootForNewKeys(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.JSONSet(ctx, "k", "$.field", "v")
	assert.Error(t, err, "a sub-path write cannot create the document")

	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"field": "v"}))
	require.NoError(t, s.JSONSet(ctx, "k", "$.field", "w"))

	v, found, err := s.JSONGet(ctx, "k", "$.field")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "w", v)
}

func TestJSONGetCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"list": []any{1.0}}))

	v, _, err := s.JSONGet(ctx, "k", "$.list")
	require.NoError(t, err)
	v.([]any)[0] = 99.0

	v2, _, err := s.JSONGet(ctx, "k", "$.list")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v2.([]any)[0], "readers must not alias the stored tree")
}

func TestExpiryAgainstClock(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{}))
	ok, err := s.Expire(ctx, "k", time.Minute, false)
	require.NoError(t, err)
	require.True(t, ok)

	s.Advance(59 * time.Second)
	exists, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	ttl, found, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, time.Second, ttl)

	s.Advance(time.Second)
	exists, err = s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, s.Len())
}

func TestExpireIfNoExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{}))
	ok, _ := s.Expire(ctx, "k", time.Minute, true)
	assert.True(t, ok, "first expiry applies")

	s.Advance(30 * time.Second)
	ok, _ = s.Expire(ctx, "k", time.Minute, true)
	assert.False(t, ok, "an existing expiry is preserved")

	ttl, _, _ := s.TTL(ctx, "k")
	assert.Equal(t, 30*time.Second, ttl)
}

func TestScanPagination(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, k := range []string{"T:a", "T:b", "T:c", "T:d", "T:e", "U:x"} {
		require.NoError(t, s.JSONSet(ctx, k, "$", map[string]any{}))
	}

	var got []string
	var cursor uint64
	for {
		page, next, err := s.Scan(ctx, cursor, "T:*", 2)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(page), 2)
		got = append(got, page...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"T:a", "T:b", "T:c", "T:d", "T:e"}, got)
}

func TestGlobMatch(t *testing.T) {
	assert.True(t, globMatch("User:*", "User:1"))
	assert.True(t, globMatch("*", "anything"))
	assert.True(t, globMatch("a*c", "abc"))
	assert.True(t, globMatch("exact", "exact"))
	assert.False(t, globMatch("User:*", "Session:1"))
	assert.False(t, globMatch("a*c", "ab"))
	assert.False(t, globMatch("exact", "exactly"))
}

func TestZSetOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()

	n, err := s.ZAdd(ctx, "z", false,
		atomix.ZMember{Member: "b", Score: 2},
		atomix.ZMember{Member: "a", Score: 2},
		atomix.ZMember{Member: "c", Score: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	members, err := s.ZRange(ctx, "z", 0, -1, false)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "c", members[0].Member)
	assert.Equal(t, "a", members[1].Member, "score ties break on the member")
	assert.Equal(t, "b", members[2].Member)

	rank, found, err := s.ZRank(ctx, "z", "b", true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), rank)
}

func TestZAddOnlyUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	n, err := s.ZAdd(ctx, "z", true, atomix.ZMember{Member: "ghost", Score: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "update-only never creates")

	_, err = s.ZAdd(ctx, "z", false, atomix.ZMember{Member: "a", Score: 1})
	require.NoError(t, err)

	n, err = s.ZAdd(ctx, "z", true, atomix.ZMember{Member: "a", Score: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "an unchanged score does not count")

	n, err = s.ZAdd(ctx, "z", true, atomix.ZMember{Member: "a", Score: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestZRemDropsEmptySet(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.ZAdd(ctx, "z", false, atomix.ZMember{Member: "a", Score: 1})
	require.NoError(t, err)

	n, err := s.ZRem(ctx, "z", "a", "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := s.Exists(ctx, "z")
	require.NoError(t, err)
	assert.False(t, exists, "an emptied set does not linger as a key")
}

func TestScriptLoadRecognition(t *testing.T) {
	s := New()
	ctx := context.Background()

	src, ok := scripts.Source(scripts.NumMul)
	require.True(t, ok)
	sha, err := s.ScriptLoad(ctx, src)
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	_, err = s.ScriptLoad(ctx, "return 0")
	assert.Error(t, err)
}

func TestEvalShaUnknownHandle(t *testing.T) {
	s := New()
	_, err := s.EvalSha(context.Background(), "deadbeef", []string{"k"}, "$")
	assert.ErrorIs(t, err, scripts.ErrNoScript)
}

func TestExecTxNoRollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"n": 1.0}))

	results, err := s.ExecTx(ctx, []atomix.Command{
		{Kind: atomix.CmdJSONNumIncrBy, Key: "k", Path: "$.n", Args: []any{1.0}},
		{Kind: atomix.CmdJSONNumIncrBy, Key: "missing", Path: "$.n", Args: []any{1.0}},
		{Kind: atomix.CmdJSONNumIncrBy, Key: "k", Path: "$.n", Args: []any{1.0}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err, "a failed command does not stop or undo the batch")

	v, _, err := s.JSONGet(ctx, "k", "$.n")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
}

func TestExecTxHonorsCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ExecTx(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
