package scripts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/atomix/inmemory"
	"github.com/sharedcode/atomix/scripts"
)

func TestShaUnknownName(t *testing.T) {
	_, err := scripts.Sha("no-such-script")
	assert.ErrorIs(t, err, scripts.ErrNotReady)
}

func TestRegisterAndRun(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	require.NoError(t, scripts.Register(ctx, s))

	sha, err := scripts.Sha(scripts.NumMul)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"n": 10.0}))
	res, err := scripts.Run(ctx, s, scripts.NumMul, []string{"k"}, "$.n", 4)
	require.NoError(t, err)
	assert.Equal(t, "40", res)
}

func TestRunRecoversFromEviction(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	require.NoError(t, scripts.Register(ctx, s))
	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"n": 3.0}))

	// The server forgets every handle; one catalog reload must recover.
	s.FlushScripts()
	res, err := scripts.Run(ctx, s, scripts.NumMul, []string{"k"}, "$.n", 2)
	require.NoError(t, err)
	assert.Equal(t, "6", res)

	// The reload covered the whole catalog, not just the failing script.
	sha, err := scripts.Sha(scripts.StrAppend)
	require.NoError(t, err)
	_, err = s.EvalSha(ctx, sha, []string{"k"}, "$.n", "x")
	assert.NotErrorIs(t, err, scripts.ErrNoScript)
}

func TestRunPersistentFailure(t *testing.T) {
	s := inmemory.New()
	ctx := context.Background()
	require.NoError(t, scripts.Register(ctx, s))
	require.NoError(t, s.JSONSet(ctx, "k", "$", map[string]any{"n": 3.0}))

	s.FailEvalSha(true)
	_, err := scripts.Run(ctx, s, scripts.NumMul, []string{"k"}, "$.n", 2)
	assert.ErrorIs(t, err, scripts.ErrPersistent)
}
