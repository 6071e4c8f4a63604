package atomix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/atomix"
)

func attrUser(t *testing.T, db *atomix.DB, attrs map[string]any) *atomix.Document {
	t.Helper()
	d := newUser(t, db)
	require.NoError(t, d.Set("attrs", attrs))
	require.NoError(t, d.Save(context.Background()))
	return d
}

func storedAttrs(t *testing.T, db *atomix.DB, key atomix.Key) map[string]any {
	t.Helper()
	got, err := db.Get(context.Background(), key)
	require.NoError(t, err)
	return got.Map("attrs").Value()
}

func TestMapNowOperations(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := attrUser(t, db, map[string]any{"x": 1})

	require.NoError(t, d.Map("attrs").SetNow(ctx, "y", 2))
	require.NoError(t, d.Map("attrs").UpdateNow(ctx, map[string]any{"x": 10, "z": 3}))
	assert.Equal(t, map[string]any{"x": int64(10), "y": int64(2), "z": int64(3)}, storedAttrs(t, db, d.Key()))

	existed, err := d.Map("attrs").DelNow(ctx, "y")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = d.Map("attrs").DelNow(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, d.Map("attrs").ClearNow(ctx))
	assert.Empty(t, storedAttrs(t, db, d.Key()))
}

func TestMapPopNow(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := attrUser(t, db, map[string]any{"x": 7})

	v, err := d.Map("attrs").PopNow(ctx, "x", int64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	assert.Empty(t, storedAttrs(t, db, d.Key()))

	v, err = d.Map("attrs").PopNow(ctx, "x", int64(-1))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v, "an absent member yields the caller's default")
}

func TestMapPopItemNow(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := attrUser(t, db, map[string]any{"only": 5})

	k, v, err := d.Map("attrs").PopItemNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", k)
	assert.Equal(t, int64(5), v)

	_, _, err = d.Map("attrs").PopItemNow(ctx)
	assert.True(t, atomix.IsCode(err, atomix.CollectionEmpty), "unlike PopNow there is no default for an empty map")
}

func TestMapBufferedMutations(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := attrUser(t, db, map[string]any{"x": 1, "y": 2})

	txCtx, txn := db.Begin(ctx)
	require.NoError(t, d.Map("attrs").Set(txCtx, "z", 3))
	d.Map("attrs").Del(txCtx, "y")
	require.NoError(t, d.Map("attrs").Update(txCtx, map[string]any{"x": 10}))

	assert.Equal(t, map[string]any{"x": int64(10), "z": int64(3)}, d.Map("attrs").Value())
	assert.Equal(t, map[string]any{"x": int64(1), "y": int64(2)}, storedAttrs(t, db, d.Key()), "nothing reaches the store before commit")

	require.NoError(t, txn.Commit(ctx))
	assert.Equal(t, map[string]any{"x": int64(10), "z": int64(3)}, storedAttrs(t, db, d.Key()))
}

func TestMapClearBuffered(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := attrUser(t, db, map[string]any{"x": 1})

	require.NoError(t, db.InTxn(ctx, func(txCtx context.Context) error {
		d.Map("attrs").Clear(txCtx)
		return nil
	}))
	assert.Empty(t, storedAttrs(t, db, d.Key()))
}
