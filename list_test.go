package atomix_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharedcode/atomix"
)

func taggedUser(t *testing.T, db *atomix.DB, tags ...any) *atomix.Document {
	t.Helper()
	d := newUser(t, db)
	require.NoError(t, d.Set("tags", tags))
	require.NoError(t, d.Save(context.Background()))
	return d
}

func storedTags(t *testing.T, db *atomix.DB, key atomix.Key) []any {
	t.Helper()
	got, err := db.Get(context.Background(), key)
	require.NoError(t, err)
	return got.List("tags").Values()
}

func TestListRemoveRangeNow(t *testing.T) {
	cases := []struct {
		name       string
		start, end int
		want       []any
	}{
		{"middle", 1, 3, []any{"a", "d", "e"}},
		{"negative start", -2, 5, []any{"a", "b", "c"}},
		{"end clamps to length", 3, 100, []any{"a", "b", "c"}},
		{"start beyond length", 10, 20, []any{"a", "b", "c", "d", "e"}},
		{"empty selection", 1, 1, []any{"a", "b", "c", "d", "e"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, _ := newTestDB(t)
			ctx := context.Background()
			d := taggedUser(t, db, "a", "b", "c", "d", "e")

			require.NoError(t, d.List("tags").RemoveRangeNow(ctx, tc.start, tc.end))
			assert.Equal(t, tc.want, d.List("tags").Values(), "the local mirror tracks the removal")
			assert.Equal(t, tc.want, storedTags(t, db, d.Key()))
		})
	}
}

func TestListNowOperations(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := taggedUser(t, db, "b")

	n, err := d.List("tags").AppendNow(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = d.List("tags").InsertNow(ctx, 0, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = d.List("tags").InsertNow(ctx, -1, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, []any{"a", "b", "c", "d"}, storedTags(t, db, d.Key()))

	require.NoError(t, d.List("tags").SetIndexNow(ctx, 1, "B"))
	assert.Equal(t, []any{"a", "B", "c", "d"}, storedTags(t, db, d.Key()))

	err = d.List("tags").SetIndexNow(ctx, 9, "x")
	assert.True(t, atomix.IsCode(err, atomix.BadArgument))
}

func TestListPopNow(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := taggedUser(t, db, "a", "b", "c")

	v, ok, err := d.List("tags").PopNow(ctx, -1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", v)

	v, ok, err = d.List("tags").PopNow(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, []any{"b"}, storedTags(t, db, d.Key()))

	_, ok, err = d.List("tags").PopNow(ctx, -1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = d.List("tags").PopNow(ctx, -1)
	require.NoError(t, err)
	assert.False(t, ok, "an empty array pops nothing")
}

func TestListBufferedMutations(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()
	d := taggedUser(t, db, "a", "b", "c", "d")

	txCtx, txn := db.Begin(ctx)
	require.NoError(t, d.List("tags").Append(txCtx, "e"))
	require.NoError(t, d.List("tags").Insert(txCtx, 0, "z"))
	require.NoError(t, d.List("tags").SetIndex(txCtx, 1, "A"))
	d.List("tags").RemoveRange(txCtx, -2, 100)

	assert.Equal(t, []any{"z", "A", "b", "c"}, d.List("tags").Values())
	assert.Equal(t, []any{"a", "b", "c", "d"}, storedTags(t, db, d.Key()), "nothing reaches the store before commit")

	require.NoError(t, txn.Commit(ctx))
	assert.Equal(t, []any{"z", "A", "b", "c"}, storedTags(t, db, d.Key()), "the flush replays the same sequence")
}
