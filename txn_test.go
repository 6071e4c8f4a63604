package atomix_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/atomix"
	"github.com/sharedcode/atomix/scripts"
)

func TestTxnBuffersUntilCommit(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 10))
	require.NoError(t, d.Save(ctx))

	txCtx, txn := db.Begin(ctx)
	assert.Equal(t, int64(15), d.Int("credits").Add(txCtx, 5))
	assert.Equal(t, 1, txn.Len())

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Int("credits").Value(), "nothing reaches the store before commit")

	require.NoError(t, txn.Commit(ctx))

	got, err = db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.Int("credits").Value())
}

func TestTxnRollbackDiscards(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 10))
	require.NoError(t, d.Save(ctx))

	txCtx, txn := db.Begin(ctx)
	d.Int("credits").Add(txCtx, 5)
	txn.Rollback()

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Int("credits").Value())

	err = txn.Commit(ctx)
	assert.True(t, atomix.IsCode(err, atomix.BadArgument), "a closed transaction cannot commit")
}

func TestTxnPreservesOrdering(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))

	txCtx, txn := db.Begin(ctx)
	d.Str("name").Append(txCtx, "a")
	d.Str("name").Append(txCtx, "b")
	d.Int("credits").Add(txCtx, 1)
	d.Int("credits").Mul(txCtx, 10)
	require.NoError(t, txn.Commit(ctx))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, "ab", got.Str("name").Value())
	assert.Equal(t, int64(10), got.Int("credits").Value())
}

func TestTxnMutationsWithParentContextWriteThrough(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))

	_, txn := db.Begin(ctx)
	_, err := d.Int("credits").AddNow(ctx, 3) // parent context: immediate
	require.NoError(t, err)
	assert.Equal(t, 0, txn.Len())

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Int("credits").Value())
}

func TestNestedTransactionsAreIndependent(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))

	outerCtx, outer := db.Begin(ctx)
	d.Int("credits").Add(outerCtx, 1)

	innerCtx, inner := db.Begin(outerCtx)
	d.Int("credits").Add(innerCtx, 2)
	require.NoError(t, inner.Commit(ctx))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Int("credits").Value(), "inner commit flushes only its own buffer")

	require.NoError(t, outer.Commit(ctx))
	got, err = db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Int("credits").Value())
}

func TestTxnCancelledContextDiscards(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))

	cancelCtx, cancel := context.WithCancel(ctx)
	txCtx, txn := db.Begin(cancelCtx)
	d.Int("credits").Add(txCtx, 5)
	cancel()

	err := txn.Commit(cancelCtx)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int("credits").Value())
}

func TestTxnReplaysOnlyScriptsAfterEviction(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 10))
	require.NoError(t, d.Save(ctx))

	txCtx, txn := db.Begin(ctx)
	d.Int("credits").Add(txCtx, 5)
	d.Int("credits").Mul(txCtx, 2)

	// The server loses its script cache between buffering and flush. The
	// increment lands on the first attempt; only the multiply replays.
	store.FlushScripts()
	require.NoError(t, txn.Commit(ctx))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Int("credits").Value(), "(10+5)*2, with no double-applied increment")
}

func TestTxnPersistentScriptFailure(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 10))
	require.NoError(t, d.Save(ctx))

	txCtx, txn := db.Begin(ctx)
	d.Int("credits").Mul(txCtx, 2)

	store.FailEvalSha(true)
	err := txn.Commit(ctx)
	assert.ErrorIs(t, err, scripts.ErrPersistent)
}

func TestTxnIgnoreErrors(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	// An increment against a missing document fails per-command at flush.
	d := newUser(t, db)

	txCtx, txn := db.Begin(ctx)
	d.Int("credits").Add(txCtx, 5)
	err := txn.Commit(ctx)
	assert.Error(t, err)

	txCtx, txn = db.Begin(ctx, atomix.IgnoreErrors())
	d.Int("credits").Add(txCtx, 5)
	assert.NoError(t, txn.Commit(ctx))
}

func TestInTxnScope(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 1))
	require.NoError(t, d.Save(ctx))

	require.NoError(t, db.InTxn(ctx, func(txCtx context.Context) error {
		d.Int("credits").Add(txCtx, 2)
		d.Int("credits").Mul(txCtx, 3)
		return nil
	}))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Int("credits").Value())
}

func TestInTxnFlushesEvenWhenBodyFails(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))

	bodyErr := errors.New("body failed")
	err := db.InTxn(ctx, func(txCtx context.Context) error {
		d.Int("credits").Add(txCtx, 5)
		return bodyErr
	})
	assert.ErrorIs(t, err, bodyErr)

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Int("credits").Value(), "the scope flushes regardless of the body's error")
}

func TestDocumentInTxnReloadsFirst(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("credits", 10))
	require.NoError(t, d.Save(ctx))

	// Another writer moves the stored value after our local copy was taken.
	require.NoError(t, store.JSONSet(ctx, d.Key().String(), "$.credits", 20))

	require.NoError(t, d.InTxn(ctx, atomix.DocTxnOptions{}, func(txCtx context.Context) error {
		assert.Equal(t, int64(20), d.Int("credits").Value(), "the scope starts from the stored state")
		d.Int("credits").Add(txCtx, 5)
		return nil
	}))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(25), got.Int("credits").Value())
}

func TestDocumentInTxnMissing(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	err := d.InTxn(ctx, atomix.DocTxnOptions{}, func(txCtx context.Context) error {
		return nil
	})
	assert.True(t, atomix.IsCode(err, atomix.NotFound))

	require.NoError(t, d.InTxn(ctx, atomix.DocTxnOptions{IgnoreMissing: true}, func(txCtx context.Context) error {
		if err := d.Save(txCtx); err != nil {
			return err
		}
		d.Int("credits").Add(txCtx, 5)
		return nil
	}))

	got, err := db.Get(ctx, d.Key())
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Int("credits").Value())
}

func TestTxnAppendsTTLRefreshForTouchedKeys(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	d, err := db.New("Session")
	require.NoError(t, err)
	require.NoError(t, d.Set("token", "tok"))
	require.NoError(t, d.Save(ctx))

	store.Advance(30 * time.Second)

	txCtx, txn := db.Begin(ctx)
	d.Str("token").Append(txCtx, "-x")
	require.NoError(t, txn.Commit(ctx))

	ttl, found, err := store.TTL(ctx, d.Key().String())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, time.Minute, ttl, "flush refreshes the touched key's TTL")
}

func TestConcurrentAddNow(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Save(ctx))
	key := d.Key()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 100; i++ {
		g.Go(func() error {
			doc, err := db.Get(gctx, key)
			if err != nil {
				return err
			}
			_, err = doc.Int("credits").AddNow(gctx, 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := db.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Int("credits").Value(), "atomic increments never lose updates")
}

func TestScriptRecoveryOnImmediateOperation(t *testing.T) {
	db, store := newTestDB(t)
	ctx := context.Background()

	d := newUser(t, db)
	require.NoError(t, d.Set("name", "ab"))
	require.NoError(t, d.Save(ctx))

	store.FlushScripts()
	v, err := d.Str("name").AppendNow(ctx, "cd")
	require.NoError(t, err, "one catalog reload recovers the invocation")
	assert.Equal(t, "abcd", v)

	store.FailEvalSha(true)
	_, err = d.Str("name").AppendNow(ctx, "!")
	assert.ErrorIs(t, err, scripts.ErrPersistent)
}
