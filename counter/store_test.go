package counter

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	for name, factory := range storeFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("Basic", func(t *testing.T) { testStoreBasic(t, factory(t)) })
			t.Run("NoLostUpdates", func(t *testing.T) { testStoreNoLostUpdates(t, factory(t)) })
			t.Run("Commutative", func(t *testing.T) { testStoreCommutative(t, factory(t)) })
			t.Run("IndependentFields", func(t *testing.T) { testStoreIndependentFields(t, factory(t)) })
			t.Run("Lifecycle", func(t *testing.T) { testStoreLifecycle(t, factory(t)) })
		})
	}
}

func testStoreBasic(t *testing.T, store Store) {
	ctx := context.Background()
	v, err := store.Get(ctx, "1", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = store.Add(ctx, "1", FollowersCount, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = store.Add(ctx, "1", FollowersCount, -5)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)

	v, err = store.Get(ctx, "1", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), v)

	require.NoError(t, store.Set(ctx, "1", FollowersCount, 42))
	v, err = store.Get(ctx, "1", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = store.Add(ctx, "1", "unknown", 1)
	assert.True(t, errors.Is(err, ErrInvalidField))
	_, err = store.Get(ctx, "1", "unknown")
	assert.True(t, errors.Is(err, ErrInvalidField))
	assert.True(t, errors.Is(store.Set(ctx, "1", "unknown", 1), ErrInvalidField))
}

func testStoreNoLostUpdates(t *testing.T, store Store) {
	ctx := context.Background()
	const n = 15
	parallel(n, func(int) {
		_, err := store.Add(ctx, "2", FollowersCount, 1)
		assert.NoError(t, err)
	})
	v, err := store.Get(ctx, "2", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(n), v)
}

func testStoreCommutative(t *testing.T, store Store) {
	ctx := context.Background()
	deltas := []int64{5, -3, 7, -1, -9, 2, 4, -6, 1, 10, -2, 3}
	var sum int64
	for _, d := range deltas {
		sum += d
	}
	parallel(len(deltas), func(i int) {
		_, err := store.Add(ctx, "3", StatusesCount, deltas[i])
		assert.NoError(t, err)
	})
	v, err := store.Get(ctx, "3", StatusesCount)
	require.NoError(t, err)
	assert.Equal(t, sum, v)
}

func testStoreIndependentFields(t *testing.T, store Store) {
	ctx := context.Background()
	const n = 20
	parallel(n, func(i int) {
		var err error
		if i%2 == 0 {
			_, err = store.Add(ctx, "4", FollowersCount, 1)
		} else {
			_, err = store.Add(ctx, "4", FollowingCount, -1)
		}
		assert.NoError(t, err)
	})
	followers, err := store.Get(ctx, "4", FollowersCount)
	require.NoError(t, err)
	following, err := store.Get(ctx, "4", FollowingCount)
	require.NoError(t, err)
	statuses, err := store.Get(ctx, "4", StatusesCount)
	require.NoError(t, err)
	assert.Equal(t, int64(n/2), followers)
	assert.Equal(t, int64(-n/2), following)
	assert.Equal(t, int64(0), statuses)
}

func testStoreLifecycle(t *testing.T, store Store) {
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "5", Fields{StatusesCount: 7}))
	v, err := store.Get(ctx, "5", StatusesCount)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	v, err = store.Get(ctx, "5", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = store.Add(ctx, "5", StatusesCount, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)

	require.NoError(t, store.Delete(ctx, "5"))
	v, err = store.Get(ctx, "5", StatusesCount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	assert.True(t, errors.Is(store.Create(ctx, "6", Fields{"unknown": 1}), ErrInvalidField))
}

func TestMemoryStoreCanceled(t *testing.T) {
	store := NewMemoryStore(AccountSchema)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.Add(ctx, "1", FollowersCount, 1)
	assert.Equal(t, context.Canceled, err)

	v, err := store.Get(context.Background(), "1", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestBadgerStore(t *testing.T) {
	db := newTestBadger(t)
	store, err := NewBadgerStore(db, AccountSchema)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Add(ctx, "a/b", FollowersCount, 1)
	assert.True(t, errors.Is(err, ErrInvalidEntity))
	_, err = store.Add(ctx, "", FollowersCount, 1)
	assert.True(t, errors.Is(err, ErrInvalidEntity))

	// 前缀相同的实体互不影响
	_, err = store.Add(ctx, "1", FollowersCount, 1)
	require.NoError(t, err)
	_, err = store.Add(ctx, "10", FollowersCount, 2)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "1"))
	v, err := store.Get(ctx, "10", FollowersCount)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// 关闭后失败且不写入
	persistent := t.TempDir()
	pdb, err := OpenBadger(&BadgerConfig{Dir: persistent})
	require.NoError(t, err)
	pstore, err := NewBadgerStore(pdb, AccountSchema)
	require.NoError(t, err)
	_, err = pstore.Add(ctx, "1", StatusesCount, 3)
	require.NoError(t, err)
	require.NoError(t, pdb.Close())
	_, err = pstore.Add(ctx, "1", StatusesCount, 1)
	assert.Error(t, err)

	pdb, err = OpenBadger(&BadgerConfig{Dir: persistent})
	require.NoError(t, err)
	defer pdb.Close()
	pstore, err = NewBadgerStore(pdb, AccountSchema)
	require.NoError(t, err)
	v, err = pstore.Get(ctx, "1", StatusesCount)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	assert.Error(t, (&BadgerConfig{}).Parse())
}

func TestStorePersist(t *testing.T) {
	ctx := context.Background()
	persist := NewStorePersist(NewMemoryStore(AccountSchema), AccountSchema)
	fields, err := persist.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, AccountSchema.ZeroFields(), fields)

	require.NoError(t, persist.Store(ctx, "1", Fields{FollowersCount: 3, StatusesCount: 1}))
	fields, err = persist.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, Fields{FollowersCount: 3, FollowingCount: 0, StatusesCount: 1}, fields)

	assert.True(t, errors.Is(persist.Store(ctx, "1", Fields{"x": 1}), ErrInvalidField))

	deleted, err := persist.Del(ctx, "1")
	require.NoError(t, err)
	assert.True(t, deleted)
	fields, err = persist.Load(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), fields[FollowersCount])
}
