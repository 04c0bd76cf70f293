package counter

import (
	"context"
	"testing"

	"github.com/d0ngw/counters/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirtyTracker(t *testing.T, tracker DirtyTracker) {
	ctx := context.Background()
	require.NoError(t, tracker.Mark(ctx))
	require.NoError(t, tracker.Mark(ctx, "1", "2", "3"))
	require.NoError(t, tracker.Mark(ctx, "2"))
	n, err := tracker.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	ids, err := tracker.Drain(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = tracker.Drain(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	rest, err := tracker.Drain(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, append(ids, rest...))

	ids, err = tracker.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	n, err = tracker.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryDirtyTracker(t *testing.T) {
	testDirtyTracker(t, NewMemoryDirtyTracker())
}

func TestRedisDirtyTracker(t *testing.T) {
	mr, client := newTestRedis(t)
	param := cache.NewParamConf(testGroup, "t:", 0).NewParamKey("s.dirty")
	tracker, err := NewRedisDirtyTracker(client, param)
	require.NoError(t, err)
	testDirtyTracker(t, tracker)

	require.NoError(t, tracker.Mark(context.Background(), "9"))
	assert.True(t, mr.Exists("t:s.dirty"))

	_, err = NewRedisDirtyTracker(nil, param)
	assert.Error(t, err)
}

func TestRedisDirtyTrackerShared(t *testing.T) {
	_, client := newTestRedis(t)
	param := cache.NewParamConf(testGroup, "t:", 0).NewParamKey("s.dirty")
	marker, err := NewRedisDirtyTracker(client, param)
	require.NoError(t, err)
	drainer, err := NewRedisDirtyTracker(client, param)
	require.NoError(t, err)

	engine := newTestEngine(t, NewMemoryStore(AccountSchema), WithDirtyTracker(marker))
	ctx := context.Background()
	parallel(10, func(int) {
		_, err := engine.IncrementOne(ctx, "1", FollowersCount)
		assert.NoError(t, err)
	})
	ids, err := drainer.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)
}
