package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestMemory(capacity int) (*Memory, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	return NewMemory(capacity, clk), clk
}

func TestMemory_SetExExpires(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory(10)

	require.NoError(t, m.SetEx(ctx, "k", 2*time.Second, "v"))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	clk.Add(2 * time.Second)
	_, ok, err = m.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok, "entry must be invisible once its TTL elapsed")
	require.Equal(t, 0, m.Len())
}

func TestMemory_IncrStartsAtOneWithDefaultTTL(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory(10)

	n, err := m.Incr(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = m.Incr(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	clk.Add(DefaultIncrTTL)
	n, err = m.Incr(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "counter must restart after the default TTL")
}

func TestMemory_IncrRejectsNonInteger(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	require.NoError(t, m.Set(ctx, "s", "abc"))
	_, err := m.Incr(ctx, "s")
	require.True(t, errors.Is(err, ErrNotInteger))

	require.NoError(t, m.ZAdd(ctx, "z", 1, "a"))
	_, err = m.Incr(ctx, "z")
	require.True(t, errors.Is(err, ErrWrongType))
}

func TestMemory_SortedSetOps(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	for i, member := range []string{"a", "b", "c", "d"} {
		require.NoError(t, m.ZAdd(ctx, "z", float64(i*10), member))
	}
	// mesmo membro: atualiza o score, não duplica
	require.NoError(t, m.ZAdd(ctx, "z", 35, "b"))

	card, err := m.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(4), card)

	members, err := m.ZRangeByScore(ctx, "z", math.Inf(-1), math.Inf(1))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "d", "b"}, members)

	removed, err := m.ZRemRangeByScore(ctx, "z", math.Inf(-1), 20)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	card, err = m.ZCard(ctx, "z")
	require.NoError(t, err)
	require.Equal(t, int64(2), card)

	removed, err = m.ZRemRangeByScore(ctx, "z", 0, 100)
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)
	require.Equal(t, 0, m.Len(), "empty sorted set must be dropped")
}

func TestMemory_ExpireAndDelete(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory(10)

	ok, err := m.Expire(ctx, "missing", time.Second)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Set(ctx, "a", "1"))
	require.NoError(t, m.Set(ctx, "b", "2"))
	ok, err = m.Expire(ctx, "a", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Add(time.Second)
	n, err := m.MDel(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "only the live key counts as deleted")
}

func TestMemory_EvictsSoonestExpiryWhenFull(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(3)

	require.NoError(t, m.Set(ctx, "forever", "x"))
	require.NoError(t, m.SetEx(ctx, "late", time.Hour, "x"))
	require.NoError(t, m.SetEx(ctx, "soon", time.Minute, "x"))

	require.NoError(t, m.SetEx(ctx, "new", time.Hour, "x"))
	require.Equal(t, 3, m.Len())

	_, ok, _ := m.Get(ctx, "soon")
	require.False(t, ok, "soonest-to-expire entry must be evicted")
	for _, k := range []string{"forever", "late", "new"} {
		_, ok, _ := m.Get(ctx, k)
		require.True(t, ok, "expected %s to survive", k)
	}
}

func TestMemory_EvictsOldestNonExpiringLast(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(2)

	require.NoError(t, m.Set(ctx, "first", "x"))
	require.NoError(t, m.Set(ctx, "second", "x"))
	require.NoError(t, m.Set(ctx, "third", "x"))

	_, ok, _ := m.Get(ctx, "first")
	require.False(t, ok)
	_, ok, _ = m.Get(ctx, "third")
	require.True(t, ok)
}

func TestMemory_PurgesExpiredBeforeEvicting(t *testing.T) {
	ctx := context.Background()
	m, clk := newTestMemory(2)

	require.NoError(t, m.SetEx(ctx, "dead", time.Second, "x"))
	require.NoError(t, m.Set(ctx, "alive", "x"))
	clk.Add(2 * time.Second)

	require.NoError(t, m.Set(ctx, "new", "x"))
	_, ok, _ := m.Get(ctx, "alive")
	require.True(t, ok, "live entry must not be evicted while an expired one exists")
}

func TestMemory_NeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(50)

	for i := 0; i < 500; i++ {
		_, err := m.Incr(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	require.Equal(t, 50, m.Len())
}

func TestMemory_KeysMatchesGlob(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	for _, k := range []string{"cache:/a:{}", "cache:/a/b:{}", "cache:/a\nb:{}", "cache:/b:{}", "metrics:count:1"} {
		require.NoError(t, m.Set(ctx, k, "x"))
	}

	keys, err := m.Keys(ctx, "cache:/a*")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:/a\nb:{}", "cache:/a/b:{}", "cache:/a:{}"}, keys)

	keys, err = m.Keys(ctx, "*")
	require.NoError(t, err)
	require.Len(t, keys, 5)
}
