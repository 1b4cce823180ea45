package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	type payload struct {
		Symbols []string `json:"symbols"`
		Value   float64  `json:"value"`
	}
	require.NoError(t, SetJSON(ctx, c, "k", payload{Symbols: []string{"AAPL"}, Value: 0.5}, time.Minute))

	var got payload
	ok, err := GetJSON(ctx, c, "k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL"}, got.Symbols)

	ok, err = GetJSON(ctx, c, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "bad", []byte("{"), 0))
	_, err = GetJSON(ctx, c, "bad", &got)
	assert.Error(t, err)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewRedis(db, "t:")

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("t:key").SetVal("value")
		v, ok, err := c.Get(ctx, "key")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "value", string(v))
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet("t:none").RedisNil()
		v, ok, err := c.Get(ctx, "none")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("error", func(t *testing.T) {
		mock.ExpectGet("t:err").SetErr(errors.New("connection refused"))
		_, _, err := c.Get(ctx, "err")
		assert.Error(t, err)
	})

	t.Run("set and delete", func(t *testing.T) {
		mock.ExpectSet("t:key", []byte("v"), time.Minute).SetVal("OK")
		require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))
		mock.ExpectDel("t:key").SetVal(1)
		require.NoError(t, c.Delete(ctx, "key"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAutoWithoutAddress(t *testing.T) {
	c := NewAuto(context.Background(), "", "")
	_, ok := c.(*Memory)
	assert.True(t, ok)
}
