package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient() (*Client, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewFromRedis(db), mock
}

func TestGetAvailable(t *testing.T) {
	c, mock := newMockClient()
	mock.ExpectHGet("inventory:nye-gala", "available").SetVal("12")

	available, err := c.GetAvailable(context.Background(), "nye-gala")

	require.NoError(t, err)
	assert.Equal(t, 12, available)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAvailableNotCached(t *testing.T) {
	c, mock := newMockClient()
	mock.ExpectHGet("inventory:nye-gala", "available").RedisNil()

	_, err := c.GetAvailable(context.Background(), "nye-gala")

	assert.ErrorIs(t, err, ErrNotCached)
}

func TestSetAvailable(t *testing.T) {
	c, mock := newMockClient()
	mock.ExpectHSet("inventory:nye-gala", "available", 40).SetVal(1)

	require.NoError(t, c.SetAvailable(context.Background(), "nye-gala", 40))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowerAvailable(t *testing.T) {
	c, mock := newMockClient()
	sha := redis.NewScript(lowerStockScript).Hash()
	mock.ExpectEvalSha(sha, []string{"inventory:nye-gala"}, 7).SetVal(int64(7))

	count, err := c.LowerAvailable(context.Background(), "nye-gala", 7)

	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLowerAvailableScriptError(t *testing.T) {
	c, mock := newMockClient()
	sha := redis.NewScript(lowerStockScript).Hash()
	mock.ExpectEvalSha(sha, []string{"inventory:nye-gala"}, 7).SetErr(errors.New("READONLY You can't write against a read only replica"))

	_, err := c.LowerAvailable(context.Background(), "nye-gala", 7)

	assert.Error(t, err)
}

func TestAcquireLock(t *testing.T) {
	c, mock := newMockClient()
	mock.ExpectSetNX("lock:sweeper", "1", time.Minute).SetVal(true)

	ok, err := c.AcquireLock(context.Background(), "sweeper", time.Minute)

	require.NoError(t, err)
	assert.True(t, ok)
}
