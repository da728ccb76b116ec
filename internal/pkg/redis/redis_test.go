package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), Config{
		URL:            "redis://" + mr.Addr() + "/0",
		ConnectTimeout: time.Second,
		RetryAttempts:  1,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, Healthcheck(client)(context.Background()))
}

func TestConnect_EmptyURL(t *testing.T) {
	_, err := Connect(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrEmptyURL)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), Config{
		URL:            "redis://127.0.0.1:1/0",
		ConnectTimeout: 2 * time.Second,
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrNotReady)
}
