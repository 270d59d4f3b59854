package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedis(mr.Addr())
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "img-1"))
	require.NoError(t, q.Enqueue(ctx, "img-2"))

	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "img-1", id)

	id, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "img-2", id)
}

func TestDequeueEmpty(t *testing.T) {
	q := testQueue(t)

	_, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPing(t *testing.T) {
	q := testQueue(t)
	assert.NoError(t, q.Ping(context.Background()))

	down := NewRedis("127.0.0.1:1")
	assert.Error(t, down.Ping(context.Background()))
}
