package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvBatch(t *testing.T, sub *Subscription) []KeyUpdate {
	t.Helper()
	select {
	case batch, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed unexpectedly")
		return batch
	case <-time.After(time.Second * 2):
		t.Fatal("timed out waiting for watch batch")
		return nil
	}
}

func TestWatchDelivery(t *testing.T) {
	var (
		assert = assert.New(t)
		e      = initTestEngine(t)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := e.Watch(ctx, [][]byte{[]byte("w"), []byte("v")})
	require.NoError(t, err)

	_, err = e.Put([]byte("w"), BytesValue([]byte("x")), 0)
	require.NoError(t, err)

	batch := recvBatch(t, sub)
	require.Len(t, batch, 2)
	assert.Equal([]byte("w"), batch[0].Key)
	require.NotNil(t, batch[0].Entry)
	assert.Equal("x", string(batch[0].Entry.Value.Data))
	assert.Equal([]byte("v"), batch[1].Key)
	assert.Nil(batch[1].Entry)
}

func TestWatchUnrelatedKeySilent(t *testing.T) {
	e := initTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := e.Watch(ctx, [][]byte{[]byte("w")})
	require.NoError(t, err)

	_, err = e.Put([]byte("other"), BytesValue([]byte("x")), 0)
	require.NoError(t, err)

	select {
	case batch := <-sub.Updates():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(time.Millisecond * 100):
	}
}

func TestWatchDeleteReportsNil(t *testing.T) {
	var (
		assert = assert.New(t)
		e      = initTestEngine(t)
	)

	_, err := e.Put([]byte("w"), BytesValue([]byte("x")), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := e.Watch(ctx, [][]byte{[]byte("w")})
	require.NoError(t, err)

	require.NoError(t, e.Delete([]byte("w")))

	batch := recvBatch(t, sub)
	require.Len(t, batch, 1)
	assert.Nil(batch[0].Entry)
}

func TestWatchCoalesces(t *testing.T) {
	var (
		assert = assert.New(t)
		e      = initTestEngine(t)
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := e.Watch(ctx, [][]byte{[]byte("w")})
	require.NoError(t, err)

	// Unread intermediate states collapse into the newest one.
	for i := 0; i < 5; i++ {
		_, err := e.Put([]byte("w"), BytesValue([]byte{byte('0' + i)}), 0)
		require.NoError(t, err)
	}

	batch := recvBatch(t, sub)
	require.NotNil(t, batch[0].Entry)
	assert.Equal("4", string(batch[0].Entry.Value.Data))
}

func TestWatchCancel(t *testing.T) {
	assert := assert.New(t)
	e := initTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())

	sub, err := e.Watch(ctx, [][]byte{[]byte("w")})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-sub.Updates():
		assert.False(ok, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription did not close on cancel")
	}

	// A later write must not panic or deliver.
	_, err = e.Put([]byte("w"), BytesValue([]byte("x")), 0)
	assert.NoError(err)
}

func TestWatchClosedOnShutdown(t *testing.T) {
	assert := assert.New(t)
	e := initTestEngine(t)

	sub, err := e.Watch(context.Background(), [][]byte{[]byte("w")})
	require.NoError(t, err)

	e.Shutdown()

	select {
	case _, ok := <-sub.Updates():
		assert.False(ok)
	case <-time.After(time.Second):
		t.Fatal("subscription did not close on shutdown")
	}
}
