package inmemdb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo/storage"
	"github.com/trezcool/masomo/storage/storagetest"
)

func TestCluster(t *testing.T) {
	storagetest.Run(t, Open())
}

func TestCluster_Open(t *testing.T) {
	ctx := context.Background()
	c := Open()

	_, err := c.Open(ctx, "school_a")
	require.NoError(t, err)
	_, err = c.Open(ctx, "school_a")
	require.NoError(t, err)
	assert.Equal(t, 2, c.OpenCount("school_a"))
	assert.Equal(t, []string{"school_a"}, c.Namespaces())

	c.SetUnreachable(true)
	_, err = c.Open(ctx, "school_b")
	assert.True(t, errors.Is(err, storage.ErrUnreachable))
	c.SetUnreachable(false)

	c.SetLatency(time.Second)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = c.Open(tctx, "school_b")
	assert.Equal(t, context.DeadlineExceeded, err)
	c.SetLatency(0)

	require.NoError(t, c.Close(ctx))
	_, err = c.Open(ctx, "school_a")
	assert.True(t, errors.Is(err, storage.ErrClosed))
}

func TestDB_closed(t *testing.T) {
	ctx := context.Background()
	db, err := Open().Open(ctx, "school_a")
	require.NoError(t, err)
	require.NoError(t, db.Close(ctx))

	_, err = db.Increment(ctx, "k", 0)
	assert.True(t, errors.Is(err, storage.ErrClosed))
	err = db.Collection("people").Insert(ctx, "1", map[string]string{"name": "x"})
	assert.True(t, errors.Is(err, storage.ErrClosed))
}
