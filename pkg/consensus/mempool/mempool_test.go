package mempool

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
)

func item(i int) []byte {
	return []byte(fmt.Sprintf("tx-%d", i))
}

func TestNew_RejectsBadLimits(t *testing.T) {
	_, err := New(0, 10)
	require.Error(t, err)
	_, err = New(10, 0)
	require.Error(t, err)
	_, err = New(10, codec.MaxBatchItems+1)
	require.Error(t, err)
}

func TestInsert_Dedup(t *testing.T) {
	m, err := New(10, 10)
	require.NoError(t, err)

	id, err := m.Insert(item(1))
	require.NoError(t, err)
	assert.Equal(t, ID(item(1)), id)
	assert.True(t, m.Contains(id))

	_, err = m.Insert(item(1))
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, m.Len())

	_, err = m.Insert(nil)
	require.ErrorIs(t, err, ErrEmptyItem)
}

func TestInsert_Full(t *testing.T) {
	m, err := New(2, 10)
	require.NoError(t, err)

	_, err = m.Insert(item(1))
	require.NoError(t, err)
	_, err = m.Insert(item(2))
	require.NoError(t, err)
	_, err = m.Insert(item(3))
	require.ErrorIs(t, err, ErrFull)
}

func TestInsert_CopiesItem(t *testing.T) {
	m, err := New(10, 10)
	require.NoError(t, err)

	buf := item(7)
	id, err := m.Insert(buf)
	require.NoError(t, err)
	buf[0] = 'X'

	got, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, item(7), got)
}

func TestDrainReady_FIFOAndSkipsRemoved(t *testing.T) {
	m, err := New(10, 10)
	require.NoError(t, err)

	ids := make([]ItemID, 5)
	for i := range ids {
		ids[i], err = m.Insert(item(i))
		require.NoError(t, err)
	}

	assert.True(t, m.Remove(ids[1]))
	assert.False(t, m.Remove(ids[1]))

	got := m.DrainReady(2)
	assert.Equal(t, [][]byte{item(0), item(2)}, got)
	assert.Equal(t, 2, m.Len())
	assert.False(t, m.Contains(ids[0]))

	got = m.DrainReady(10)
	assert.Equal(t, [][]byte{item(3), item(4)}, got)
	assert.Empty(t, m.DrainReady(10))
	assert.Equal(t, 0, m.Len())
}

func TestDrainReady_ReinsertAfterRemove(t *testing.T) {
	m, err := New(10, 10)
	require.NoError(t, err)

	id, err := m.Insert(item(1))
	require.NoError(t, err)
	_, err = m.Insert(item(2))
	require.NoError(t, err)
	require.True(t, m.Remove(id))
	_, err = m.Insert(item(1))
	require.NoError(t, err)

	// the stale queue entry for item 1 is skipped only once the item is gone
	got := m.DrainReady(10)
	assert.Len(t, got, 2)
	assert.ElementsMatch(t, [][]byte{item(1), item(2)}, got)
}

func TestNextPayload_EncodesBatch(t *testing.T) {
	m, err := New(10, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.Insert(item(i))
		require.NoError(t, err)
	}

	payload, err := m.NextPayload(context.Background(), 1)
	require.NoError(t, err)
	items, err := codec.DecodeBatch(payload)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{item(0), item(1)}, items)

	payload, err = m.NextPayload(context.Background(), 2)
	require.NoError(t, err)
	items, err = codec.DecodeBatch(payload)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{item(2)}, items)

	payload, err = m.NextPayload(context.Background(), 3)
	require.NoError(t, err)
	items, err = codec.DecodeBatch(payload)
	require.NoError(t, err)
	assert.Empty(t, items)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.NextPayload(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentInsert(t *testing.T) {
	m, err := New(1000, 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = m.Insert(item(w*50 + i))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, m.Len())
	total := 0
	for {
		got := m.DrainReady(100)
		if len(got) == 0 {
			break
		}
		total += len(got)
	}
	assert.Equal(t, 400, total)
}
