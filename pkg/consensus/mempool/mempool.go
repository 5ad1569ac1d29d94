// Package mempool holds opaque payload items until a leader drains them into a
// block. Items are deduplicated by their blake3 digest and served in arrival
// order.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ef-ds/deque"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/crypto"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

var (
	// ErrDuplicate is returned when an item with the same id is already pooled.
	ErrDuplicate = errors.New("item already in mempool")
	// ErrFull is returned when the pool is at capacity.
	ErrFull = errors.New("mempool is full")
	// ErrEmptyItem is returned for zero-length items.
	ErrEmptyItem = errors.New("empty item")
)

// ItemID identifies a pooled item.
type ItemID = types.BlockHash

// ID returns the id of item.
func ID(item []byte) ItemID {
	return crypto.Blake3Hash(item)
}

// Mempool is a FIFO pool with deduplication. It is safe for concurrent use.
//
// Removal is lazy: Remove deletes the item from the index and DrainReady skips
// ids whose item is gone.
type Mempool struct {
	mu       sync.Mutex
	order    deque.Deque
	items    map[ItemID][]byte
	capacity int
	maxBatch int
}

// New creates a pool holding at most capacity items and handing out at most
// maxBatch items per payload.
func New(capacity, maxBatch int) (*Mempool, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("mempool capacity must be positive, got %d", capacity)
	}
	if maxBatch < 1 || maxBatch > codec.MaxBatchItems {
		return nil, fmt.Errorf("mempool batch size must be in [1, %d], got %d", codec.MaxBatchItems, maxBatch)
	}
	return &Mempool{
		items:    make(map[ItemID][]byte),
		capacity: capacity,
		maxBatch: maxBatch,
	}, nil
}

// Insert adds item to the back of the queue and returns its id.
func (m *Mempool) Insert(item []byte) (ItemID, error) {
	if len(item) == 0 {
		return ItemID{}, ErrEmptyItem
	}
	id := ID(item)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; ok {
		return id, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	if len(m.items) >= m.capacity {
		return id, ErrFull
	}

	cp := make([]byte, len(item))
	copy(cp, item)
	m.items[id] = cp
	m.order.PushBack(id)
	return id, nil
}

// Remove drops the item with id. It reports whether the item was pooled.
func (m *Mempool) Remove(id ItemID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	return true
}

// Contains reports whether an item with id is pooled.
func (m *Mempool) Contains(id ItemID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.items[id]
	return ok
}

// Get returns the item with id.
func (m *Mempool) Get(id ItemID) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok
}

// Len returns the number of pooled items.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// DrainReady removes and returns up to max items in arrival order.
func (m *Mempool) DrainReady(max int) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	for len(out) < max {
		v, ok := m.order.PopFront()
		if !ok {
			break
		}
		id := v.(ItemID)
		item, ok := m.items[id]
		if !ok {
			continue
		}
		delete(m.items, id)
		out = append(out, item)
	}

	// drop ids left behind by Remove
	if m.order.Len() > 2*len(m.items)+m.maxBatch {
		m.compact()
	}
	return out
}

func (m *Mempool) compact() {
	var live deque.Deque
	for {
		v, ok := m.order.PopFront()
		if !ok {
			break
		}
		if _, ok := m.items[v.(ItemID)]; ok {
			live.PushBack(v)
		}
	}
	m.order = live
}

// NextPayload drains the next batch and encodes it as a block payload. An empty
// pool yields an empty batch.
func (m *Mempool) NextPayload(ctx context.Context, _ types.ViewNumber) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return codec.EncodeBatch(m.DrainReady(m.maxBatch))
}
