package mocks

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// StorageConfig contains configuration parameters for MockStorage behavior.
type StorageConfig struct {
	// PersistenceDelay simulates disk write latency
	PersistenceDelay time.Duration
}

// DefaultStorageConfig returns a configuration suitable for most tests.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{}
}

// StorageFailureConfig contains failure injection parameters for storage operations.
type StorageFailureConfig struct {
	// FailWrites makes the next FailWrites write operations fail
	FailWrites int
	// DiskFullSimulation fails every write until cleared
	DiskFullSimulation bool
}

// DefaultStorageFailureConfig returns a failure configuration with no failures.
func DefaultStorageFailureConfig() StorageFailureConfig {
	return StorageFailureConfig{}
}

// MockStorage is an in-memory storage.Store. Records are kept in their
// canonical encoding so a reopened store sees exactly what a disk would hold.
type MockStorage struct {
	mu       sync.RWMutex
	blocks   map[types.BlockHash][]byte
	heights  map[types.Height]types.BlockHash
	pending  map[types.BlockHash]*types.Block
	tip      types.Height
	hasTip   bool
	safety   []byte
	config   StorageConfig
	failures StorageFailureConfig

	writeCount   uint64
	readCount    uint64
	persistCalls []types.Height
}

var _ storage.Store = (*MockStorage)(nil)

// NewMockStorage creates a new MockStorage instance.
func NewMockStorage(config StorageConfig, failures StorageFailureConfig) *MockStorage {
	return &MockStorage{
		blocks:   make(map[types.BlockHash][]byte),
		heights:  make(map[types.Height]types.BlockHash),
		pending:  make(map[types.BlockHash]*types.Block),
		config:   config,
		failures: failures,
	}
}

// PersistBlock stores block at its height.
func (ms *MockStorage) PersistBlock(ctx context.Context, block *types.Block) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.beginWrite(ctx); err != nil {
		return err
	}

	if existing, ok := ms.heights[block.Height]; ok {
		if existing != block.Hash {
			return storage.NewStorageError(storage.ErrorTypeConflict,
				fmt.Sprintf("height %d already holds %s", block.Height, existing))
		}
		return nil
	}
	if (ms.hasTip && block.Height != ms.tip+1) || (!ms.hasTip && block.Height != 0) {
		return storage.NewStorageError(storage.ErrorTypeInvalidData,
			fmt.Sprintf("height %d does not extend committed height %d", block.Height, ms.tip))
	}

	data, err := codec.EncodeBlock(block)
	if err != nil {
		return storage.NewStorageErrorWithCause(storage.ErrorTypeInvalidData, "failed to encode block", err)
	}
	ms.blocks[block.Hash] = data
	ms.heights[block.Height] = block.Hash
	ms.tip = block.Height
	ms.hasTip = true
	for hash, p := range ms.pending {
		if p.Height <= block.Height {
			delete(ms.pending, hash)
		}
	}
	ms.persistCalls = append(ms.persistCalls, block.Height)
	return nil
}

// GetBlock returns the stored block with hash.
func (ms *MockStorage) GetBlock(hash types.BlockHash) (*types.Block, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.readCount++

	data, ok := ms.blocks[hash]
	if !ok {
		return nil, storage.NewStorageError(storage.ErrorTypeNotFound, fmt.Sprintf("block %s not found", hash))
	}
	return codec.DecodeBlock(data)
}

// GetBlockByHeight returns the stored block at height.
func (ms *MockStorage) GetBlockByHeight(height types.Height) (*types.Block, error) {
	ms.mu.RLock()
	hash, ok := ms.heights[height]
	ms.mu.RUnlock()
	if !ok {
		return nil, storage.NewStorageError(storage.ErrorTypeNotFound, fmt.Sprintf("height %d not found", height))
	}
	return ms.GetBlock(hash)
}

// CommittedHeight returns the highest stored height.
func (ms *MockStorage) CommittedHeight() (types.Height, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.tip, nil
}

// StorePending records an uncommitted block.
func (ms *MockStorage) StorePending(ctx context.Context, block *types.Block) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.beginWrite(ctx); err != nil {
		return err
	}
	data, err := codec.EncodeBlock(block)
	if err != nil {
		return storage.NewStorageErrorWithCause(storage.ErrorTypeInvalidData, "failed to encode block", err)
	}
	decoded, err := codec.DecodeBlock(data)
	if err != nil {
		return err
	}
	ms.pending[block.Hash] = decoded
	return nil
}

// PendingBlocks returns the uncommitted blocks in ascending height.
func (ms *MockStorage) PendingBlocks() ([]*types.Block, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]*types.Block, 0, len(ms.pending))
	for _, b := range ms.pending {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	return out, nil
}

// PutSafetyData replaces the safety record.
func (ms *MockStorage) PutSafetyData(ctx context.Context, data *types.SafetyData) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if err := ms.beginWrite(ctx); err != nil {
		return err
	}
	encoded, err := codec.EncodeSafetyData(data)
	if err != nil {
		return storage.NewStorageErrorWithCause(storage.ErrorTypeInvalidData, "failed to encode safety data", err)
	}
	ms.safety = encoded
	return nil
}

// GetSafetyData returns the last safety record.
func (ms *MockStorage) GetSafetyData() (*types.SafetyData, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.safety == nil {
		return nil, storage.NewStorageError(storage.ErrorTypeNotFound, "safety data not found")
	}
	return codec.DecodeSafetyData(ms.safety)
}

// Close is a no-op; the contents survive so a test can reopen the node on
// the same store.
func (ms *MockStorage) Close() error {
	return nil
}

// UpdateFailures updates the failure configuration.
func (ms *MockStorage) UpdateFailures(failures StorageFailureConfig) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failures = failures
}

// PersistedHeights returns the heights in the order PersistBlock stored them.
func (ms *MockStorage) PersistedHeights() []types.Height {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]types.Height, len(ms.persistCalls))
	copy(out, ms.persistCalls)
	return out
}

// GetStats returns storage operation statistics.
func (ms *MockStorage) GetStats() StorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return StorageStats{
		BlockCount: len(ms.blocks),
		WriteCount: ms.writeCount,
		ReadCount:  ms.readCount,
	}
}

// StorageStats contains runtime statistics for MockStorage.
type StorageStats struct {
	BlockCount int
	WriteCount uint64
	ReadCount  uint64
}

// beginWrite must be called with mu held.
func (ms *MockStorage) beginWrite(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.writeCount++

	if ms.failures.DiskFullSimulation {
		return storage.NewStorageError(storage.ErrorTypePersistence, "simulated disk full")
	}
	if ms.failures.FailWrites > 0 {
		ms.failures.FailWrites--
		return storage.NewStorageError(storage.ErrorTypePersistence, "simulated write failure")
	}
	if ms.config.PersistenceDelay > 0 {
		time.Sleep(ms.config.PersistenceDelay)
	}
	return nil
}
