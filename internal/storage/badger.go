package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/NOVAInetwork/NOVAI-node/pkg/consensus/codec"
	cstorage "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/storage"
	ctypes "github.com/NOVAInetwork/NOVAI-node/pkg/consensus/types"
)

// DefaultCacheSize is the number of decoded blocks kept in memory.
const DefaultCacheSize = 1024

var (
	prefixBlockByHash   = []byte("b/h/")
	prefixBlockByHeight = []byte("b/n/")
	prefixPending       = []byte("p/")
	keyCommittedHeight  = []byte("m/committed")
	keySafetyData       = []byte("s/safety")
)

// BadgerStore is the durable block and safety store. Every write is synced to
// disk before it returns.
type BadgerStore struct {
	db    *badger.DB
	cache *lru.Cache
	log   zerolog.Logger

	// serializes PersistBlock so the conflict check and the write are atomic
	// with respect to each other
	writeMu sync.Mutex
}

var _ cstorage.Store = (*BadgerStore)(nil)

// OpenBadgerStore opens or creates a store under dir.
func OpenBadgerStore(dir string, cacheSize int, log zerolog.Logger) (*BadgerStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(&badgerLogger{log: log.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, cstorage.NewStorageErrorWithCause(cstorage.ErrorTypePersistence, "failed to open badger database", err)
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	return &BadgerStore{
		db:    db,
		cache: cache,
		log:   log.With().Str("component", "store").Logger(),
	}, nil
}

// PersistBlock writes block at its height. Heights must be filled in order.
func (s *BadgerStore) PersistBlock(ctx context.Context, block *ctypes.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if block == nil {
		return cstorage.NewStorageError(cstorage.ErrorTypeInvalidData, "block cannot be nil")
	}

	data, err := codec.EncodeBlock(block)
	if err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeInvalidData, "failed to encode block", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existed := false
	err = s.db.Update(func(txn *badger.Txn) error {
		existing, err := getHash(txn, heightKey(block.Height))
		switch {
		case err == nil:
			if existing != block.Hash {
				return cstorage.NewStorageError(cstorage.ErrorTypeConflict,
					fmt.Sprintf("height %d already holds %s, refusing %s", block.Height, existing, block.Hash))
			}
			existed = true
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		tip, hasTip, err := getHeight(txn)
		if err != nil {
			return err
		}
		if (hasTip && block.Height != tip+1) || (!hasTip && block.Height != 0) {
			return cstorage.NewStorageError(cstorage.ErrorTypeInvalidData,
				fmt.Sprintf("height %d does not extend committed height %d", block.Height, tip))
		}

		if err := txn.Set(hashKey(block.Hash), data); err != nil {
			return err
		}
		if err := txn.Set(heightKey(block.Height), block.Hash[:]); err != nil {
			return err
		}
		if err := deletePendingUpTo(txn, block.Height); err != nil {
			return err
		}
		return txn.Set(keyCommittedHeight, encodeHeight(block.Height))
	})
	if err != nil {
		var storageErr *cstorage.StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypePersistence,
			fmt.Sprintf("failed to persist block at height %d", block.Height), err)
	}

	if !existed {
		s.cache.Add(block.Hash, block)
		s.log.Debug().
			Uint64("height", uint64(block.Height)).
			Str("block_hash", block.Hash.String()).
			Msg("Block persisted")
	}
	return nil
}

// GetBlock returns the persisted block with hash.
func (s *BadgerStore) GetBlock(hash ctypes.BlockHash) (*ctypes.Block, error) {
	if cached, ok := s.cache.Get(hash); ok {
		return cached.(*ctypes.Block), nil
	}

	var block *ctypes.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			b, err := codec.DecodeBlock(val)
			if err != nil {
				return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeCorruption,
					fmt.Sprintf("stored block %s does not decode", hash), err)
			}
			block = b
			return nil
		})
	})
	if err != nil {
		return nil, s.readError(err, fmt.Sprintf("block %s", hash))
	}

	s.cache.Add(hash, block)
	return block, nil
}

// GetBlockByHeight returns the persisted block at height.
func (s *BadgerStore) GetBlockByHeight(height ctypes.Height) (*ctypes.Block, error) {
	var hash ctypes.BlockHash
	err := s.db.View(func(txn *badger.Txn) error {
		h, err := getHash(txn, heightKey(height))
		hash = h
		return err
	})
	if err != nil {
		return nil, s.readError(err, fmt.Sprintf("height %d", height))
	}
	return s.GetBlock(hash)
}

// CommittedHeight returns the highest persisted height, 0 when empty.
func (s *BadgerStore) CommittedHeight() (ctypes.Height, error) {
	var height ctypes.Height
	err := s.db.View(func(txn *badger.Txn) error {
		h, _, err := getHeight(txn)
		height = h
		return err
	})
	if err != nil {
		return 0, s.readError(err, "committed height")
	}
	return height, nil
}

// StorePending durably records an uncommitted block.
func (s *BadgerStore) StorePending(ctx context.Context, block *ctypes.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if block == nil {
		return cstorage.NewStorageError(cstorage.ErrorTypeInvalidData, "block cannot be nil")
	}
	data, err := codec.EncodeBlock(block)
	if err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeInvalidData, "failed to encode block", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pendingKey(block.Height, block.Hash), data)
	})
	if err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypePersistence,
			fmt.Sprintf("failed to store pending block %s", block.Hash), err)
	}
	return nil
}

// PendingBlocks returns the uncommitted blocks in ascending height.
func (s *BadgerStore) PendingBlocks() ([]*ctypes.Block, error) {
	var blocks []*ctypes.Block
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefixPending); it.ValidForPrefix(prefixPending); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				b, err := codec.DecodeBlock(val)
				if err != nil {
					return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeCorruption, "stored pending block does not decode", err)
				}
				blocks = append(blocks, b)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.readError(err, "pending blocks")
	}
	return blocks, nil
}

// PutSafetyData durably replaces the safety record.
func (s *BadgerStore) PutSafetyData(ctx context.Context, data *ctypes.SafetyData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := codec.EncodeSafetyData(data)
	if err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeInvalidData, "failed to encode safety data", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySafetyData, encoded)
	})
	if err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypePersistence, "failed to persist safety data", err)
	}
	return nil
}

// GetSafetyData returns the last safety record or ErrNotFound.
func (s *BadgerStore) GetSafetyData() (*ctypes.SafetyData, error) {
	var sd *ctypes.SafetyData
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySafetyData)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := codec.DecodeSafetyData(val)
			if err != nil {
				return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeCorruption, "stored safety data does not decode", err)
			}
			sd = decoded
			return nil
		})
	})
	if err != nil {
		return nil, s.readError(err, "safety data")
	}
	return sd, nil
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	s.cache.Purge()
	if err := s.db.Close(); err != nil {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypePersistence, "failed to close badger database", err)
	}
	return nil
}

func (s *BadgerStore) readError(err error, what string) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeNotFound, what+" not found", err)
	}
	var storageErr *cstorage.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return cstorage.NewStorageErrorWithCause(cstorage.ErrorTypeRetrieval, "failed to read "+what, err)
}

func hashKey(hash ctypes.BlockHash) []byte {
	return append(append([]byte{}, prefixBlockByHash...), hash[:]...)
}

// heightKey is big-endian so keys sort by height.
func heightKey(height ctypes.Height) []byte {
	key := make([]byte, len(prefixBlockByHeight)+8)
	copy(key, prefixBlockByHeight)
	binary.BigEndian.PutUint64(key[len(prefixBlockByHeight):], uint64(height))
	return key
}

// pendingKey sorts pending blocks by height, then hash.
func pendingKey(height ctypes.Height, hash ctypes.BlockHash) []byte {
	key := make([]byte, 0, len(prefixPending)+8+len(hash))
	key = append(key, prefixPending...)
	key = append(key, encodeHeight(height)...)
	return append(key, hash[:]...)
}

func deletePendingUpTo(txn *badger.Txn, height ctypes.Height) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var stale [][]byte
	for it.Seek(prefixPending); it.ValidForPrefix(prefixPending); it.Next() {
		key := it.Item().KeyCopy(nil)
		h := ctypes.Height(binary.BigEndian.Uint64(key[len(prefixPending):]))
		if h > height {
			break
		}
		stale = append(stale, key)
	}
	it.Close()

	for _, key := range stale {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func encodeHeight(height ctypes.Height) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(height))
	return buf
}

func getHash(txn *badger.Txn, key []byte) (ctypes.BlockHash, error) {
	var hash ctypes.BlockHash
	item, err := txn.Get(key)
	if err != nil {
		return hash, err
	}
	err = item.Value(func(val []byte) error {
		if len(val) != len(hash) {
			return cstorage.NewStorageError(cstorage.ErrorTypeCorruption, "height index entry has wrong length")
		}
		copy(hash[:], val)
		return nil
	})
	return hash, err
}

func getHeight(txn *badger.Txn) (ctypes.Height, bool, error) {
	item, err := txn.Get(keyCommittedHeight)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var height ctypes.Height
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return cstorage.NewStorageError(cstorage.ErrorTypeCorruption, "committed height has wrong length")
		}
		height = ctypes.Height(binary.BigEndian.Uint64(val))
		return nil
	})
	return height, err == nil, err
}

// badgerLogger routes badger's internal logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}
