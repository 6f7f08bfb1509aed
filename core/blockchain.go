package core

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"finerp/core/types"
	"finerp/storage"
)

var (
	headKey             = []byte("chain/head")
	blockByHeightPrefix = []byte("chain/block/")
	heightByHashPrefix  = []byte("chain/hash/")
	receiptPrefix       = []byte("chain/receipt/")
)

var (
	ErrBlockNotFound   = errors.New("chain: block not found")
	ErrReceiptNotFound = errors.New("chain: receipt not found")
	ErrParentMismatch  = errors.New("chain: block parent mismatch")
)

func heightBytes(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}

func prefixed(prefix, key []byte) []byte {
	buf := make([]byte, len(prefix)+len(key))
	copy(buf, prefix)
	copy(buf[len(prefix):], key)
	return buf
}

// Blockchain stores sealed blocks and receipts in the node's key-value store.
// Blocks are JSON encoded; the head pointer is the height of the last block.
type Blockchain struct {
	db   storage.Database
	head *types.Block
	mu   sync.RWMutex
}

// NewBlockchain opens the block store, loading the head if one exists.
func NewBlockchain(db storage.Database) (*Blockchain, error) {
	bc := &Blockchain{db: db}
	raw, err := db.Get(headKey)
	if errors.Is(err, storage.ErrNotFound) {
		return bc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	if len(raw) != 8 {
		return nil, fmt.Errorf("load chain head: corrupt pointer")
	}
	head, err := bc.BlockByNumber(binary.BigEndian.Uint64(raw))
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	bc.head = head
	return bc, nil
}

// AddBlock validates linkage to the current head and persists the block, its
// receipt and the new head pointer.
func (bc *Blockchain) AddBlock(b *types.Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.head != nil {
		if b.Header.ParentHash != bc.head.Hash || b.Header.Height != bc.head.Header.Height+1 {
			return ErrParentMismatch
		}
	} else if b.Header.Height != 0 {
		return ErrParentMismatch
	}

	encoded, err := json.Marshal(b)
	if err != nil {
		return err
	}
	height := heightBytes(b.Header.Height)
	if err := bc.db.Put(prefixed(blockByHeightPrefix, height), encoded); err != nil {
		return err
	}
	if err := bc.db.Put(prefixed(heightByHashPrefix, b.Hash.Bytes()), height); err != nil {
		return err
	}
	if b.Receipt != nil {
		receipt, err := json.Marshal(b.Receipt)
		if err != nil {
			return err
		}
		if err := bc.db.Put(prefixed(receiptPrefix, b.Receipt.TxHash.Bytes()), receipt); err != nil {
			return err
		}
	}
	if err := bc.db.Put(headKey, height); err != nil {
		return err
	}
	bc.head = b
	return nil
}

func (bc *Blockchain) BlockByNumber(height uint64) (*types.Block, error) {
	raw, err := bc.db.Get(prefixed(blockByHeightPrefix, heightBytes(height)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	var block types.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (bc *Blockchain) BlockByHash(hash common.Hash) (*types.Block, error) {
	raw, err := bc.db.Get(prefixed(heightByHashPrefix, hash.Bytes()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash.Hex())
	}
	if err != nil {
		return nil, err
	}
	return bc.BlockByNumber(binary.BigEndian.Uint64(raw))
}

// Receipt returns the receipt of a sealed transaction.
func (bc *Blockchain) Receipt(txHash common.Hash) (*types.Receipt, error) {
	raw, err := bc.db.Get(prefixed(receiptPrefix, txHash.Bytes()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, txHash.Hex())
	}
	if err != nil {
		return nil, err
	}
	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Head returns the last sealed block or nil before genesis.
func (bc *Blockchain) Head() *types.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head
}

func (bc *Blockchain) Height() uint64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.head == nil {
		return 0
	}
	return bc.head.Header.Height
}
