package types

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockHeader commits to the parent, the resulting state and the single
// transaction sealed in the block.
type BlockHeader struct {
	Height     uint64      `json:"height"`
	Timestamp  uint64      `json:"timestamp"`
	ParentHash common.Hash `json:"parentHash"`
	StateRoot  common.Hash `json:"stateRoot"`
	TxHash     common.Hash `json:"txHash"`
}

// Hash calculates the keccak256 hash of the RLP-encoded header.
func (h *BlockHeader) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// ReceiptStatus reports whether the transaction's effects were kept.
type ReceiptStatus uint8

const (
	ReceiptFailed  ReceiptStatus = 0
	ReceiptSuccess ReceiptStatus = 1
)

// Receipt records the outcome of one transaction.
type Receipt struct {
	TxHash    common.Hash     `json:"txHash"`
	BlockHash common.Hash     `json:"blockHash"`
	Height    uint64          `json:"height"`
	From      common.Address  `json:"from"`
	To        common.Address  `json:"to"`
	Method    string          `json:"method,omitempty"`
	Status    ReceiptStatus   `json:"status"`
	Error     string          `json:"error,omitempty"`
	ErrorKind string          `json:"errorKind,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Events    []*Event        `json:"events"`
}

// Block is a sealed header plus the receipt of its transaction.
type Block struct {
	Header  *BlockHeader `json:"header"`
	Hash    common.Hash  `json:"hash"`
	Receipt *Receipt     `json:"receipt,omitempty"`
}
