package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	ErrMissingSignature = errors.New("types: transaction not signed")
	ErrInvalidSignature = errors.New("types: invalid transaction signature")
)

// Transaction invokes one method on one contract. An empty Method is a bare
// native value transfer to To.
type Transaction struct {
	ChainID   uint64
	Nonce     uint64
	To        [20]byte
	Value     *big.Int
	Method    string
	Args      []byte // JSON-encoded method arguments
	Signature []byte

	from *[20]byte
}

type unsignedTx struct {
	ChainID uint64
	Nonce   uint64
	To      [20]byte
	Value   *big.Int
	Method  string
	Args    []byte
}

func (tx *Transaction) value() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

// Hash is the keccak256 digest of the RLP-encoded unsigned fields; it is the
// message that gets signed and the identifier receipts are stored under.
func (tx *Transaction) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(unsignedTx{
		ChainID: tx.ChainID,
		Nonce:   tx.Nonce,
		To:      tx.To,
		Value:   tx.value(),
		Method:  tx.Method,
		Args:    tx.Args,
	})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), privKey)
	if err != nil {
		return err
	}
	tx.Signature = sig
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() ([20]byte, error) {
	if tx.from != nil {
		return *tx.from, nil
	}
	if len(tx.Signature) == 0 {
		return [20]byte{}, ErrMissingSignature
	}
	if len(tx.Signature) != crypto.SignatureLength {
		return [20]byte{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(tx.Signature))
	}
	hash, err := tx.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	pubKey, err := crypto.SigToPub(hash.Bytes(), tx.Signature)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	addr := [20]byte(crypto.PubkeyToAddress(*pubKey))
	tx.from = &addr
	return addr, nil
}

type wireTx struct {
	ChainID   uint64
	Nonce     uint64
	To        [20]byte
	Value     *big.Int
	Method    string
	Args      []byte
	Signature []byte
}

// Encode returns the RLP wire form submitted through fin_sendRawTransaction.
func (tx *Transaction) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(wireTx{
		ChainID:   tx.ChainID,
		Nonce:     tx.Nonce,
		To:        tx.To,
		Value:     tx.value(),
		Method:    tx.Method,
		Args:      tx.Args,
		Signature: tx.Signature,
	})
}

func DecodeTransaction(raw []byte) (*Transaction, error) {
	var w wireTx
	if err := rlp.DecodeBytes(raw, &w); err != nil {
		return nil, fmt.Errorf("types: decode transaction: %w", err)
	}
	return &Transaction{
		ChainID:   w.ChainID,
		Nonce:     w.Nonce,
		To:        w.To,
		Value:     w.Value,
		Method:    w.Method,
		Args:      w.Args,
		Signature: w.Signature,
	}, nil
}
