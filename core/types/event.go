package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Event represents a typed event emitted during state transitions. Log carries
// the ABI-encoded form for consumers that index EVM-style topics.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Log        *Log              `json:"log,omitempty"`
}

// Log mirrors an EVM log: topic zero is the event signature hash, indexed
// arguments follow, non-indexed arguments are ABI-packed into Data.
type Log struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}
