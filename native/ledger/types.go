package ledger

import (
	"math/big"
	"strings"
)

// Decimals is the precision of every ledger instance deployed by the node.
const Decimals = 18

// Unit is one whole ledger unit expressed in base units.
var Unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// MaxSupply is the FIN supply cap: 100,000,000 units.
var MaxSupply = Units(100_000_000)

// Units converts whole ledger units to base units.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Unit)
}

// Config describes one token instance.
type Config struct {
	Name      string
	Symbol    string
	MaxSupply *big.Int
}

// FINConfig is the settlement token.
func FINConfig() Config {
	return Config{Name: "FinERP Token", Symbol: "FIN", MaxSupply: new(big.Int).Set(MaxSupply)}
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Symbol) == "" {
		return ErrInvalidConfig
	}
	if c.MaxSupply == nil || c.MaxSupply.Sign() <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Metadata is the persisted header of a token instance.
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	MaxSupply   *big.Int
	TotalSupply *big.Int
	Paused      bool
	PauseReason string
	Initialized bool
}
