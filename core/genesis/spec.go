package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"finerp/crypto"
	"finerp/native/ledger"
)

var ErrInvalidSpec = errors.New("genesis: invalid spec")

// Spec is the YAML genesis document. Amounts are whole ledger units and may
// carry a fractional part; addresses are bech32 or 0x hex.
type Spec struct {
	ChainID     uint64            `yaml:"chainId"`
	GenesisTime string            `yaml:"genesisTime"`
	Admin       string            `yaml:"admin"`
	Token       TokenSpec         `yaml:"token"`
	Stable      TokenSpec         `yaml:"stable"`
	Multisig    MultisigSpec      `yaml:"multisig"`
	Balances    map[string]string `yaml:"balances"`
	Allocations []AllocationSpec  `yaml:"allocations"`
	Roles       []RoleGrantSpec   `yaml:"roles"`
	Paused      []string          `yaml:"paused"`

	timestamp time.Time
	admin     [20]byte
}

type TokenSpec struct {
	Name      string `yaml:"name"`
	Symbol    string `yaml:"symbol"`
	MaxSupply string `yaml:"maxSupply"`
}

type MultisigSpec struct {
	Owners   []string `yaml:"owners"`
	Required uint64   `yaml:"required"`
}

// AllocationSpec moves tokens out of the admin's initial supply.
type AllocationSpec struct {
	Token  string `yaml:"token"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
}

// RoleGrantSpec grants role on contract to account, signed by the admin.
type RoleGrantSpec struct {
	Contract string `yaml:"contract"`
	Role     string `yaml:"role"`
	Account  string `yaml:"account"`
}

// Load reads and validates the genesis document at path.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// Parse decodes a YAML genesis document. Unknown keys are rejected.
func Parse(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidSpec, fmt.Sprintf(format, args...))
}

// Validate checks every field and caches the parsed timestamp and admin.
func (s *Spec) Validate() error {
	if s.ChainID == 0 {
		return invalid("chainId must be set")
	}
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.timestamp = ts

	admin, err := parseAccount(s.Admin)
	if err != nil {
		return invalid("admin: %v", err)
	}
	s.admin = admin

	if _, err := s.Token.Config(ledger.FINConfig()); err != nil {
		return invalid("token: %v", err)
	}
	if _, err := s.Stable.Config(StableDefaults()); err != nil {
		return invalid("stable: %v", err)
	}

	seen := make(map[[20]byte]struct{}, len(s.Multisig.Owners))
	for i, owner := range s.Multisig.Owners {
		addr, err := parseAccount(owner)
		if err != nil {
			return invalid("multisig.owners[%d]: %v", i, err)
		}
		if _, dup := seen[addr]; dup {
			return invalid("multisig.owners[%d]: duplicate owner %q", i, owner)
		}
		seen[addr] = struct{}{}
	}
	if len(s.Multisig.Owners) > 0 && (s.Multisig.Required == 0 || s.Multisig.Required > uint64(len(s.Multisig.Owners))) {
		return invalid("multisig.required must be between 1 and %d", len(s.Multisig.Owners))
	}

	for account, amount := range s.Balances {
		if _, err := parseAccount(account); err != nil {
			return invalid("balances[%q]: %v", account, err)
		}
		if _, err := ledger.ParseUnits(amount); err != nil {
			return invalid("balances[%q]: %v", account, err)
		}
	}
	for i, alloc := range s.Allocations {
		if strings.TrimSpace(alloc.Token) == "" {
			return invalid("allocations[%d]: token must be provided", i)
		}
		if _, err := parseAccount(alloc.To); err != nil {
			return invalid("allocations[%d]: %v", i, err)
		}
		if _, err := ledger.ParseUnits(alloc.Amount); err != nil {
			return invalid("allocations[%d]: %v", i, err)
		}
	}
	for i, grant := range s.Roles {
		if strings.TrimSpace(grant.Contract) == "" || strings.TrimSpace(grant.Role) == "" {
			return invalid("roles[%d]: contract and role must be provided", i)
		}
		if _, err := parseAccount(grant.Account); err != nil {
			return invalid("roles[%d]: %v", i, err)
		}
	}
	return nil
}

// Timestamp is the genesis block time.
func (s *Spec) Timestamp() time.Time { return s.timestamp }

// AdminAddress is the account that receives both token supplies and every
// contract's admin role.
func (s *Spec) AdminAddress() [20]byte { return s.admin }

// MultisigOwners returns the configured owners and quorum, defaulting to the
// admin alone with a quorum of one.
func (s *Spec) MultisigOwners() ([][20]byte, uint64) {
	if len(s.Multisig.Owners) == 0 {
		return [][20]byte{s.admin}, 1
	}
	owners := make([][20]byte, 0, len(s.Multisig.Owners))
	for _, owner := range s.Multisig.Owners {
		addr, _ := parseAccount(owner)
		owners = append(owners, addr)
	}
	return owners, s.Multisig.Required
}

// StableDefaults is the reference stable asset paired with FIN in the swap
// pool.
func StableDefaults() ledger.Config {
	return ledger.Config{Name: "FinERP USD", Symbol: "FUSD", MaxSupply: ledger.Units(1_000_000_000)}
}

// Config overlays the token fields that are set onto defaults.
func (t TokenSpec) Config(defaults ledger.Config) (ledger.Config, error) {
	cfg := defaults
	if name := strings.TrimSpace(t.Name); name != "" {
		cfg.Name = name
	}
	if symbol := strings.TrimSpace(t.Symbol); symbol != "" {
		cfg.Symbol = symbol
	}
	if strings.TrimSpace(t.MaxSupply) != "" {
		supply, err := ledger.ParseUnits(t.MaxSupply)
		if err != nil {
			return ledger.Config{}, err
		}
		if supply.Sign() == 0 {
			return ledger.Config{}, fmt.Errorf("maxSupply must be positive")
		}
		cfg.MaxSupply = supply
	}
	return cfg, nil
}

// ParseAccount decodes a bech32 or 0x hex account and rejects the zero
// address.
func ParseAccount(s string) ([20]byte, error) { return parseAccount(s) }

func parseAccount(s string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(s)
	if err != nil {
		return addr, err
	}
	if addr == ([20]byte{}) {
		return addr, fmt.Errorf("zero address")
	}
	return addr, nil
}

// ParseAmount converts a whole-unit amount to base units.
func ParseAmount(s string) (*big.Int, error) { return ledger.ParseUnits(s) }

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, invalid("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, invalid("genesisTime: %v", err)
	}
	if ts.Unix() < 0 {
		return time.Time{}, invalid("genesisTime before unix epoch")
	}
	return ts.UTC(), nil
}
