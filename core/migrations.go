package core

import (
	"fmt"
	"sync"

	coreerrors "finerp/core/errors"
	"finerp/core/state"
)

// Migration rewrites a contract's persisted records from one schema version
// to the next.
type Migration func(st *state.Manager) error

var (
	ErrNoMigrationPath = coreerrors.StateMachine("chain: no migration path")
	ErrDowngrade       = coreerrors.Validation("chain: target version is not newer")
)

type migrationKey struct {
	contract string
	from     uint32
}

type migrationStep struct {
	to uint32
	fn Migration
}

// MigrationRegistry holds the upgrade steps per contract. Each step moves
// exactly one version forward from its source.
type MigrationRegistry struct {
	mu    sync.RWMutex
	steps map[migrationKey]migrationStep
}

func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{steps: make(map[migrationKey]migrationStep)}
}

func (r *MigrationRegistry) Register(contract string, from, to uint32, fn Migration) error {
	if to <= from {
		return fmt.Errorf("%w: %s %d -> %d", ErrDowngrade, contract, from, to)
	}
	if fn == nil {
		return fmt.Errorf("migration %s %d -> %d: nil function", contract, from, to)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := migrationKey{contract: contract, from: from}
	if _, exists := r.steps[key]; exists {
		return fmt.Errorf("migration %s from %d already registered", contract, from)
	}
	r.steps[key] = migrationStep{to: to, fn: fn}
	return nil
}

// Plan returns the ordered steps from current to target.
func (r *MigrationRegistry) Plan(contract string, current, target uint32) ([]Migration, error) {
	if target <= current {
		return nil, fmt.Errorf("%w: %s at %d, requested %d", ErrDowngrade, contract, current, target)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var plan []Migration
	for version := current; version < target; {
		step, ok := r.steps[migrationKey{contract: contract, from: version}]
		if !ok || step.to > target {
			return nil, fmt.Errorf("%w: %s %d -> %d", ErrNoMigrationPath, contract, version, target)
		}
		plan = append(plan, step.fn)
		version = step.to
	}
	return plan, nil
}
