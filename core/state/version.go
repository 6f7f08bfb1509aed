package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the schema layout of chain-level records (block
// pointers, nonces, contract registry). Contract modules track their own
// versions through ModuleVersion.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("state/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

func moduleVersionKey(module string) []byte {
	return []byte("state/module-version/" + module)
}

func (m *Manager) SetStateVersion(version uint32) error {
	return m.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and whether it was present.
func (m *Manager) StateVersion() (uint32, bool, error) {
	return m.readVersion(stateVersionKey)
}

// SetModuleVersion records the schema version a contract module's state was
// last migrated to.
func (m *Manager) SetModuleVersion(module string, version uint32) error {
	if module == "" {
		return fmt.Errorf("state: module name required")
	}
	return m.KVPut(moduleVersionKey(module), uint64(version))
}

// ModuleVersion returns the recorded schema version for module, or zero.
func (m *Manager) ModuleVersion(module string) (uint32, error) {
	version, _, err := m.readVersion(moduleVersionKey(module))
	return version, err
}

func (m *Manager) readVersion(key []byte) (uint32, bool, error) {
	var stored uint64
	ok, err := m.KVGet(key, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the on-disk state version matches the
// version supported by this binary. An empty state is accepted.
func (m *Manager) EnsureStateVersion() error {
	version, ok, err := m.StateVersion()
	if err != nil {
		return err
	}
	if !ok || version == StateVersion {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
