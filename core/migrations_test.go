package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"finerp/core/state"
)

func TestMigrationPlan(t *testing.T) {
	registry := NewMigrationRegistry()
	var ran []string
	step := func(name string) Migration {
		return func(*state.Manager) error {
			ran = append(ran, name)
			return nil
		}
	}
	require.NoError(t, registry.Register(ContractEscrow, 1, 2, step("1-2")))
	require.NoError(t, registry.Register(ContractEscrow, 2, 4, step("2-4")))
	require.Error(t, registry.Register(ContractEscrow, 1, 3, step("dup")))
	require.ErrorIs(t, registry.Register(ContractEscrow, 3, 3, step("noop")), ErrDowngrade)

	plan, err := registry.Plan(ContractEscrow, 1, 4)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	for _, fn := range plan {
		require.NoError(t, fn(nil))
	}
	require.Equal(t, []string{"1-2", "2-4"}, ran)

	_, err = registry.Plan(ContractEscrow, 1, 3)
	require.ErrorIs(t, err, ErrNoMigrationPath)
	_, err = registry.Plan(ContractSwap, 1, 2)
	require.ErrorIs(t, err, ErrNoMigrationPath)
	_, err = registry.Plan(ContractEscrow, 4, 4)
	require.ErrorIs(t, err, ErrDowngrade)
}
