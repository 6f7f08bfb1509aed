package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"finerp/core/events"
	"finerp/core/state"
	"finerp/storage"
	"finerp/storage/trie"
)

func newBank(t *testing.T) (*Bank, *events.Buffer) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	buf := &events.Buffer{}
	return New(state.NewManager(tr), buf), buf
}

func TestTransfer(t *testing.T) {
	b, buf := newBank(t)
	alice, bob := [20]byte{0x01}, [20]byte{0x02}
	require.NoError(t, b.Credit(alice, big.NewInt(100)))
	require.NoError(t, b.Transfer(alice, bob, big.NewInt(40)))

	balance, err := b.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60), balance)
	balance, err = b.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(40), balance)

	evts := buf.Drain()
	require.Len(t, evts, 2)
	require.Equal(t, EventTypeTransfer, evts[1].Type)
	require.Equal(t, "40", evts[1].Attributes["amount"])
}

func TestTransferRejects(t *testing.T) {
	b, _ := newBank(t)
	alice := [20]byte{0x01}
	require.ErrorIs(t, b.Transfer(alice, [20]byte{0x02}, big.NewInt(1)), ErrInsufficientBalance)
	require.ErrorIs(t, b.Transfer(alice, [20]byte{}, big.NewInt(1)), ErrZeroAddress)
	require.Error(t, b.Credit(alice, big.NewInt(-1)))
	require.NoError(t, b.Transfer(alice, [20]byte{0x02}, big.NewInt(0)))
}
