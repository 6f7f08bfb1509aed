package crypto

import (
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressBech32AndHex(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.PubKey().Address()
	encoded := addr.String()
	require.True(t, strings.HasPrefix(encoded, "fin1"))

	fromBech, err := ParseAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), fromBech)

	fromHex, err := ParseAddress("0x" + hex.EncodeToString(addr.Bytes()))
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), fromHex)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("")
	require.Error(t, err)
}

func TestContractAddressDeterministic(t *testing.T) {
	require.Equal(t, ContractAddress("escrow"), ContractAddress("escrow"))
	require.NotEqual(t, ContractAddress("escrow"), ContractAddress("swap"))
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	require.NoError(t, SaveToKeystore(path, key, "correct horse", LightScrypt))

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
