package swap

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func (e *Engine) settingsKey() []byte {
	return []byte(fmt.Sprintf("swap/%x/settings", e.address))
}

func (e *Engine) poolKey(id ethcommon.Hash) []byte {
	return []byte(fmt.Sprintf("swap/%x/pool/%x", e.address, id))
}

func (e *Engine) poolIndexKey() []byte {
	return []byte(fmt.Sprintf("swap/%x/pools", e.address))
}

func (e *Engine) sharesKey(id ethcommon.Hash, provider [20]byte) []byte {
	return []byte(fmt.Sprintf("swap/%x/shares/%x/%x", e.address, id, provider))
}
