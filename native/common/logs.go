package common

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"

	"finerp/core/types"
)

// MustParseABI parses a JSON ABI definition at package init.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("abi: %v", err))
	}
	return parsed
}

// EncodeLog builds the EVM-style log for event name. values follow the
// declared input order; indexed inputs become topics and the rest are packed
// into data.
func EncodeLog(contractABI abi.ABI, contract [20]byte, name string, values ...interface{}) (*types.Log, error) {
	event, ok := contractABI.Events[name]
	if !ok {
		return nil, fmt.Errorf("abi: unknown event %s", name)
	}
	if len(values) != len(event.Inputs) {
		return nil, fmt.Errorf("abi: event %s expects %d values, got %d", name, len(event.Inputs), len(values))
	}
	var indexed, data []interface{}
	for i, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, values[i])
		} else {
			data = append(data, values[i])
		}
	}
	topics := []ethcommon.Hash{event.ID}
	if len(indexed) > 0 {
		query := make([][]interface{}, len(indexed))
		for i, v := range indexed {
			query[i] = []interface{}{v}
		}
		rules, err := abi.MakeTopics(query...)
		if err != nil {
			return nil, fmt.Errorf("abi: topics for %s: %w", name, err)
		}
		for _, rule := range rules {
			topics = append(topics, rule[0])
		}
	}
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, fmt.Errorf("abi: pack %s: %w", name, err)
	}
	return &types.Log{Address: ethcommon.Address(contract), Topics: topics, Data: packed}, nil
}

// AddressAttr formats a raw address as a lowercase 0x string for event attributes.
func AddressAttr(addr [20]byte) string {
	return strings.ToLower(ethcommon.Address(addr).Hex())
}
