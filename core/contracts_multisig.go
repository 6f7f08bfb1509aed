package core

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"finerp/native/multisig"
)

type multisigContract struct {
	wallet *multisig.Wallet
	table  methodTable
}

func newMultisigContract(wallet *multisig.Wallet) *multisigContract {
	c := &multisigContract{wallet: wallet, table: methodTable{}}
	c.register()
	return c
}

func (c *multisigContract) Name() string { return ContractMultisig }

func (c *multisigContract) Address() [20]byte { return c.wallet.Address() }

func (c *multisigContract) AuthorizeUpgrade(caller [20]byte) error {
	return c.wallet.AuthorizeUpgrade(caller)
}

func (c *multisigContract) methods() methodTable { return c.table }

type multisigArgs struct {
	TxID     uint64        `json:"txId"`
	To       Address       `json:"to"`
	Value    Amount        `json:"value"`
	Data     hexutil.Bytes `json:"data"`
	Call     *NestedCall   `json:"call"`
	Owner    Address       `json:"owner"`
	Required uint64        `json:"required"`
	Account  Address       `json:"account"`
}

// payload returns the stored call data. A structured call takes precedence
// over raw bytes.
func (a multisigArgs) payload() ([]byte, error) {
	if a.Call != nil {
		return json.Marshal(a.Call)
	}
	return a.Data, nil
}

func (c *multisigContract) register() {
	w := c.wallet
	t := c.table
	decode := func(raw json.RawMessage) (multisigArgs, error) {
		var args multisigArgs
		err := decodeArgs(raw, &args)
		return args, err
	}

	t.mutation("submitTransaction", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		data, err := args.payload()
		if err != nil {
			return nil, err
		}
		id, err := w.SubmitTransaction(caller, args.To, args.Value.Big(), data)
		if err != nil {
			return nil, err
		}
		return map[string]uint64{"txId": id}, nil
	})
	t.mutation("confirmTransaction", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, w.ConfirmTransaction(caller, args.TxID)
	})
	t.mutation("revokeConfirmation", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, w.RevokeConfirmation(caller, args.TxID)
	})
	t.mutation("executeTransaction", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out, err := w.ExecuteTransaction(caller, args.TxID)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, nil
		}
		return json.RawMessage(out), nil
	})
	t.mutation("addOwner", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, w.AddOwner(caller, args.Owner)
	})
	t.mutation("removeOwner", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, w.RemoveOwner(caller, args.Owner)
	})
	t.mutation("changeRequirement", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return nil, w.ChangeRequirement(caller, args.Required)
	})

	t.view("getTransaction", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		tx, err := w.GetTransaction(args.TxID)
		if err != nil {
			return nil, err
		}
		confirmers, err := w.Confirmations(args.TxID)
		if err != nil {
			return nil, err
		}
		return multisigTxView(tx, confirmers), nil
	})
	t.view("getTransactionCount", func(json.RawMessage) (interface{}, error) {
		return w.TransactionCount()
	})
	t.view("getConfirmations", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		confirmers, err := w.Confirmations(args.TxID)
		if err != nil {
			return nil, err
		}
		return addressList(confirmers), nil
	})
	t.view("getOwners", func(json.RawMessage) (interface{}, error) {
		owners, err := w.Owners()
		if err != nil {
			return nil, err
		}
		return addressList(owners), nil
	})
	t.view("required", func(json.RawMessage) (interface{}, error) {
		return w.Required()
	})
	t.view("isOwner", func(raw json.RawMessage) (interface{}, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return w.IsOwner(args.Account)
	})
}
