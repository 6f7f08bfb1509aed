package core

import (
	"encoding/json"
	"fmt"

	"finerp/native/access"
)

// handler runs one contract method for caller with JSON arguments and
// returns a JSON-encodable result.
type handler func(caller [20]byte, args json.RawMessage) (interface{}, error)

type method struct {
	view bool
	fn   handler
}

type methodTable map[string]method

func (t methodTable) mutation(name string, fn handler) { t[name] = method{fn: fn} }

func (t methodTable) view(name string, fn func(args json.RawMessage) (interface{}, error)) {
	t[name] = method{view: true, fn: func(_ [20]byte, args json.RawMessage) (interface{}, error) {
		return fn(args)
	}}
}

// Contract is a native module deployed at a fixed address.
type Contract interface {
	Name() string
	Address() [20]byte
	AuthorizeUpgrade(caller [20]byte) error
	methods() methodTable
}

// MethodInfo describes one callable method for discovery.
type MethodInfo struct {
	Name string `json:"name"`
	View bool   `json:"view"`
}

type roleArgs struct {
	Role    string  `json:"role"`
	Account Address `json:"account"`
}

func (a roleArgs) parse() (access.Role, error) {
	role, err := access.ParseRole(a.Role)
	if err != nil {
		return access.Role{}, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return role, nil
}

// addRoleMethods exposes the role table of a contract: grant, revoke and
// renounce plus membership views and the role id getters.
func addRoleMethods(t methodTable, roles func() *access.Controller, ids ...access.Role) {
	t.mutation("grantRole", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args roleArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		role, err := args.parse()
		if err != nil {
			return nil, err
		}
		return nil, roles().GrantRole(caller, role, args.Account)
	})
	t.mutation("revokeRole", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args roleArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		role, err := args.parse()
		if err != nil {
			return nil, err
		}
		return nil, roles().RevokeRole(caller, role, args.Account)
	})
	t.mutation("renounceRole", func(caller [20]byte, raw json.RawMessage) (interface{}, error) {
		var args roleArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		role, err := args.parse()
		if err != nil {
			return nil, err
		}
		return nil, roles().RenounceRole(caller, role, args.Account)
	})
	t.view("hasRole", func(raw json.RawMessage) (interface{}, error) {
		var args roleArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		role, err := args.parse()
		if err != nil {
			return nil, err
		}
		return roles().HasRole(role, args.Account)
	})
	t.view("getRoleMembers", func(raw json.RawMessage) (interface{}, error) {
		var args roleArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		role, err := args.parse()
		if err != nil {
			return nil, err
		}
		members, err := roles().Members(role)
		if err != nil {
			return nil, err
		}
		return addressList(members), nil
	})
	for _, id := range append([]access.Role{access.DefaultAdminRole}, ids...) {
		id := id
		t.view(id.Name(), func(json.RawMessage) (interface{}, error) {
			return id.Hex(), nil
		})
	}
}
