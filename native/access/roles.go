package access

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	coreerrors "finerp/core/errors"
	"finerp/core/events"
	"finerp/core/types"
	nativecommon "finerp/native/common"
)

// Role identifies a capability. Ids are keccak256 of the role name so they
// match the bytes32 constants an EVM client expects.
type Role [32]byte

// DefaultAdminRole administers every other role.
var DefaultAdminRole Role

func RoleID(name string) Role {
	return Role(ethcrypto.Keccak256Hash([]byte(name)))
}

var (
	MinterRole   = RoleID("MINTER_ROLE")
	PauserRole   = RoleID("PAUSER_ROLE")
	ManagerRole  = RoleID("MANAGER_ROLE")
	ApproverRole = RoleID("APPROVER_ROLE")
)

var roleNames = map[Role]string{
	DefaultAdminRole: "DEFAULT_ADMIN_ROLE",
	MinterRole:       "MINTER_ROLE",
	PauserRole:       "PAUSER_ROLE",
	ManagerRole:      "MANAGER_ROLE",
	ApproverRole:     "APPROVER_ROLE",
}

// Name returns the well-known role name or the hex id.
func (r Role) Name() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return r.Hex()
}

func (r Role) Hex() string { return ethcommon.Hash(r).Hex() }

// ParseRole accepts a well-known role name or a 0x-prefixed 32 byte id.
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	if len(s) == 66 && (s[:2] == "0x" || s[:2] == "0X") {
		return Role(ethcommon.HexToHash(s)), nil
	}
	return Role{}, fmt.Errorf("access: unknown role %q", s)
}

var (
	ErrUnauthorized = coreerrors.Authorization("access: unauthorized")
	ErrRenounceSelf = coreerrors.Authorization("access: can only renounce roles for self")
)

const (
	EventTypeRoleGranted = "access.role_granted"
	EventTypeRoleRevoked = "access.role_revoked"
)

var accessABI = nativecommon.MustParseABI(`[
  {"type":"event","name":"RoleGranted","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]},
  {"type":"event","name":"RoleRevoked","inputs":[
    {"name":"role","type":"bytes32","indexed":true},
    {"name":"account","type":"address","indexed":true},
    {"name":"sender","type":"address","indexed":true}]}
]`)

type store interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Controller is the role table of one contract. It is the only place role
// state is read or written.
type Controller struct {
	state    store
	contract [20]byte
	emitter  events.Emitter
}

func NewController(state store, contract [20]byte, emitter events.Emitter) *Controller {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Controller{state: state, contract: contract, emitter: emitter}
}

func (c *Controller) memberKey(role Role, account [20]byte) []byte {
	return []byte(fmt.Sprintf("access/%x/%x/%x", c.contract, role, account))
}

func (c *Controller) membersKey(role Role) []byte {
	return []byte(fmt.Sprintf("access/%x/%x/members", c.contract, role))
}

func (c *Controller) HasRole(role Role, account [20]byte) (bool, error) {
	var member bool
	ok, err := c.state.KVGet(c.memberKey(role, account), &member)
	if err != nil {
		return false, err
	}
	return ok && member, nil
}

// Require fails with ErrUnauthorized unless account holds role.
func (c *Controller) Require(role Role, account [20]byte) error {
	ok, err := c.HasRole(role, account)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, nativecommon.AddressAttr(account), role.Name())
	}
	return nil
}

// RequireAny passes when account holds at least one of roles.
func (c *Controller) RequireAny(account [20]byte, roles ...Role) error {
	for _, role := range roles {
		ok, err := c.HasRole(role, account)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnauthorized, nativecommon.AddressAttr(account))
}

// Setup grants role without an authorization check. Only initializers call it.
func (c *Controller) Setup(role Role, account [20]byte, sender [20]byte) error {
	return c.grant(role, account, sender)
}

func (c *Controller) GrantRole(caller [20]byte, role Role, account [20]byte) error {
	if err := c.Require(DefaultAdminRole, caller); err != nil {
		return err
	}
	return c.grant(role, account, caller)
}

func (c *Controller) RevokeRole(caller [20]byte, role Role, account [20]byte) error {
	if err := c.Require(DefaultAdminRole, caller); err != nil {
		return err
	}
	return c.revoke(role, account, caller)
}

func (c *Controller) RenounceRole(caller [20]byte, role Role, account [20]byte) error {
	if caller != account {
		return ErrRenounceSelf
	}
	return c.revoke(role, account, caller)
}

// Members lists current holders of role in grant order.
func (c *Controller) Members(role Role) ([][20]byte, error) {
	var raw [][]byte
	if err := c.state.KVGetList(c.membersKey(role), &raw); err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(raw))
	for _, entry := range raw {
		var addr [20]byte
		copy(addr[:], entry)
		out = append(out, addr)
	}
	return out, nil
}

func (c *Controller) grant(role Role, account, sender [20]byte) error {
	held, err := c.HasRole(role, account)
	if err != nil || held {
		return err
	}
	if err := c.state.KVPut(c.memberKey(role, account), true); err != nil {
		return err
	}
	if err := c.state.KVAppend(c.membersKey(role), account[:]); err != nil {
		return err
	}
	return c.emit(EventTypeRoleGranted, "RoleGranted", role, account, sender)
}

func (c *Controller) revoke(role Role, account, sender [20]byte) error {
	held, err := c.HasRole(role, account)
	if err != nil || !held {
		return err
	}
	if err := c.state.KVDelete(c.memberKey(role, account)); err != nil {
		return err
	}
	if err := c.state.KVRemove(c.membersKey(role), account[:]); err != nil {
		return err
	}
	return c.emit(EventTypeRoleRevoked, "RoleRevoked", role, account, sender)
}

func (c *Controller) emit(eventType, logName string, role Role, account, sender [20]byte) error {
	log, err := nativecommon.EncodeLog(accessABI, c.contract, logName,
		ethcommon.Hash(role), ethcommon.Address(account), ethcommon.Address(sender))
	if err != nil {
		return err
	}
	c.emitter.Emit(events.Wrap{Evt: &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"contract": nativecommon.AddressAttr(c.contract),
			"role":     role.Name(),
			"account":  nativecommon.AddressAttr(account),
			"sender":   nativecommon.AddressAttr(sender),
		},
		Log: log,
	}})
	return nil
}
