package approvals

import (
	"errors"
	"fmt"

	coreerrors "finerp/core/errors"
)

var (
	ErrAlreadyConfirmed = coreerrors.Invariant("approvals: already confirmed")
	ErrNotConfirmed     = coreerrors.StateMachine("approvals: not confirmed")
	errNilState         = errors.New("approvals: state not configured")
)

type gateState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
	KVRemove(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Gate records distinct confirmations per subject. A subject is whatever the
// owner needs a quorum on: an escrow task, a multisig transaction. Each
// approver counts at most once per subject.
type Gate struct {
	state     gateState
	namespace string
}

// New scopes a gate to namespace so two contracts never share confirmations.
func New(state gateState, namespace string) *Gate {
	return &Gate{state: state, namespace: namespace}
}

func (g *Gate) confirmKey(subject uint64, approver [20]byte) []byte {
	return []byte(fmt.Sprintf("approvals/%s/%d/%x", g.namespace, subject, approver))
}

func (g *Gate) countKey(subject uint64) []byte {
	return []byte(fmt.Sprintf("approvals/%s/%d/count", g.namespace, subject))
}

func (g *Gate) listKey(subject uint64) []byte {
	return []byte(fmt.Sprintf("approvals/%s/%d/confirmers", g.namespace, subject))
}

func (g *Gate) HasConfirmed(subject uint64, approver [20]byte) (bool, error) {
	if g.state == nil {
		return false, errNilState
	}
	var confirmed bool
	ok, err := g.state.KVGet(g.confirmKey(subject, approver), &confirmed)
	if err != nil {
		return false, err
	}
	return ok && confirmed, nil
}

func (g *Gate) Count(subject uint64) (uint64, error) {
	if g.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := g.state.KVGet(g.countKey(subject), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Confirm records approver for subject and returns the new count.
func (g *Gate) Confirm(subject uint64, approver [20]byte) (uint64, error) {
	confirmed, err := g.HasConfirmed(subject, approver)
	if err != nil {
		return 0, err
	}
	if confirmed {
		return 0, ErrAlreadyConfirmed
	}
	count, err := g.Count(subject)
	if err != nil {
		return 0, err
	}
	count++
	if err := g.state.KVPut(g.confirmKey(subject, approver), true); err != nil {
		return 0, err
	}
	if err := g.state.KVPut(g.countKey(subject), count); err != nil {
		return 0, err
	}
	if err := g.state.KVAppend(g.listKey(subject), approver[:]); err != nil {
		return 0, err
	}
	return count, nil
}

// Revoke withdraws approver's confirmation and returns the new count.
func (g *Gate) Revoke(subject uint64, approver [20]byte) (uint64, error) {
	confirmed, err := g.HasConfirmed(subject, approver)
	if err != nil {
		return 0, err
	}
	if !confirmed {
		return 0, ErrNotConfirmed
	}
	count, err := g.Count(subject)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		count--
	}
	if err := g.state.KVDelete(g.confirmKey(subject, approver)); err != nil {
		return 0, err
	}
	if err := g.state.KVPut(g.countKey(subject), count); err != nil {
		return 0, err
	}
	if err := g.state.KVRemove(g.listKey(subject), approver[:]); err != nil {
		return 0, err
	}
	return count, nil
}

// Reached reports whether subject has at least quorum confirmations.
func (g *Gate) Reached(subject uint64, quorum uint64) (bool, error) {
	count, err := g.Count(subject)
	if err != nil {
		return false, err
	}
	return count >= quorum, nil
}

// Confirmers lists the approvers of subject in confirmation order.
func (g *Gate) Confirmers(subject uint64) ([][20]byte, error) {
	if g.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := g.state.KVGetList(g.listKey(subject), &raw); err != nil {
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
