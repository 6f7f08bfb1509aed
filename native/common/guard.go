package common

import (
	"errors"

	coreerrors "finerp/core/errors"
)

var (
	ErrModulePaused  = coreerrors.StateMachine("module paused")
	ErrReentrantCall = coreerrors.Invariant("reentrant call")
	errGuardNotHeld  = errors.New("reentrancy guard released twice")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard is a per-contract lock flag held for the duration of one
// logical operation. Execution is single threaded, so the flag only trips
// when a callee re-enters the contract through an outbound call.
type ReentrancyGuard struct {
	entered bool
}

// Enter takes the lock or fails fast with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	return nil
}

// Exit releases the lock taken by Enter.
func (g *ReentrancyGuard) Exit() error {
	if !g.entered {
		return errGuardNotHeld
	}
	g.entered = false
	return nil
}

// Locked reports whether an operation is in flight.
func (g *ReentrancyGuard) Locked() bool { return g.entered }

// NonReentrant runs fn while holding the guard.
func (g *ReentrancyGuard) NonReentrant(fn func() error) error {
	if err := g.Enter(); err != nil {
		return err
	}
	defer func() { _ = g.Exit() }()
	return fn()
}

// Snapshotter is the subset of the state manager needed to make a call
// all-or-nothing.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int) error
	DiscardSnapshot(id int)
}

// Atomic runs fn inside a state snapshot and rolls back every write when fn
// fails.
func Atomic(s Snapshotter, fn func() error) error {
	if s == nil {
		return fn()
	}
	id := s.Snapshot()
	if err := fn(); err != nil {
		if revertErr := s.RevertToSnapshot(id); revertErr != nil {
			return errors.Join(err, revertErr)
		}
		return err
	}
	s.DiscardSnapshot(id)
	return nil
}
