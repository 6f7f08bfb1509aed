package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOfUnwraps(t *testing.T) {
	sentinel := Timing("escrow: timelock not expired")
	wrapped := fmt.Errorf("process refund 4: %w", sentinel)

	require.True(t, stderrors.Is(wrapped, sentinel))
	require.Equal(t, KindTiming, KindOf(wrapped))
	require.True(t, Retryable(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	require.Equal(t, KindUnknown, KindOf(stderrors.New("boom")))
	require.Equal(t, KindUnknown, KindOf(nil))
	require.False(t, Retryable(Authorization("nope")))
}

func TestSentinelsWithSameMessageAreDistinct(t *testing.T) {
	a := Invariant("ledger: insufficient balance")
	b := Invariant("ledger: insufficient balance")
	require.False(t, stderrors.Is(a, b))
	require.Equal(t, "invariant", KindOf(a).String())
}
