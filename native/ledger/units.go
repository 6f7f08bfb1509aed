package ledger

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseUnits converts a decimal amount of whole units ("1500", "0.25") into
// base units. At most Decimals fractional digits are accepted.
func ParseUnits(s string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: empty amount")
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if hasFrac && (frac == "" || len(frac) > Decimals) {
		return nil, fmt.Errorf("ledger: invalid amount %q", s)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	out, ok := new(big.Int).SetString(digits, 10)
	if !ok || out.Sign() < 0 || strings.ContainsAny(digits, "+-") {
		return nil, fmt.Errorf("ledger: invalid amount %q", s)
	}
	return out, nil
}

// FormatUnits renders base units as whole units, trimming trailing zeros of
// the fractional part.
func FormatUnits(v *big.Int) string {
	if v == nil {
		return "0"
	}
	quo, rem := new(big.Int).QuoRem(new(big.Int).Abs(v), Unit, new(big.Int))
	sign := ""
	if v.Sign() < 0 {
		sign = "-"
	}
	if rem.Sign() == 0 {
		return sign + quo.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", Decimals-len(frac)) + frac
	return sign + quo.String() + "." + strings.TrimRight(frac, "0")
}
