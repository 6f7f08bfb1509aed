package main

import (
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"finerp/native/ledger"
)

var printer = message.NewPrinter(language.English)

// formatAmount renders base units as a token amount with digit grouping,
// e.g. 1234500000000000000000 -> "1,234.5".
func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	text := ledger.FormatUnits(v)
	whole, frac, hasFrac := strings.Cut(text, ".")
	intPart, ok := new(big.Int).SetString(whole, 10)
	if ok && intPart.IsInt64() {
		whole = printer.Sprintf("%d", intPart.Int64())
	}
	if hasFrac {
		return whole + "." + frac
	}
	return whole
}

func formatTime(unix uint64) string {
	if unix == 0 {
		return "-"
	}
	return time.Unix(int64(unix), 0).UTC().Format(time.RFC3339)
}
