// Package fetch downloads Bybit public daily tick archives and drives the
// per-day fetch, aggregate, and persist pipeline.
package fetch

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizeSymbol canonicalizes user symbol input: whitespace trimmed,
// uppercased, and the USDT quote appended when no known quote suffix is
// present, so "btc" and "BTCUSDT" name the same contract.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", fmt.Errorf("symbol cannot be empty")
	}
	for _, r := range sym {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return "", fmt.Errorf("symbol %q contains invalid character %q", s, r)
		}
	}
	if len(sym) < 2 {
		return "", fmt.Errorf("symbol %q is too short", s)
	}
	if !hasQuoteSuffix(sym) {
		sym += "USDT"
	}
	return sym, nil
}

// quoteSuffixes are the quote currencies the public archive lists pairs in.
var quoteSuffixes = []string{"USDT", "USDC", "PERP", "USD", "EUR", "BTC", "ETH"}

func hasQuoteSuffix(sym string) bool {
	for _, q := range quoteSuffixes {
		// The suffix must leave a non-empty base ("USDT" alone is not a pair).
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return true
		}
	}
	return false
}
