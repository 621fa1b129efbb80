package model

import "strings"

// Pair is one trading pair admitted by the whitelist. Symbol is the
// exchange form ("BTCUSDC"). The pair set is immutable for the lifetime
// of a run; the whitelist is re-read only at restart.
type Pair struct {
	Symbol string `json:"symbol"`
}

// StreamName returns the symbol in Binance stream form ("btcusdc").
func (p Pair) StreamName() string {
	return strings.ToLower(p.Symbol)
}

// NormalizeSymbol converts a config-style pair ("BTC/USDC", "btc/usdc")
// to the exchange form ("BTCUSDC").
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}
