// Package symbols canonicalizes instrument identifiers and resolves alias
// families across the naming conventions used by rebalance files and the
// price feed.
package symbols

import "strings"

// Known multiplicative-denomination aliases: exchanges quote some low-priced
// underlyings as 1000x contracts while rebalance files carry the plain name.
// Both identifiers refer to the same underlying at different contract sizes.
var aliasPairs = map[string]string{
	"SHIBUSDT":  "1000SHIBUSDT",
	"PEPEUSDT":  "1000PEPEUSDT",
	"XECUSDT":   "1000XECUSDT",
	"SATSUSDT":  "1000SATSUSDT",
	"RATSUSDT":  "1000RATSUSDT",
	"FLOKIUSDT": "1000FLOKIUSDT",
	"LUNCUSDT":  "1000LUNCUSDT",
	"XUSDT":     "1000XUSDT",
}

// partners holds the bidirectional partner map, built once at init so alias
// resolution is a plain lookup rather than scattered string munging.
var partners map[string]string

func init() {
	partners = make(map[string]string, 2*len(aliasPairs))
	for plain, prefixed := range aliasPairs {
		partners[plain] = prefixed
		partners[prefixed] = plain
	}
}

const separators = "_-/ "

// Normalize canonicalizes a raw instrument identifier: trims whitespace,
// upper-cases, and strips separator characters. Pure; unknown symbols pass
// through unchanged and surface later as a missing-price condition rather
// than a parse error.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(separators, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Partner returns the alias partner of a normalized symbol, if one exists.
func Partner(symbol string) (string, bool) {
	p, ok := partners[symbol]
	return p, ok
}

// AliasGroup returns the set of identifiers referring to the same underlying
// as the given normalized symbol (always includes the symbol itself).
func AliasGroup(symbol string) []string {
	if p, ok := partners[symbol]; ok {
		return []string{symbol, p}
	}
	return []string{symbol}
}

// LookupPrice resolves a symbol against a price map, trying the normalized
// form first and then its alias partner. Returns false when neither is found.
func LookupPrice(prices map[string]float64, symbol string) (float64, bool) {
	if v, ok := prices[symbol]; ok {
		return v, true
	}
	if p, ok := partners[symbol]; ok {
		if v, ok := prices[p]; ok {
			return v, true
		}
	}
	return 0, false
}
