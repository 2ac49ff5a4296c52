package fml

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeBookKey folds a sportsbook name to its lookup key:
// "Pinnacle", " PINNACLE " and "Pinnaclé" all map to "pinnacle",
// "Bet MGM" maps to "bet_mgm".
func NormalizeBookKey(book string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	key, _, err := transform.String(t, book)
	if err != nil {
		key = book
	}

	key = cases.Fold().String(key)
	return strings.Join(strings.Fields(key), "_")
}
