package meteocat

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeBody normalizes a response body to UTF-8. Strict UTF-8 is tried
// first, then ISO-8859-1, and finally a lossy pass that swaps invalid
// sequences for U+FFFD so a single bad field never discards the payload.
func decodeBody(b []byte) ([]byte, string) {
	if utf8.Valid(b) {
		return b, "utf-8"
	}
	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(b); err == nil && utf8.Valid(out) {
		return out, "iso-8859-1"
	}
	return []byte(strings.ToValidUTF8(string(b), "\uFFFD")), "utf-8-lossy"
}

// maskKey keeps the first and last four characters of a credential.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
