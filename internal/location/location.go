// Package location canonicalizes DIVIPOL-style location names and codes.
// Source feeds disagree on accents and casing ("BOGOTÁ D.C." vs
// "Bogota D.C."), so registry matching runs on the normalized form.
package location

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName upper-cases a location name, strips accents, and
// collapses internal whitespace.
func NormalizeName(name string) string {
	out, _, err := transform.String(stripAccents, name)
	if err != nil {
		out = name
	}
	return strings.Join(strings.Fields(strings.ToUpper(out)), " ")
}

// PadCode left-pads a numeric code with zeros to the given width.
// Feeds drop leading zeros ("5" for Antioquia's "05").
func PadCode(code string, width int) string {
	code = strings.TrimSpace(code)
	if len(code) >= width {
		return code
	}
	return strings.Repeat("0", width-len(code)) + code
}
