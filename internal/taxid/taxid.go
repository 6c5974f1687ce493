// Package taxid validates and canonicalizes Spanish tax identifiers (NIF, NIE, CIF),
// including the EU VAT form with an "ES" country prefix.
package taxid

import (
	"regexp"
	"strings"
)

// Kind is the identifier family a valid tax id belongs to.
type Kind string

const (
	KindNIF Kind = "NIF" // national id (DNI), also the K/L/M special forms
	KindNIE Kind = "NIE" // foreigner id
	KindCIF Kind = "CIF" // legal entity
)

const (
	nifLetters = "TRWAGMYFPDXBNJZSQVHLCKE"
	cifLetters = "JABCDEFGHI"
)

var (
	reNIF        = regexp.MustCompile(`^[0-9]{8}[A-Z]$`)
	reNIFSpecial = regexp.MustCompile(`^[KLM][0-9]{7}[A-Z]$`)
	reNIE        = regexp.MustCompile(`^[XYZ][0-9]{7}[A-Z]$`)
	reCIF        = regexp.MustCompile(`^[ABCDEFGHJNPQRSUVW][0-9]{7}[0-9A-J]$`)
)

// Normalize uppercases s, drops separators (spaces, dots, dashes, slashes) and strips an
// "ES" VAT prefix. It never validates; callers decide what to do with an invalid result.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) == 11 && strings.HasPrefix(out, "ES") {
		out = out[2:]
	}
	return out
}

// Classify reports the family of an already-normalized id, verifying its control character.
func Classify(id string) (Kind, bool) {
	switch {
	case reNIF.MatchString(id):
		return KindNIF, nifControl(id[:8]) == id[8]
	case reNIFSpecial.MatchString(id):
		return KindNIF, nifControl(id[1:8]) == id[8]
	case reNIE.MatchString(id):
		prefix := map[byte]string{'X': "0", 'Y': "1", 'Z': "2"}[id[0]]
		return KindNIE, nifControl(prefix+id[1:8]) == id[8]
	case reCIF.MatchString(id):
		return KindCIF, cifControlOK(id)
	}
	return "", false
}

// IsValid reports whether s, once normalized, is a well-formed id with a correct control character.
func IsValid(s string) bool {
	_, ok := Classify(Normalize(s))
	return ok
}

// Canonical returns the normalized id and whether it validated. Invalid input yields ("", false)
// only when nothing survives normalization.
func Canonical(s string) (string, bool) {
	n := Normalize(s)
	if n == "" {
		return "", false
	}
	_, ok := Classify(n)
	return n, ok
}

func nifControl(digits string) byte {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return nifLetters[n%23]
}

func cifControlOK(id string) bool {
	sum := 0
	for i := 1; i <= 7; i++ {
		d := int(id[i] - '0')
		if i%2 == 1 {
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	digit := (10 - sum%10) % 10
	control := id[8]

	switch id[0] {
	case 'P', 'Q', 'R', 'S', 'N', 'W':
		return control == cifLetters[digit]
	case 'A', 'B', 'E', 'H':
		return control == byte('0'+digit)
	default:
		return control == byte('0'+digit) || control == cifLetters[digit]
	}
}
