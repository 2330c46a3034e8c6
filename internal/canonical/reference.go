package canonical

import "strings"

// Reference is a type reference split into the parts the catalog resolves
// separately.
type Reference struct {
	// Original is the input string, untouched.
	Original string
	// Element is the bare element type name handed to the catalog,
	// e.g. "public.money_amount" for "public.money_amount(10,2)[]".
	Element string
	// Modifiers is the text inside the parenthesized suffix, if any.
	Modifiers string
	// Dimensions counts bracket pairs, "[]" or "[N]".
	Dimensions int
}

// ParseReference splits a type reference. It never consults the catalog.
//
// The modifier group runs from the first "(" to the last ")", so
// "timestamp(3) with time zone" keeps its trailing words. Bracket pairs are
// counted from the end; "int4[][]" and "int4[3][3]" both have two dimensions.
func ParseReference(s string) Reference {
	ref := Reference{Original: s}
	rest := strings.TrimSpace(s)

	if open := strings.IndexByte(rest, '('); open >= 0 {
		if end := strings.LastIndexByte(rest, ')'); end > open {
			ref.Modifiers = strings.TrimSpace(rest[open+1 : end])
			rest = strings.TrimSpace(rest[:open]) + rest[end+1:]
		}
	}

	for {
		rest = strings.TrimSpace(rest)
		if !strings.HasSuffix(rest, "]") {
			break
		}
		open := strings.LastIndexByte(rest, '[')
		if open < 0 || !isDigits(rest[open+1:len(rest)-1]) {
			break
		}
		ref.Dimensions++
		rest = rest[:open]
	}

	ref.Element = strings.Join(strings.Fields(rest), " ")
	return ref
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
