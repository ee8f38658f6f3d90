package domain

import "strings"

// DefaultCountryCode is prepended to bare local numbers when no country code
// is configured.
const DefaultCountryCode = "+221"

// NormalizePhone strips whitespace from a destination number and prefixes a
// bare 9-digit local number with the given country code. Numbers that already
// carry an international prefix pass through unchanged, which makes the
// function idempotent.
func NormalizePhone(raw string, countryCode string) string {
	p := strings.Join(strings.Fields(raw), "")
	if p == "" {
		return ""
	}

	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	if !strings.HasPrefix(p, "+") && isLocalNineDigits(p) {
		p = countryCode + p
	}

	return p
}

func isLocalNineDigits(s string) bool {
	if len(s) != 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
