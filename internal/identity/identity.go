// Package identity derives a stable customer key from noisy contact fields.
package identity

import (
	"strings"
	"unicode"

	"cod-reconciler/internal/textnorm"

	"github.com/ttacon/libphonenumber"
)

const (
	PhonePrefix = "phone:"
	EmailPrefix = "email:"
	NamePrefix  = "name:"
)

// Region is the numbering plan contact phones are validated against
const Region = "RS"

const (
	countryCode         = "381"
	countryCodeWithZero = "3810"
	mobileLeadDigit     = '6'
	minMobileDigits     = 8
	maxMobileDigits     = 10
)

// NormalizePhone strips everything but digits, rewrites the country code to
// a local leading zero and repairs mobile numbers that lost their zero.
// Returns "" when no digits remain.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(digits, countryCodeWithZero):
		digits = "0" + digits[len(countryCodeWithZero):]
	case strings.HasPrefix(digits, countryCode):
		digits = "0" + digits[len(countryCode):]
	}

	if digits[0] == '0' {
		return digits
	}
	if digits[0] == mobileLeadDigit && len(digits) >= minMobileDigits && len(digits) <= maxMobileDigits {
		return "0" + digits
	}
	return digits
}

// ValidPhone reports whether raw is a dialable number in Region once
// normalized. Keys are still derived from numbers that fail this check.
func ValidPhone(raw string) bool {
	digits := NormalizePhone(raw)
	if digits == "" {
		return false
	}
	p, err := libphonenumber.Parse(digits, Region)
	if err != nil {
		return false
	}
	return libphonenumber.IsValidNumber(p)
}

// NormalizeEmail folds an email address the way stored customer keys were
// built: strictly normalized, so "@" and "." are dropped and
// "Ana@Example.com" becomes "anaexamplecom".
func NormalizeEmail(raw string) string {
	return textnorm.NormalizeStrict(raw)
}

// DeriveKey returns the customer key for the given contact fields, phone
// first, then email, then name and city. An empty key means the customer
// cannot be identified.
func DeriveKey(phone, email, name, city string) string {
	if p := NormalizePhone(phone); p != "" {
		return PhonePrefix + p
	}

	if strings.Contains(email, "@") {
		if e := NormalizeEmail(email); e != "" {
			return EmailPrefix + e
		}
	} else if hasDigit(email) {
		// phone numbers typed into the email column
		if p := NormalizePhone(email); p != "" {
			return PhonePrefix + p
		}
	}

	n := textnorm.NormalizeStrict(name)
	c := textnorm.NormalizeStrict(city)
	if n != "" || c != "" {
		return NamePrefix + n + "|city:" + c
	}
	return ""
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
