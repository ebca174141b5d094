package util

import (
	"regexp"
	"strings"
)

var (
	bicPattern      = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NormalizeBIC upper-cases and trims a BIC, returning "" when it is not a
// valid 8 or 11 character code. The primary-office branch XXX is dropped so
// INGBPLPWXXX and INGBPLPW compare equal.
func NormalizeBIC(bic string) string {
	bic = strings.ToUpper(strings.TrimSpace(bic))
	if !bicPattern.MatchString(bic) {
		return ""
	}
	if len(bic) == 11 && strings.HasSuffix(bic, "XXX") {
		return bic[:8]
	}
	return bic
}

func ValidateCurrency(code string) bool {
	return currencyPattern.MatchString(code)
}
