package mpesa

import (
	"regexp"
	"strings"
)

const countryCode = "254"

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizePhone rewrites a Kenyan number into the 2547XXXXXXXX form Daraja
// expects. Local 10 digit numbers lose their leading 0.
func NormalizePhone(raw string) (string, error) {
	phone := nonDigits.ReplaceAllString(raw, "")

	switch {
	case len(phone) == 10:
		return countryCode + phone[1:], nil
	case len(phone) == 12 && strings.HasPrefix(phone, countryCode):
		return phone, nil
	default:
		return "", NewError(KindInvalidPhone, "Invalid phone number format. Use 254XXXXXXXXX.", nil)
	}
}
