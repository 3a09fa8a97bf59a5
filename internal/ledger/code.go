package ledger

import (
	"regexp"
	"strings"

	"github.com/giftvault/giftvault/internal/security"
)

// Gift card code layout: GIFT-XXXX-XXXX-XXXX.
const (
	codePrefix      = "GIFT"
	codeSegments    = 3
	codeSegmentSize = 4
	// codeAlphabet omits 0/O and 1/I/L so codes survive being read aloud.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

var codePattern = regexp.MustCompile(`^GIFT(-[A-Z0-9]{4}){3}$`)

// GenerateCode returns a random code in GIFT-XXXX-XXXX-XXXX form.
func GenerateCode() (string, error) {
	parts := make([]string, 0, codeSegments+1)
	parts = append(parts, codePrefix)
	for i := 0; i < codeSegments; i++ {
		segment, err := security.RandomFromAlphabet(codeAlphabet, codeSegmentSize)
		if err != nil {
			return "", err
		}
		parts = append(parts, segment)
	}
	return strings.Join(parts, "-"), nil
}

// NormalizeCode upper-cases and trims user input.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code has the gift card layout.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}
