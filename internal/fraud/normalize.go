package fraud

import (
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/giftvault/giftvault/internal/models"
)

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)

// disposableDomains are throwaway mailbox providers.
var disposableDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"tempmail.com":      {},
	"temp-mail.org":     {},
	"yopmail.com":       {},
	"trashmail.com":     {},
	"throwawaymail.com": {},
	"getnada.com":       {},
	"sharklasers.com":   {},
	"dispostable.com":   {},
	"maildrop.cc":       {},
	"fakeinbox.com":     {},
}

// Normalize canonicalizes a value for blacklist storage and lookup.
func Normalize(kind models.BlacklistType, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case models.BlacklistTypeEmail:
		return strings.ToLower(value)
	case models.BlacklistTypePhone:
		return digitsOnly(value)
	case models.BlacklistTypeIP:
		if ip := net.ParseIP(value); ip != nil {
			return ip.String()
		}
		return strings.ToLower(value)
	case models.BlacklistTypeUserID:
		if n, errParse := strconv.ParseUint(value, 10, 64); errParse == nil {
			return strconv.FormatUint(n, 10)
		}
		return value
	default:
		return strings.ToLower(value)
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDisposableEmail reports whether the address uses a throwaway domain.
func IsDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := disposableDomains[strings.ToLower(strings.TrimSpace(email[at+1:]))]
	return ok
}

// ValidPhone accepts E.164-like numbers with common separators.
func ValidPhone(phone string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(strings.TrimSpace(phone))
	return phonePattern.MatchString(cleaned)
}
