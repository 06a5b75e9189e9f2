package dispatch

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var ErrInvalidRecipient = errors.New("invalid recipient")

var (
	e164        = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	phoneFiller = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// NormalizePhone strips common separators. It does not add a country code.
func NormalizePhone(s string) string {
	return phoneFiller.Replace(strings.TrimSpace(s))
}

func ValidPhone(s string) bool { return e164.MatchString(s) }

func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}

// ValidateRecipient checks the recipient for channel and returns it in the
// form the gateway expects.
func ValidateRecipient(channel Channel, recipient string) (string, error) {
	switch channel {
	case ChannelSMS:
		phone := NormalizePhone(recipient)
		if !ValidPhone(phone) {
			return "", fmt.Errorf("%w: %q is not an E.164 phone number", ErrInvalidRecipient, recipient)
		}
		return phone, nil
	case ChannelEmail:
		addr := strings.TrimSpace(recipient)
		if !ValidEmail(addr) {
			return "", fmt.Errorf("%w: %q is not an email address", ErrInvalidRecipient, recipient)
		}
		return addr, nil
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidRecipient, channel)
	}
}
