package resolution

import "strings"

// NormalizePhone strips the WhatsApp channel prefix, spaces, dashes and
// parentheses from a phone number. The leading "+" is kept when present.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "whatsapp:")
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, phone)
}

// PhoneVariants returns the forms a stored number may take: with and without
// the leading "+".
func PhoneVariants(phone string) []string {
	p := NormalizePhone(phone)
	if p == "" {
		return nil
	}
	bare := strings.TrimPrefix(p, "+")
	return []string{bare, "+" + bare}
}

// MatchesPhone reports whether two numbers are the same after normalization.
func MatchesPhone(a, b string) bool {
	na := strings.TrimPrefix(NormalizePhone(a), "+")
	nb := strings.TrimPrefix(NormalizePhone(b), "+")
	return na != "" && na == nb
}

// WhatsAppAddress formats a phone number for the WhatsApp channel.
func WhatsAppAddress(phone string) string {
	p := NormalizePhone(phone)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return "whatsapp:" + p
}
