package schema

import "strings"

// NormalizeTenantDNS lowercases a DNS prefix and checks it is a single valid DNS label.
// Allowed characters: a-z, 0-9, '-' (not leading or trailing), at most 63 bytes.
func NormalizeTenantDNS(value string) (TenantDNS, error) {
	label := strings.ToLower(strings.TrimSpace(value))
	if !IsDNSLabel(label) {
		return "", ErrInvalidTenant
	}
	return TenantDNS(label), nil
}

// IsDNSLabel reports whether value is a lowercase DNS label.
func IsDNSLabel(value string) bool {
	if value == "" || len(value) > 63 {
		return false
	}
	if value[0] == '-' || value[len(value)-1] == '-' {
		return false
	}
	for _, r := range value {
		if r >= 'a' && r <= 'z' {
			continue
		}
		if r >= '0' && r <= '9' {
			continue
		}
		if r == '-' {
			continue
		}
		return false
	}
	return true
}

// NormalizeEmail trims and lowercases an email address and checks its basic shape.
func NormalizeEmail(value string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(value))
	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') || at == len(email)-1 {
		return "", ErrInvalidRequest
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return "", ErrInvalidRequest
	}
	return email, nil
}
