package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ValidateDN checks RFC 4514 syntax.
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return errors.New("DN cannot be empty")
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}
	return nil
}

// NormalizeDN upper-cases attribute types and re-escapes values, so
// "cn=Doe\, John,dc=example" becomes "CN=Doe\, John,DC=example". Value case
// is preserved.
func NormalizeDN(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		rdns = append(rdns, formatRDN(rdn))
	}
	return strings.Join(rdns, ","), nil
}

// SplitDN returns the normalized leading RDN of dn and its normalized parent.
// The parent is empty for a single-RDN DN.
func SplitDN(dn string) (rdn, parent string, err error) {
	normalized, err := NormalizeDN(dn)
	if err != nil {
		return "", "", err
	}
	if normalized == "" {
		return "", "", errors.New("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(normalized)
	if err != nil {
		return "", "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rest := make([]string, 0, len(parsed.RDNs)-1)
	for _, r := range parsed.RDNs[1:] {
		rest = append(rest, formatRDN(r))
	}
	return formatRDN(parsed.RDNs[0]), strings.Join(rest, ","), nil
}

func formatRDN(rdn *ldap.RelativeDN) string {
	attrs := make([]string, 0, len(rdn.Attributes))
	for _, attr := range rdn.Attributes {
		attrs = append(attrs, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
	}
	return strings.Join(attrs, "+")
}

// EscapeDNValue escapes an attribute value for use in a DN (RFC 4514 section 2.4).
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 8)

	last := len(value) - 1
	for i, r := range value {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '#' && i == 0, r == ' ' && (i == 0 || i == last):
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == 0:
			b.WriteString(`\00`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RDNAttributes returns the attribute values of the leading RDN of dn,
// keyed by attribute type as written.
func RDNAttributes(dn string) (map[string]string, error) {
	parsed, err := ldap.ParseDN(strings.TrimSpace(dn))
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 {
		return nil, errors.New("DN cannot be empty")
	}

	attrs := make(map[string]string, len(parsed.RDNs[0].Attributes))
	for _, attr := range parsed.RDNs[0].Attributes {
		attrs[attr.Type] = attr.Value
	}
	return attrs, nil
}
