package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDN(t *testing.T) {
	valid := []string{
		"CN=John Doe,OU=Users,DC=example,DC=com",
		"cn=admin,dc=example,dc=com",
		`CN=Doe\, John,OU=Users,DC=example,DC=com`,
		"CN=a+UID=b,DC=example",
		"DC=com",
	}
	for _, dn := range valid {
		assert.NoError(t, ValidateDN(dn), dn)
	}

	invalid := []string{
		"",
		"   ",
		"invalid-dn",
		"cn=john,doe,ou=users,dc=example,dc=com",
	}
	for _, dn := range invalid {
		assert.Error(t, ValidateDN(dn), dn)
	}
}

func TestNormalizeDN(t *testing.T) {
	tests := []struct {
		name string
		dn   string
		want string
	}{
		{name: "empty", dn: "", want: ""},
		{name: "types upper-cased", dn: "cn=John Doe,ou=Users,dc=example,dc=com", want: "CN=John Doe,OU=Users,DC=example,DC=com"},
		{name: "value case preserved", dn: "CN=jDoe,DC=Example", want: "CN=jDoe,DC=Example"},
		{name: "spaces after separators", dn: "CN=John Doe, OU=Users, DC=example", want: "CN=John Doe,OU=Users,DC=example"},
		{name: "escaped comma", dn: `cn=Doe\, John,dc=example`, want: `CN=Doe\, John,DC=example`},
		{name: "hex escape decoded and re-escaped", dn: `cn=Doe\2C John,dc=example`, want: `CN=Doe\, John,DC=example`},
		{name: "multi-valued rdn", dn: "cn=a+uid=b,dc=example", want: "CN=a+UID=b,DC=example"},
		{name: "surrounding whitespace", dn: "  cn=x,dc=y  ", want: "CN=x,DC=y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDN(tt.dn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NormalizeDN("invalid-dn")
	assert.Error(t, err)
}

func TestEscapeDNValue(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"", ""},
		{"John Doe", "John Doe"},
		{"Doe, John", `Doe\, John`},
		{`a+b"c\d<e>f;g`, `a\+b\"c\\d\<e\>f\;g`},
		{"#hash", `\#hash`},
		{"mid#hash", "mid#hash"},
		{" leading", `\ leading`},
		{"trailing ", `trailing\ `},
		{"nul\x00", `nul\00`},
		{"Ünïcødé", "Ünïcødé"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeDNValue(tt.value))
		})
	}
}

func TestEscapeDNValue_RoundTrip(t *testing.T) {
	for _, value := range []string{"Doe, John", "#1 fan", `back\slash`, "Müller; Co"} {
		dn := "CN=" + EscapeDNValue(value) + ",DC=example"
		require.NoError(t, ValidateDN(dn), dn)

		normalized, err := NormalizeDN(dn)
		require.NoError(t, err)
		assert.Equal(t, dn, normalized)
	}
}

func TestSplitDN(t *testing.T) {
	tests := []struct {
		dn     string
		rdn    string
		parent string
	}{
		{"cn=John Doe,ou=Users,dc=example,dc=com", "CN=John Doe", "OU=Users,DC=example,DC=com"},
		{`cn=Doe\, John,dc=example`, `CN=Doe\, John`, "DC=example"},
		{"cn=a+uid=b,dc=example", "CN=a+UID=b", "DC=example"},
		{"dc=com", "DC=com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			rdn, parent, err := SplitDN(tt.dn)
			require.NoError(t, err)
			assert.Equal(t, tt.rdn, rdn)
			assert.Equal(t, tt.parent, parent)
		})
	}

	_, _, err := SplitDN("")
	assert.Error(t, err)

	_, _, err = SplitDN("invalid-dn")
	assert.Error(t, err)
}

func TestRDNAttributes(t *testing.T) {
	attrs, err := RDNAttributes(`cn=Doe\, John+uid=jdoe,ou=Users,dc=example`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cn": "Doe, John", "uid": "jdoe"}, attrs)

	_, err = RDNAttributes("")
	assert.Error(t, err)
}
