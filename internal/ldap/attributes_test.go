package ldap

import (
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S-1-5-21-1-2-3-500
var testSIDBytes = []byte{
	0x01, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
	0x15, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x00, 0x00,
	0x02, 0x00, 0x00, 0x00,
	0x03, 0x00, 0x00, 0x00,
	0xf4, 0x01, 0x00, 0x00,
}

// 01234567-89ab-cdef-0123-456789abcdef
var testGUIDBytes = []byte{
	0x67, 0x45, 0x23, 0x01, 0xab, 0x89, 0xef, 0xcd,
	0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
}

func TestDecodeSID(t *testing.T) {
	sid, err := decodeSID(testSIDBytes)
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-1-2-3-500", sid)

	_, err = decodeSID(testSIDBytes[:10])
	assert.Error(t, err)
	_, err = decodeSID(nil)
	assert.Error(t, err)
}

func TestGUIDEncoding(t *testing.T) {
	guid, err := decodeGUID(testGUIDBytes)
	require.NoError(t, err)
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", guid)

	encoded, err := encodeGUID(guid)
	require.NoError(t, err)
	assert.Equal(t, testGUIDBytes, encoded)

	_, err = decodeGUID([]byte{0x01, 0x02})
	assert.Error(t, err)
	_, err = encodeGUID("not-a-guid")
	assert.Error(t, err)
}

func TestFlattenEntry(t *testing.T) {
	entry := flattenEntry(&ldap.Entry{
		DN: "CN=John Doe,DC=example,DC=com",
		Attributes: []*ldap.EntryAttribute{
			{Name: "cn", Values: []string{"John Doe"}, ByteValues: [][]byte{[]byte("John Doe")}},
			{Name: "objectSid", ByteValues: [][]byte{testSIDBytes}},
			{Name: "objectGUID", ByteValues: [][]byte{testGUIDBytes}},
			{Name: "tokenGroups", ByteValues: [][]byte{testSIDBytes, {0xde, 0xad}}},
		},
	})

	require.NotNil(t, entry)
	assert.Equal(t, "CN=John Doe,DC=example,DC=com", entry.DN)
	assert.Equal(t, "John Doe", entry.GetAttributeValue("CN"))
	assert.Equal(t, "S-1-5-21-1-2-3-500", entry.GetAttributeValue("objectSid"))
	assert.Equal(t, "01234567-89ab-cdef-0123-456789abcdef", entry.GetAttributeValue("objectguid"))
	assert.Equal(t, []string{"S-1-5-21-1-2-3-500", "dead"}, entry.GetAttributeValues("tokenGroups"))
	assert.Empty(t, entry.GetAttributeValue("missing"))

	assert.Nil(t, flattenEntry(nil))
	assert.Len(t, flattenEntries([]*ldap.Entry{{DN: "DC=a"}, {DN: "DC=b"}}), 2)
}

func TestParseFileTime(t *testing.T) {
	epoch, never, err := parseFileTime("116444736000000000")
	require.NoError(t, err)
	assert.False(t, never)
	assert.True(t, epoch.Equal(time.Unix(0, 0)))

	ts, _, err := parseFileTime(" 133801632000000000 ")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ts)

	for _, s := range []string{"0", "9223372036854775807"} {
		_, never, err := parseFileTime(s)
		require.NoError(t, err)
		assert.True(t, never, s)
	}

	_, _, err = parseFileTime("soon")
	assert.Error(t, err)
}
