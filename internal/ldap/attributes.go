package ldap

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Binary Active Directory attributes decoded while flattening entries.
const (
	attrObjectSID   = "objectSid"
	attrObjectGUID  = "objectGUID"
	attrTokenGroups = "tokenGroups"

	attrPasswordExpiryComputed = "msDS-UserPasswordExpiryTimeComputed"
)

// flattenEntry converts a go-ldap entry into an Entry, rendering SIDs and
// GUIDs in their textual forms.
func flattenEntry(e *ldap.Entry) *Entry {
	if e == nil {
		return nil
	}
	entry := &Entry{
		DN:         e.DN,
		Attributes: make(map[string][]string, len(e.Attributes)),
	}
	for _, attr := range e.Attributes {
		entry.Attributes[attr.Name] = attributeValues(attr)
	}
	return entry
}

func flattenEntries(entries []*ldap.Entry) []*Entry {
	flat := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		flat = append(flat, flattenEntry(e))
	}
	return flat
}

func attributeValues(attr *ldap.EntryAttribute) []string {
	switch {
	case strings.EqualFold(attr.Name, attrObjectSID), strings.EqualFold(attr.Name, attrTokenGroups):
		return decodeEach(attr.ByteValues, decodeSID)
	case strings.EqualFold(attr.Name, attrObjectGUID):
		return decodeEach(attr.ByteValues, decodeGUID)
	default:
		return attr.Values
	}
}

func decodeEach(raw [][]byte, decode func([]byte) (string, error)) []string {
	values := make([]string, 0, len(raw))
	for _, b := range raw {
		v, err := decode(b)
		if err != nil {
			v = hex.EncodeToString(b)
		}
		values = append(values, v)
	}
	return values
}

// decodeSID renders a binary SID as S-1-5-21-...
func decodeSID(b []byte) (string, error) {
	// revision, sub-authority count, 6-byte authority, then 4 bytes per sub-authority
	if len(b) < 8 || len(b) != 8+4*int(b[1]) {
		return "", fmt.Errorf("invalid SID length %d", len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// decodeGUID converts Active Directory's mixed-endian GUID bytes (Data1-3
// little-endian, Data4 big-endian) to canonical UUID form.
func decodeGUID(b []byte) (string, error) {
	if len(b) != 16 {
		return "", fmt.Errorf("invalid GUID byte length: expected 16, got %d", len(b))
	}
	std := make([]byte, 16)
	std[0], std[1], std[2], std[3] = b[3], b[2], b[1], b[0]
	std[4], std[5] = b[5], b[4]
	std[6], std[7] = b[7], b[6]
	copy(std[8:], b[8:])

	id, err := uuid.FromBytes(std)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// encodeGUID is the inverse of decodeGUID.
func encodeGUID(s string) ([]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]
	copy(b[8:], id[8:])
	return b, nil
}

// Windows FILETIME counts 100ns intervals since 1601-01-01.
const fileTimeUnixOffset = 116444736000000000

// parseFileTime parses an AD FILETIME integer. never is true for the
// "does not expire" sentinels (0 and MaxInt64).
func parseFileTime(s string) (t time.Time, never bool, err error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid FILETIME %q: %w", s, err)
	}
	if v == 0 || v == math.MaxInt64 {
		return time.Time{}, true, nil
	}
	ticks := v - fileTimeUnixOffset
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC(), false, nil
}
