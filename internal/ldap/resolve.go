package ldap

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// IdentifierType is the detected format of an object identifier.
type IdentifierType int

const (
	IdentifierTypeUnknown IdentifierType = iota
	IdentifierTypeDN
	IdentifierTypeGUID
	IdentifierTypeSID
	IdentifierTypeUPN
	IdentifierTypeSAM // DOMAIN\user or user
)

func (i IdentifierType) String() string {
	switch i {
	case IdentifierTypeDN:
		return "dn"
	case IdentifierTypeGUID:
		return "guid"
	case IdentifierTypeSID:
		return "sid"
	case IdentifierTypeUPN:
		return "upn"
	case IdentifierTypeSAM:
		return "sam"
	default:
		return "unknown"
	}
}

var (
	sidRegex = regexp.MustCompile(`^S-1-\d+(-\d+)*$`)
	upnRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	samRegex = regexp.MustCompile(`^([^\\@\s]+\\)?[^\\@\s]+$`)
)

// DetectIdentifierType classifies identifier, most specific format first.
func DetectIdentifierType(identifier string) IdentifierType {
	identifier = strings.TrimSpace(identifier)
	switch {
	case identifier == "":
		return IdentifierTypeUnknown
	case strings.Contains(identifier, "=") && ValidateDN(identifier) == nil:
		return IdentifierTypeDN
	case uuid.Validate(identifier) == nil:
		return IdentifierTypeGUID
	case sidRegex.MatchString(identifier):
		return IdentifierTypeSID
	case upnRegex.MatchString(identifier):
		return IdentifierTypeUPN
	case samRegex.MatchString(identifier):
		return IdentifierTypeSAM
	default:
		return IdentifierTypeUnknown
	}
}

// identifierFilter builds the search filter matching identifier.
func identifierFilter(idType IdentifierType, identifier string) (string, error) {
	switch idType {
	case IdentifierTypeGUID:
		b, err := encodeGUID(identifier)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		for _, c := range b {
			fmt.Fprintf(&sb, `\%02x`, c)
		}
		return "(objectGUID=" + sb.String() + ")", nil
	case IdentifierTypeSID:
		return "(objectSid=" + ldap.EscapeFilter(identifier) + ")", nil
	case IdentifierTypeUPN:
		return "(userPrincipalName=" + ldap.EscapeFilter(identifier) + ")", nil
	case IdentifierTypeSAM:
		if _, user, ok := strings.Cut(identifier, `\`); ok {
			identifier = user
		}
		return "(sAMAccountName=" + ldap.EscapeFilter(identifier) + ")", nil
	default:
		return "", fmt.Errorf("no search filter for %s identifiers", idType)
	}
}

// ResolveDN returns the normalized DN of the object named by identifier,
// which may be a DN, GUID, SID, UPN or SAM account name. Anything but a DN is
// looked up with a subtree search under baseDN.
func ResolveDN(ctx context.Context, conn Connection, baseDN, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	idType := DetectIdentifierType(identifier)

	switch idType {
	case IdentifierTypeUnknown:
		return "", fmt.Errorf("unable to determine identifier type for: %s", identifier)
	case IdentifierTypeDN:
		return NormalizeDN(identifier)
	}

	filter, err := identifierFilter(idType, identifier)
	if err != nil {
		return "", fmt.Errorf("invalid %s identifier %q: %w", idType, identifier, err)
	}

	result, err := conn.Search(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"distinguishedName"},
		SizeLimit:  2,
	})
	if err != nil {
		return "", fmt.Errorf("%s lookup failed: %w", idType, err)
	}

	switch len(result.Entries) {
	case 0:
		return "", fmt.Errorf("object with %s %s not found", idType, identifier)
	case 1:
		return NormalizeDN(result.Entries[0].DN)
	default:
		return "", fmt.Errorf("%s %s matches more than one object", idType, identifier)
	}
}
