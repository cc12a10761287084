package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// DirectoryVendor identifies the server implementation behind a connection.
type DirectoryVendor string

const (
	VendorActiveDirectory DirectoryVendor = "active_directory"
	VendorOpenLDAP        DirectoryVendor = "openldap"
	Vendor389DS           DirectoryVendor = "389ds"
	VendorEDirectory      DirectoryVendor = "edirectory"
	VendorUnknown         DirectoryVendor = "unknown"
)

// OIDs advertised in supportedCapabilities by Active Directory.
const (
	oidActiveDirectory     = "1.2.840.113556.1.4.800"
	oidActiveDirectoryLDS  = "1.2.840.113556.1.4.1851"
	oidPagedResultsControl = "1.2.840.113556.1.4.319"
)

var rootDSEAttributes = []string{
	"objectClass",
	"vendorName",
	"vendorVersion",
	"namingContexts",
	"defaultNamingContext",
	"rootDomainNamingContext",
	"configContext",
	"supportedLDAPVersion",
	"supportedControl",
	"supportedExtension",
	"supportedSASLMechanisms",
	"supportedCapabilities",
	"domainFunctionality",
	"dnsHostName",
}

// DirectoryInfo summarises a server's root DSE.
type DirectoryInfo struct {
	Vendor                  DirectoryVendor
	VendorName              string
	VendorVersion           string
	NamingContexts          []string
	DefaultNamingContext    string
	SupportedLDAPVersions   []string
	SupportedControls       []string
	SupportedExtensions     []string
	SupportedSASLMechanisms []string
	DomainFunctionality     string
	DNSHostName             string
	RetrievedAt             time.Time
}

// SupportsPaging reports whether the simple paged results control is advertised.
func (d *DirectoryInfo) SupportsPaging() bool {
	return slices.Contains(d.SupportedControls, oidPagedResultsControl)
}

// SupportsPasswordModify reports whether the RFC 3062 extended operation is advertised.
func (d *DirectoryInfo) SupportsPasswordModify() bool {
	return slices.Contains(d.SupportedExtensions, "1.3.6.1.4.1.4203.1.11.1")
}

// Map renders the info with snake_case keys.
func (d *DirectoryInfo) Map() map[string]any {
	return map[string]any{
		"vendor":                 string(d.Vendor),
		"vendor_name":            d.VendorName,
		"vendor_version":         d.VendorVersion,
		"naming_contexts":        d.NamingContexts,
		"default_naming_context": d.DefaultNamingContext,
		"supported_ldap_version": d.SupportedLDAPVersions,
		"domain_functionality":   d.DomainFunctionality,
		"dns_host_name":          d.DNSHostName,
	}
}

func detectVendor(e *Entry) DirectoryVendor {
	caps := e.GetAttributeValues("supportedCapabilities")
	if slices.Contains(caps, oidActiveDirectory) || slices.Contains(caps, oidActiveDirectoryLDS) {
		return VendorActiveDirectory
	}

	vendor := strings.ToLower(e.GetAttributeValue("vendorName"))
	switch {
	case strings.Contains(vendor, "389 project"), strings.Contains(vendor, "red hat"), strings.Contains(vendor, "fedora"):
		return Vendor389DS
	case strings.Contains(vendor, "novell"), strings.Contains(vendor, "netiq"):
		return VendorEDirectory
	case strings.Contains(vendor, "openldap"):
		return VendorOpenLDAP
	}

	if slices.ContainsFunc(e.GetAttributeValues("objectClass"), func(oc string) bool {
		return strings.EqualFold(oc, "OpenLDAProotDSE")
	}) || e.GetAttributeValue("configContext") != "" {
		return VendorOpenLDAP
	}

	return VendorUnknown
}

func parseDirectoryInfo(e *Entry, now time.Time) *DirectoryInfo {
	info := &DirectoryInfo{
		Vendor:                  detectVendor(e),
		VendorName:              e.GetAttributeValue("vendorName"),
		VendorVersion:           e.GetAttributeValue("vendorVersion"),
		NamingContexts:          e.GetAttributeValues("namingContexts"),
		DefaultNamingContext:    e.GetAttributeValue("defaultNamingContext"),
		SupportedLDAPVersions:   e.GetAttributeValues("supportedLDAPVersion"),
		SupportedControls:       e.GetAttributeValues("supportedControl"),
		SupportedExtensions:     e.GetAttributeValues("supportedExtension"),
		SupportedSASLMechanisms: e.GetAttributeValues("supportedSASLMechanisms"),
		DomainFunctionality:     e.GetAttributeValue("domainFunctionality"),
		DNSHostName:             e.GetAttributeValue("dnsHostName"),
		RetrievedAt:             now,
	}
	if info.DefaultNamingContext == "" && len(info.NamingContexts) > 0 {
		info.DefaultNamingContext = info.NamingContexts[0]
	}
	if info.Vendor == VendorActiveDirectory && info.VendorName == "" {
		info.VendorName = "Microsoft Corporation"
	}
	return info
}

// directoryInfoCache holds one DirectoryInfo per server list.
type directoryInfoCache struct {
	mu      sync.Mutex
	entries map[uint64]*DirectoryInfo
}

func newDirectoryInfoCache() *directoryInfoCache {
	return &directoryInfoCache{entries: make(map[uint64]*DirectoryInfo)}
}

func (c *directoryInfoCache) get(key uint64) (*DirectoryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.entries[key]
	return info, ok
}

func (c *directoryInfoCache) put(key uint64, info *DirectoryInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = info
}

// DirectoryInfo reads the root DSE through the handle, so the read is counted
// and cached like any other search. The result is shared by every handle of
// the factory connected to the same server list.
func (h *Handle) DirectoryInfo(ctx context.Context) (*DirectoryInfo, error) {
	key := urlListKey(h.cfg.URLs)
	if info, ok := h.factory.dirInfo.get(key); ok {
		return info, nil
	}

	result, err := h.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: rootDSEAttributes,
		SizeLimit:  1,
		TimeLimit:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read root DSE: %w", err)
	}
	if len(result.Entries) == 0 {
		return nil, errors.New("no root DSE found")
	}

	info := parseDirectoryInfo(result.Entries[0], h.factory.clock.Now())
	h.factory.dirInfo.put(key, info)
	return info, nil
}
