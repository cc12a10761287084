package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/diag"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// providerData is shared by every data source and resource of a configured
// provider. All of them talk to the directory through the same handle.
type providerData struct {
	factory *ldapclient.Factory
	handle  *ldapclient.Handle
	baseDN  string
}

func (d *providerData) close() error {
	return errors.Join(d.handle.Close(), d.factory.Close())
}

// searchBase picks the base DN for a lookup: an explicit override, then the
// provider's base_dn, then the server's default naming context.
func (d *providerData) searchBase(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if d.baseDN != "" {
		return d.baseDN, nil
	}

	info, err := d.handle.DirectoryInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("base DN not configured and root DSE unavailable: %w", err)
	}
	if info.DefaultNamingContext != "" {
		return info.DefaultNamingContext, nil
	}
	if len(info.NamingContexts) > 0 {
		return info.NamingContexts[0], nil
	}
	return "", errors.New("base DN not configured and the server advertises no naming context")
}

// providerDataFrom unpacks the value handed to a Configure method. It returns
// nil without diagnostics while the provider itself is not yet configured.
func providerDataFrom(data any, kind string, diags *diag.Diagnostics) *providerData {
	if data == nil {
		return nil
	}

	pd, ok := data.(*providerData)
	if !ok {
		diags.AddError(
			fmt.Sprintf("Unexpected %s Configure Type", kind),
			fmt.Sprintf("Expected *providerData, got: %T. Please report this issue to the provider developers.", data),
		)
		return nil
	}
	return pd
}
