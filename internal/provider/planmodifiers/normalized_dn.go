// Package planmodifiers holds plan modifiers shared by the provider's resources.
package planmodifiers

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// normalizedDN implements the plan modifier.
type normalizedDN struct {
	attribute string
}

// NormalizedDN returns a plan modifier for a computed attribute that plans
// the normalized form of the DN held in the named root attribute, so the
// value is known before apply.
func NormalizedDN(attribute string) planmodifier.String {
	return normalizedDN{attribute: attribute}
}

// Description returns a human-readable description of the plan modifier.
func (m normalizedDN) Description(_ context.Context) string {
	return fmt.Sprintf("set to the normalized form of %s", m.attribute)
}

// MarkdownDescription returns a markdown description of the plan modifier.
func (m normalizedDN) MarkdownDescription(_ context.Context) string {
	return fmt.Sprintf("set to the normalized form of `%s`", m.attribute)
}

// PlanModifyString implements the plan modification logic.
func (m normalizedDN) PlanModifyString(ctx context.Context, req planmodifier.StringRequest, resp *planmodifier.StringResponse) {
	// Nothing to do on destroy or when the framework kept the prior state.
	if req.Plan.Raw.IsNull() || !req.PlanValue.IsUnknown() {
		return
	}

	var value attr.Value
	resp.Diagnostics.Append(req.Plan.GetAttribute(ctx, path.Root(m.attribute), &value)...)
	if resp.Diagnostics.HasError() || value == nil || value.IsNull() || value.IsUnknown() {
		return
	}

	valuable, ok := value.(basetypes.StringValuable)
	if !ok {
		return
	}
	dn, diags := valuable.ToStringValue(ctx)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	// Invalid DNs are reported by the attribute's validator.
	normalized, err := ldapclient.NormalizeDN(dn.ValueString())
	if err != nil || normalized == "" {
		return
	}

	resp.PlanValue = types.StringValue(normalized)
}
