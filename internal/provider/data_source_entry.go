package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework-validators/datasourcevalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &EntryDataSource{}
var _ datasource.DataSourceWithConfigValidators = &EntryDataSource{}

func NewEntryDataSource() datasource.DataSource {
	return &EntryDataSource{}
}

// EntryDataSource reads the attributes of a single entry.
type EntryDataSource struct {
	data *providerData
}

// EntryDataSourceModel describes the data source data model.
type EntryDataSourceModel struct {
	// Lookup methods (mutually exclusive)
	DN         customtypes.DNStringValue `tfsdk:"dn"`
	Identifier types.String              `tfsdk:"identifier"`

	BaseDN     types.String `tfsdk:"base_dn"`    // Search base for identifier lookups
	Attributes types.List   `tfsdk:"attributes"` // Attributes to read; all user attributes when null

	// Computed outputs
	ID     types.String `tfsdk:"id"`
	Values types.Map    `tfsdk:"values"`
}

func (d *EntryDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (d *EntryDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the attributes of a single directory entry, named by DN or found by GUID, SID, UPN or SAM account name. " +
			"Binary attributes such as `objectSid` and `objectGUID` are returned in their string forms.",

		Attributes: map[string]schema.Attribute{
			"dn": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the entry. Returned in normalized form. Mutually exclusive with `identifier`.",
				Optional:            true,
				Computed:            true,
				CustomType:          customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"identifier": schema.StringAttribute{
				MarkdownDescription: "A GUID, SID, UPN (`user@example.com`) or SAM account name (`EXAMPLE\\user`) looked up under `base_dn`. " +
					"Must match exactly one entry. Mutually exclusive with `dn`.",
				Optional: true,
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Search base for `identifier` lookups. Defaults to the provider's `base_dn`.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attribute names to read. Defaults to all user attributes. Use `+` for operational attributes.",
				ElementType:         types.StringType,
				Optional:            true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
				},
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "Same as `dn`.",
				Computed:            true,
			},
			"values": schema.MapAttribute{
				MarkdownDescription: "Attribute values keyed by attribute name as returned by the server.",
				ElementType:         types.ListType{ElemType: types.StringType},
				Computed:            true,
			},
		},
	}
}

// ConfigValidators implements datasource.DataSourceWithConfigValidators.
func (d *EntryDataSource) ConfigValidators(ctx context.Context) []datasource.ConfigValidator {
	return []datasource.ConfigValidator{
		datasourcevalidator.ExactlyOneOf(
			path.MatchRoot("dn"),
			path.MatchRoot("identifier"),
		),
		datasourcevalidator.Conflicting(
			path.MatchRoot("dn"),
			path.MatchRoot("base_dn"),
		),
	}
}

func (d *EntryDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	d.data = providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
}

func (d *EntryDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data EntryDataSourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_entry", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn, err := d.resolve(ctx, &data)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Resolving Entry",
			fmt.Sprintf("Could not determine the entry to read: %s", err.Error()),
		)
		return
	}

	var attributes []string
	if !data.Attributes.IsNull() {
		resp.Diagnostics.Append(data.Attributes.ElementsAs(ctx, &attributes, false)...)
		if resp.Diagnostics.HasError() {
			return
		}
	}

	values, err := d.data.handle.ReadAttributes(ctx, dn, attributes)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			resp.Diagnostics.AddError(
				"Entry Not Found",
				fmt.Sprintf("No entry exists at %s.", dn),
			)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Entry",
			fmt.Sprintf("Could not read entry %s: %s", dn, err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Successfully read entry", map[string]any{
		"dn":         dn,
		"attributes": len(values),
	})

	data.ID = types.StringValue(dn)
	data.DN = customtypes.DNString(dn)

	mapValue, diags := types.MapValueFrom(ctx, types.ListType{ElemType: types.StringType}, values)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}
	data.Values = mapValue

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

// resolve returns the normalized DN the configuration names.
func (d *EntryDataSource) resolve(ctx context.Context, data *EntryDataSourceModel) (string, error) {
	if !data.DN.IsNull() && data.DN.ValueString() != "" {
		tflog.Debug(ctx, "Looking up entry by DN", map[string]any{
			"dn": data.DN.ValueString(),
		})
		return data.DN.Normalized()
	}

	identifier := data.Identifier.ValueString()
	baseDN, err := d.data.searchBase(ctx, data.BaseDN.ValueString())
	if err != nil {
		return "", err
	}

	tflog.Debug(ctx, "Looking up entry by identifier", map[string]any{
		"identifier": identifier,
		"type":       ldapclient.DetectIdentifierType(identifier).String(),
		"base_dn":    baseDN,
	})
	return ldapclient.ResolveDN(ctx, d.data.handle, baseDN, identifier)
}
