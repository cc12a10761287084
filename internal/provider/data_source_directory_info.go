package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ datasource.DataSource = &DirectoryInfoDataSource{}

func NewDirectoryInfoDataSource() datasource.DataSource {
	return &DirectoryInfoDataSource{}
}

// DirectoryInfoDataSource describes the server behind the provider's
// connection from its root DSE.
type DirectoryInfoDataSource struct {
	data *providerData
}

type DirectoryInfoDataSourceModel struct {
	ID                      types.String `tfsdk:"id"`
	Vendor                  types.String `tfsdk:"vendor"`
	VendorName              types.String `tfsdk:"vendor_name"`
	VendorVersion           types.String `tfsdk:"vendor_version"`
	DefaultNamingContext    types.String `tfsdk:"default_naming_context"`
	NamingContexts          types.List   `tfsdk:"naming_contexts"`
	SupportedLDAPVersions   types.List   `tfsdk:"supported_ldap_versions"`
	SupportedControls       types.List   `tfsdk:"supported_controls"`
	SupportedExtensions     types.List   `tfsdk:"supported_extensions"`
	SupportedSASLMechanisms types.List   `tfsdk:"supported_sasl_mechanisms"`
	DomainFunctionality     types.String `tfsdk:"domain_functionality"`
	DNSHostName             types.String `tfsdk:"dns_host_name"`
	SupportsPaging          types.Bool   `tfsdk:"supports_paging"`
	SupportsPasswordModify  types.Bool   `tfsdk:"supports_password_modify"`
}

func (d *DirectoryInfoDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_directory_info"
}

func (d *DirectoryInfoDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	computedString := func(description string) schema.StringAttribute {
		return schema.StringAttribute{MarkdownDescription: description, Computed: true}
	}
	computedList := func(description string) schema.ListAttribute {
		return schema.ListAttribute{MarkdownDescription: description, ElementType: types.StringType, Computed: true}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "Reads the root DSE of the connected server and identifies the directory product.",

		Attributes: map[string]schema.Attribute{
			"id":                        computedString("Same as `dns_host_name` when the server publishes it, otherwise `vendor`."),
			"vendor":                    computedString("Detected product: `active_directory`, `openldap`, `389ds`, `edirectory` or `unknown`."),
			"vendor_name":               computedString("The server's `vendorName`, if published."),
			"vendor_version":            computedString("The server's `vendorVersion`, if published."),
			"default_naming_context":    computedString("The default naming context, used as the search base when none is configured."),
			"naming_contexts":           computedList("Naming contexts held by the server."),
			"supported_ldap_versions":   computedList("Supported LDAP protocol versions."),
			"supported_controls":        computedList("OIDs of supported controls."),
			"supported_extensions":      computedList("OIDs of supported extended operations."),
			"supported_sasl_mechanisms": computedList("Supported SASL mechanisms."),
			"domain_functionality":      computedString("Active Directory domain functional level."),
			"dns_host_name":             computedString("DNS host name of the server, if published."),
			"supports_paging": schema.BoolAttribute{
				MarkdownDescription: "Whether the simple paged results control is supported.",
				Computed:            true,
			},
			"supports_password_modify": schema.BoolAttribute{
				MarkdownDescription: "Whether the RFC 3062 password modify operation is supported.",
				Computed:            true,
			},
		},
	}
}

func (d *DirectoryInfoDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	d.data = providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
}

func (d *DirectoryInfoDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data DirectoryInfoDataSourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_directory_info", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	info, err := d.data.handle.DirectoryInfo(ctx)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Reading Root DSE",
			fmt.Sprintf("Could not read the server's root DSE: %s", err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Read directory info", info.Map())

	mapDirectoryInfoToModel(ctx, info, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func mapDirectoryInfoToModel(ctx context.Context, info *ldapclient.DirectoryInfo, data *DirectoryInfoDataSourceModel, diags *diag.Diagnostics) {
	list := func(values []string) types.List {
		if values == nil {
			values = []string{}
		}
		l, d := types.ListValueFrom(ctx, types.StringType, values)
		diags.Append(d...)
		return l
	}

	id := info.DNSHostName
	if id == "" {
		id = string(info.Vendor)
	}

	data.ID = types.StringValue(id)
	data.Vendor = types.StringValue(string(info.Vendor))
	data.VendorName = stringOrNull(info.VendorName)
	data.VendorVersion = stringOrNull(info.VendorVersion)
	data.DefaultNamingContext = stringOrNull(info.DefaultNamingContext)
	data.NamingContexts = list(info.NamingContexts)
	data.SupportedLDAPVersions = list(info.SupportedLDAPVersions)
	data.SupportedControls = list(info.SupportedControls)
	data.SupportedExtensions = list(info.SupportedExtensions)
	data.SupportedSASLMechanisms = list(info.SupportedSASLMechanisms)
	data.DomainFunctionality = stringOrNull(info.DomainFunctionality)
	data.DNSHostName = stringOrNull(info.DNSHostName)
	data.SupportsPaging = types.BoolValue(info.SupportsPaging())
	data.SupportsPasswordModify = types.BoolValue(info.SupportsPasswordModify())
}
