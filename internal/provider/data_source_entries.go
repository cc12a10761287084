package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ datasource.DataSource = &EntriesDataSource{}

func NewEntriesDataSource() datasource.DataSource {
	return &EntriesDataSource{}
}

// EntriesDataSource runs a search and returns every matching entry.
type EntriesDataSource struct {
	data *providerData
}

// EntriesDataSourceModel describes the data source data model.
type EntriesDataSourceModel struct {
	BaseDN     types.String `tfsdk:"base_dn"`
	Scope      types.String `tfsdk:"scope"`
	Filter     types.String `tfsdk:"filter"`
	Attributes types.List   `tfsdk:"attributes"`
	SizeLimit  types.Int64  `tfsdk:"size_limit"`
	PageSize   types.Int64  `tfsdk:"page_size"`

	// Computed outputs
	ID      types.String `tfsdk:"id"`
	Entries types.List   `tfsdk:"entries"`
	Total   types.Int64  `tfsdk:"total"`
	HasMore types.Bool   `tfsdk:"has_more"`
}

// entryObjectType is the element type of the entries list.
var entryObjectType = types.ObjectType{
	AttrTypes: map[string]attr.Type{
		"dn":     types.StringType,
		"values": types.MapType{ElemType: types.ListType{ElemType: types.StringType}},
	},
}

const (
	defaultSearchFilter = "(objectClass=*)"
	defaultSearchScope  = "subtree"
)

var searchScopes = map[string]ldapclient.SearchScope{
	"base":     ldapclient.ScopeBaseObject,
	"onelevel": ldapclient.ScopeSingleLevel,
	"subtree":  ldapclient.ScopeWholeSubtree,
}

func (d *EntriesDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entries"
}

func (d *EntriesDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Searches the directory and returns every matching entry with its attributes.",

		Attributes: map[string]schema.Attribute{
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Search base. Defaults to the provider's `base_dn`.",
				Optional:            true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"scope": schema.StringAttribute{
				MarkdownDescription: "Search scope: `base`, `onelevel` or `subtree`. Defaults to `subtree`.",
				Optional:            true,
				Validators: []validator.String{
					validators.CaseInsensitiveOneOf("base", "onelevel", "subtree"),
				},
			},
			"filter": schema.StringAttribute{
				MarkdownDescription: "RFC 4515 search filter. Defaults to `(objectClass=*)`.",
				Optional:            true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(3),
				},
			},
			"attributes": schema.ListAttribute{
				MarkdownDescription: "Attribute names to return. Defaults to all user attributes.",
				ElementType:         types.StringType,
				Optional:            true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
				},
			},
			"size_limit": schema.Int64Attribute{
				MarkdownDescription: "Maximum number of entries to return. `0` means no client limit.",
				Optional:            true,
				Validators: []validator.Int64{
					int64validator.AtLeast(0),
				},
			},
			"page_size": schema.Int64Attribute{
				MarkdownDescription: "Request results in pages of this size with the simple paged results control. " +
					"Ignored when the server does not advertise the control.",
				Optional: true,
				Validators: []validator.Int64{
					int64validator.Between(1, 10000),
				},
			},
			"id": schema.StringAttribute{
				MarkdownDescription: "Identifier of this search.",
				Computed:            true,
			},
			"entries": schema.ListAttribute{
				MarkdownDescription: "Matching entries, each with `dn` and `values`.",
				ElementType:         entryObjectType,
				Computed:            true,
			},
			"total": schema.Int64Attribute{
				MarkdownDescription: "Number of entries returned.",
				Computed:            true,
			},
			"has_more": schema.BoolAttribute{
				MarkdownDescription: "Whether `size_limit` cut the result short.",
				Computed:            true,
			},
		},
	}
}

func (d *EntriesDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	d.data = providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
}

func (d *EntriesDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data EntriesDataSourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_entries", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	searchReq := d.buildSearchRequest(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	result, err := d.data.handle.Search(ctx, searchReq)
	if err != nil {
		resp.Diagnostics.AddError(
			"Error Searching Directory",
			fmt.Sprintf("Search under %s with filter %s failed: %s", searchReq.BaseDN, searchReq.Filter, err.Error()),
		)
		return
	}

	tflog.Debug(ctx, "Search completed", map[string]any{
		"base_dn":  searchReq.BaseDN,
		"filter":   searchReq.Filter,
		"entries":  len(result.Entries),
		"has_more": result.HasMore,
	})

	entries := make([]attr.Value, 0, len(result.Entries))
	for _, entry := range result.Entries {
		values, diags := types.MapValueFrom(ctx, types.ListType{ElemType: types.StringType}, entry.Attributes)
		resp.Diagnostics.Append(diags...)
		obj, diags := types.ObjectValue(entryObjectType.AttrTypes, map[string]attr.Value{
			"dn":     types.StringValue(entry.DN),
			"values": values,
		})
		resp.Diagnostics.Append(diags...)
		entries = append(entries, obj)
	}
	if resp.Diagnostics.HasError() {
		return
	}

	list, diags := types.ListValue(entryObjectType, entries)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}

	data.ID = types.StringValue(fmt.Sprintf("%s?%s?%s", searchReq.BaseDN, searchReq.Scope, searchReq.Filter))
	data.Entries = list
	data.Total = types.Int64Value(int64(len(result.Entries)))
	data.HasMore = types.BoolValue(result.HasMore)

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (d *EntriesDataSource) buildSearchRequest(ctx context.Context, data *EntriesDataSourceModel, diags *diag.Diagnostics) *ldapclient.SearchRequest {
	baseDN, err := d.data.searchBase(ctx, data.BaseDN.ValueString())
	if err != nil {
		diags.AddError("Unable to Determine Search Base", err.Error())
		return nil
	}

	scope := defaultSearchScope
	if !data.Scope.IsNull() {
		scope, _ = validators.Canonical(data.Scope.ValueString(), "base", "onelevel", "subtree")
	}

	filter := defaultSearchFilter
	if !data.Filter.IsNull() {
		filter = data.Filter.ValueString()
	}

	req := &ldapclient.SearchRequest{
		BaseDN:    baseDN,
		Scope:     searchScopes[scope],
		Filter:    filter,
		SizeLimit: int(data.SizeLimit.ValueInt64()),
	}

	if !data.Attributes.IsNull() {
		diags.Append(data.Attributes.ElementsAs(ctx, &req.Attributes, false)...)
	}

	if pageSize := data.PageSize.ValueInt64(); pageSize > 0 {
		info, err := d.data.handle.DirectoryInfo(ctx)
		switch {
		case err != nil:
			tflog.Warn(ctx, "Could not read root DSE, searching without paging", map[string]any{
				"error": err.Error(),
			})
		case info.SupportsPaging():
			req.PageSize = uint32(pageSize)
		default:
			tflog.Debug(ctx, "Server does not advertise paged results, searching without paging", map[string]any{
				"vendor": string(info.Vendor),
			})
		}
	}

	return req
}
