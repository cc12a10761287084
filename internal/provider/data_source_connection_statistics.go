package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/datasource/schema"
	"github.com/hashicorp/terraform-plugin-framework/types"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/helpers"
)

var _ datasource.DataSource = &ConnectionStatisticsDataSource{}

func NewConnectionStatisticsDataSource() datasource.DataSource {
	return &ConnectionStatisticsDataSource{}
}

// ConnectionStatisticsDataSource reports the counters of the provider's
// connection and of its factory.
type ConnectionStatisticsDataSource struct {
	data *providerData
}

type ConnectionStatisticsDataSourceModel struct {
	ID                types.String  `tfsdk:"id"`
	Layers            types.List    `tfsdk:"layers"`
	ActiveConnections types.Int64   `tfsdk:"active_connections"`
	Handle            types.Dynamic `tfsdk:"handle"`
	Global            types.Dynamic `tfsdk:"global"`
	Cache             types.Dynamic `tfsdk:"cache"`
}

func (d *ConnectionStatisticsDataSource) Metadata(ctx context.Context, req datasource.MetadataRequest, resp *datasource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_connection_statistics"
}

func (d *ConnectionStatisticsDataSource) Schema(ctx context.Context, req datasource.SchemaRequest, resp *datasource.SchemaResponse) {
	counters := "Object with `reads`, `writes`, `searches`, `operations`, `binds`, `unavailable` and `connections` counts " +
		"plus a `last_*` RFC 3339 timestamp for each, empty when the event never happened."

	resp.Schema = schema.Schema{
		MarkdownDescription: "Reports operation counters for the provider's connection. " +
			"Counters stay zero when the provider's `statistics` setting is off.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "Identifier of the connection handle.",
				Computed:            true,
			},
			"layers": schema.ListAttribute{
				MarkdownDescription: "Layers wrapped around the transport, from the outside in.",
				ElementType:         types.StringType,
				Computed:            true,
			},
			"active_connections": schema.Int64Attribute{
				MarkdownDescription: "Open connection handles in the provider's factory.",
				Computed:            true,
			},
			"handle": schema.DynamicAttribute{
				MarkdownDescription: "Counters of this connection. " + counters,
				Computed:            true,
			},
			"global": schema.DynamicAttribute{
				MarkdownDescription: "Counters across every connection of the factory. " + counters,
				Computed:            true,
			},
			"cache": schema.DynamicAttribute{
				MarkdownDescription: "Object with cache `hits`, `misses`, `evictions`, `hard_entries` and `weak_entries`. Null when caching is off.",
				Computed:            true,
			},
		},
	}
}

func (d *ConnectionStatisticsDataSource) Configure(ctx context.Context, req datasource.ConfigureRequest, resp *datasource.ConfigureResponse) {
	d.data = providerDataFrom(req.ProviderData, "Data Source", &resp.Diagnostics)
}

func (d *ConnectionStatisticsDataSource) Read(ctx context.Context, req datasource.ReadRequest, resp *datasource.ReadResponse) {
	var data ConnectionStatisticsDataSourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogDataSourceOperation(ctx, "ldap_connection_statistics", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	handle := d.data.handle
	data.ID = types.StringValue(handle.ID())
	data.ActiveConnections = types.Int64Value(int64(d.data.factory.ActiveConnections()))

	layers, diags := types.ListValueFrom(ctx, types.StringType, ldapclient.Layers(handle))
	resp.Diagnostics.Append(diags...)
	data.Layers = layers

	var err error
	if data.Handle, err = helpers.DynamicFromMap(ctx, handle.Statistics().Map()); err != nil {
		resp.Diagnostics.AddError("Error Converting Statistics", fmt.Sprintf("Connection statistics: %s", err.Error()))
	}
	if data.Global, err = helpers.DynamicFromMap(ctx, d.data.factory.GlobalStatistics()); err != nil {
		resp.Diagnostics.AddError("Error Converting Statistics", fmt.Sprintf("Factory statistics: %s", err.Error()))
	}

	data.Cache = types.DynamicNull()
	if stats, ok := handle.CacheStats(); ok {
		if data.Cache, err = helpers.DynamicFromMap(ctx, map[string]any{
			"hits":         stats.Hits,
			"misses":       stats.Misses,
			"evictions":    stats.Evictions,
			"hard_entries": stats.HardEntries,
			"weak_entries": stats.WeakEntries,
		}); err != nil {
			resp.Diagnostics.AddError("Error Converting Statistics", fmt.Sprintf("Cache statistics: %s", err.Error()))
		}
	}

	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}
