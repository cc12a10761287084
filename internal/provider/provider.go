package provider

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/hashicorp/terraform-plugin-framework-validators/listvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/providervalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/function"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure LDAPProvider satisfies various provider interfaces.
var _ provider.Provider = &LDAPProvider{}
var _ provider.ProviderWithFunctions = &LDAPProvider{}
var _ provider.ProviderWithConfigValidators = &LDAPProvider{}

var ldapURLPattern = regexp.MustCompile(`(?i)^ldaps?://\S+$`)

// LDAPProvider defines the provider implementation.
type LDAPProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string

	// factoryOptions are passed to every connection factory the provider
	// creates.
	factoryOptions []ldapclient.Option

	data *providerData
}

// LDAPProviderModel describes the provider data model.
type LDAPProviderModel struct {
	// Connection settings
	LDAPURLs       types.List   `tfsdk:"ldap_urls"`
	Domain         types.String `tfsdk:"domain"`
	BaseDN         types.String `tfsdk:"base_dn"`
	ConnectTimeout types.Int64  `tfsdk:"connect_timeout"`

	// Authentication settings
	Username types.String `tfsdk:"username"`
	Password types.String `tfsdk:"password"`

	// Kerberos settings
	KerberosRealm  types.String `tfsdk:"kerberos_realm"`
	KerberosKeytab types.String `tfsdk:"kerberos_keytab"`
	KerberosConfig types.String `tfsdk:"kerberos_config"`
	KerberosCCache types.String `tfsdk:"kerberos_ccache"`
	KerberosSPN    types.String `tfsdk:"kerberos_spn"`

	// TLS settings
	UseTLS            types.Bool   `tfsdk:"use_tls"`
	SkipTLSVerify     types.Bool   `tfsdk:"skip_tls_verify"`
	TLSCACertFile     types.String `tfsdk:"tls_ca_cert_file"`
	TLSClientCertFile types.String `tfsdk:"tls_client_cert_file"`
	TLSClientKeyFile  types.String `tfsdk:"tls_client_key_file"`

	// Layers
	Failover   types.Bool `tfsdk:"failover"`
	Watchdog   types.Bool `tfsdk:"watchdog"`
	Caching    types.Bool `tfsdk:"caching"`
	ThreadSafe types.Bool `tfsdk:"thread_safe"`
	Statistics types.Bool `tfsdk:"statistics"`
	ReadOnly   types.Bool `tfsdk:"read_only"`
	WireTrace  types.Bool `tfsdk:"wire_trace"`

	// Watchdog settings, in seconds
	IdleTimeout      types.Int64 `tfsdk:"idle_timeout"`
	OperationTimeout types.Int64 `tfsdk:"operation_timeout"`
	MaxLifetime      types.Int64 `tfsdk:"max_lifetime"`

	// Failover settings
	FailBackTime types.Int64 `tfsdk:"fail_back_time"`
	RetryCount   types.Int64 `tfsdk:"retry_count"`

	// Cache settings
	CacheMaxSize types.Int64 `tfsdk:"cache_max_size"`
	CacheMaxAge  types.Int64 `tfsdk:"cache_max_age"`
}

func (p *LDAPProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "ldap"
	resp.Version = p.version
}

func optionalString(description string, sensitive bool) schema.StringAttribute {
	return schema.StringAttribute{
		MarkdownDescription: description,
		Optional:            true,
		Sensitive:           sensitive,
	}
}

func optionalBool(description string) schema.BoolAttribute {
	return schema.BoolAttribute{
		MarkdownDescription: description,
		Optional:            true,
	}
}

func optionalInt64(description string) schema.Int64Attribute {
	return schema.Int64Attribute{
		MarkdownDescription: description,
		Optional:            true,
	}
}

func (p *LDAPProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "The LDAP provider reads and manages directory entries over LDAP/LDAPS. " +
			"Every request goes through one resilient connection that can fail over between servers, " +
			"reopen stale connections, cache reads, and refuse writes.",
		Attributes: map[string]schema.Attribute{
			// Connection settings
			"ldap_urls": schema.ListAttribute{
				MarkdownDescription: "Ordered list of LDAP/LDAPS URLs (e.g., `[\"ldaps://dc1.example.com\", \"ldaps://dc2.example.com\"]`). " +
					"The first URL is the primary server. Mutually exclusive with `domain`. " +
					"Can be set via the `LDAP_URLS` environment variable as a comma or space separated list.",
				ElementType: types.StringType,
				Optional:    true,
				Validators: []validator.List{
					listvalidator.SizeAtLeast(1),
					listvalidator.UniqueValues(),
					listvalidator.ValueStringsAre(stringvalidator.RegexMatches(ldapURLPattern, "must be an ldap:// or ldaps:// URL")),
				},
			},
			"domain": schema.StringAttribute{
				MarkdownDescription: "Domain name for SRV-based server discovery (e.g., `example.com`). " +
					"Mutually exclusive with `ldap_urls`. Can be set via the `LDAP_DOMAIN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"base_dn": schema.StringAttribute{
				MarkdownDescription: "Base DN for searches (e.g., `dc=example,dc=com`). " +
					"Defaults to the server's default naming context. Can be set via the `LDAP_BASE_DN` environment variable.",
				Optional: true,
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"connect_timeout": optionalInt64("Dial and request timeout in seconds. Defaults to `30`. " +
				"Can be set via the `LDAP_CONNECT_TIMEOUT` environment variable."),

			// Authentication settings
			"username": optionalString("Bind identity. Supports DN, UPN, or SAM account name formats. "+
				"Omit for an anonymous bind. Can be set via the `LDAP_USERNAME` environment variable.", false),
			"password": optionalString("Password for simple or Kerberos password authentication. "+
				"Can be set via the `LDAP_PASSWORD` environment variable.", true),

			// Kerberos settings
			"kerberos_realm": optionalString("Kerberos realm for GSSAPI authentication (e.g., `EXAMPLE.COM`). "+
				"Can be set via the `LDAP_KERBEROS_REALM` environment variable.", false),
			"kerberos_keytab": optionalString("Path to a Kerberos keytab file. "+
				"Can be set via the `LDAP_KERBEROS_KEYTAB` environment variable.", false),
			"kerberos_config": optionalString("Path to the Kerberos configuration file. Defaults to the system default. "+
				"Can be set via the `LDAP_KERBEROS_CONFIG` environment variable.", false),
			"kerberos_ccache": optionalString("Path to a Kerberos credential cache. "+
				"Can be set via the `LDAP_KERBEROS_CCACHE` environment variable.", false),
			"kerberos_spn": optionalString("Override the service principal name, e.g. `ldap/dc1.example.com` when connecting by IP address. "+
				"Can be set via the `LDAP_KERBEROS_SPN` environment variable.", false),

			// TLS settings
			"use_tls": optionalBool("Upgrade `ldap://` connections with StartTLS. Defaults to `true`. " +
				"Can be set via the `LDAP_USE_TLS` environment variable."),
			"skip_tls_verify": optionalBool("Skip TLS certificate verification. Not recommended for production. Defaults to `false`. " +
				"Can be set via the `LDAP_SKIP_TLS_VERIFY` environment variable."),
			"tls_ca_cert_file": optionalString("Path to a CA certificate file for TLS verification. "+
				"Can be set via the `LDAP_TLS_CA_CERT_FILE` environment variable.", false),
			"tls_client_cert_file": optionalString("Path to a client certificate for mutual TLS (SASL EXTERNAL). "+
				"Can be set via the `LDAP_TLS_CLIENT_CERT_FILE` environment variable.", false),
			"tls_client_key_file": optionalString("Path to the client private key for mutual TLS. "+
				"Can be set via the `LDAP_TLS_CLIENT_KEY_FILE` environment variable.", true),

			// Layers
			"failover": optionalBool("Fail over between the servers in `ldap_urls`. Always on when more than one URL is given. " +
				"Can be set via the `LDAP_FAILOVER` environment variable."),
			"watchdog": optionalBool("Close idle, stuck or expired connections and reopen them on the next call. Defaults to `false`. " +
				"Can be set via the `LDAP_WATCHDOG` environment variable."),
			"caching": optionalBool("Cache read and search results until the next write. Defaults to `false`. " +
				"Can be set via the `LDAP_CACHING` environment variable."),
			"thread_safe": optionalBool("Serialize every network call on the connection. Defaults to `true`. " +
				"Can be set via the `LDAP_THREAD_SAFE` environment variable."),
			"statistics": optionalBool("Count operations for the `ldap_connection_statistics` data source. Defaults to `true`. " +
				"Can be set via the `LDAP_STATISTICS` environment variable."),
			"read_only": optionalBool("Refuse every write operation. Defaults to `false`. " +
				"Can be set via the `LDAP_READ_ONLY` environment variable."),
			"wire_trace": optionalBool("Log every request and response at trace level on the `wire` subsystem. Defaults to `false`. " +
				"Can be set via the `LDAP_WIRE_TRACE` environment variable."),

			// Watchdog settings
			"idle_timeout": optionalInt64("Seconds an unused connection stays open. Defaults to `300`. " +
				"Can be set via the `LDAP_IDLE_TIMEOUT` environment variable."),
			"operation_timeout": optionalInt64("Seconds a single operation may run before its connection is closed. Defaults to `120`. " +
				"Can be set via the `LDAP_OPERATION_TIMEOUT` environment variable."),
			"max_lifetime": optionalInt64("Seconds after which a connection is replaced regardless of use. Defaults to `3600`. " +
				"Can be set via the `LDAP_MAX_LIFETIME` environment variable."),

			// Failover settings
			"fail_back_time": optionalInt64("Seconds on a secondary server before the primary is tried again. Defaults to `600`. " +
				"Can be set via the `LDAP_FAIL_BACK_TIME` environment variable."),
			"retry_count": optionalInt64("Attempts per server for a single operation. Defaults to `2`. " +
				"Can be set via the `LDAP_RETRY_COUNT` environment variable."),

			// Cache settings
			"cache_max_size": optionalInt64("Number of results the cache holds strongly. Defaults to `128`. " +
				"Can be set via the `LDAP_CACHE_MAX_SIZE` environment variable."),
			"cache_max_age": optionalInt64("Seconds a cached result stays valid. Defaults to `30`. " +
				"Can be set via the `LDAP_CACHE_MAX_AGE` environment variable."),
		},
	}
}

// ConfigValidators implements provider.ProviderWithConfigValidators.
func (p *LDAPProvider) ConfigValidators(ctx context.Context) []provider.ConfigValidator {
	return []provider.ConfigValidator{
		providervalidator.Conflicting(
			path.MatchRoot("domain"),
			path.MatchRoot("ldap_urls"),
		),
		providervalidator.RequiredTogether(
			path.MatchRoot("tls_client_cert_file"),
			path.MatchRoot("tls_client_key_file"),
		),
	}
}

func (p *LDAPProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data LDAPProviderModel

	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	ctx = p.configureLogging(ctx)

	tflog.Info(ctx, "Configuring LDAP provider", map[string]any{
		"version": p.version,
	})

	config := p.buildLDAPConfig(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	if err := config.Validate(); err != nil {
		resp.Diagnostics.AddError(
			"Invalid LDAP Configuration",
			"The provider configuration is incomplete or inconsistent. Servers are taken from `ldap_urls` or "+
				"discovered from `domain`, in the provider block or through the `LDAP_URLS` and `LDAP_DOMAIN` "+
				"environment variables.\n\n"+
				"Configuration Error: "+err.Error(),
		)
		return
	}

	factory, err := ldapclient.NewFactory(ctx, p.factoryOptions...)
	if err != nil {
		resp.Diagnostics.AddError(
			"Unable to Create LDAP Connection Factory",
			"An unexpected error occurred when creating the LDAP connection factory. "+
				"If the error is not clear, please contact the provider developers.\n\n"+
				"Factory Error: "+err.Error(),
		)
		return
	}

	start := time.Now()
	handle, err := factory.NewConnection(ctx, config)
	if err != nil {
		factory.Close()
		tflog.Error(ctx, "Failed to connect", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		resp.Diagnostics.AddError(
			"Unable to Connect to LDAP Server",
			"The provider could not establish a connection to any configured LDAP server. "+
				"Please verify your connection and authentication settings.\n\n"+
				"Connection Error: "+err.Error(),
		)
		return
	}

	tflog.Info(ctx, "Connection established successfully", map[string]any{
		"handle_id":   handle.ID(),
		"layers":      ldapclient.Layers(handle),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if p.data != nil {
		if err := p.data.close(); err != nil {
			tflog.Warn(ctx, "Failed to close previous connection", map[string]any{
				"error": err.Error(),
			})
		}
	}
	p.data = &providerData{
		factory: factory,
		handle:  handle,
		baseDN:  config.BaseDN,
	}

	resp.DataSourceData = p.data
	resp.ResourceData = p.data
}

// configureLogging sets up logging configuration based on environment variables.
func (p *LDAPProvider) configureLogging(ctx context.Context) context.Context {
	ctx = tflog.SetField(ctx, "provider", "ldap")
	ctx = tflog.SetField(ctx, "provider_version", p.version)
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, "password")

	tflog.Debug(ctx, "LDAP provider logging configured")

	return ctx
}

// buildLDAPConfig constructs the connection configuration from provider config
// and environment variables. Unset values keep the client defaults.
func (p *LDAPProvider) buildLDAPConfig(ctx context.Context, data *LDAPProviderModel, diags *diag.Diagnostics) *ldapclient.Config {
	config := ldapclient.DefaultConfig()

	if !data.LDAPURLs.IsNull() && !data.LDAPURLs.IsUnknown() {
		var urls []string
		diags.Append(data.LDAPURLs.ElementsAs(ctx, &urls, false)...)
		config.URLs = urls
	} else {
		config.URLs = ldapclient.ParseURLList(os.Getenv("LDAP_URLS"))
	}

	config.Domain = p.getStringValue(data.Domain, "LDAP_DOMAIN")
	config.BaseDN = p.getStringValue(data.BaseDN, "LDAP_BASE_DN")
	config.Timeout = p.getSecondsValue(data.ConnectTimeout, "LDAP_CONNECT_TIMEOUT", config.Timeout)

	config.BindDN = p.getStringValue(data.Username, "LDAP_USERNAME")
	config.Password = p.getStringValue(data.Password, "LDAP_PASSWORD")
	config.KerberosRealm = p.getStringValue(data.KerberosRealm, "LDAP_KERBEROS_REALM")
	config.KerberosKeytab = p.getStringValue(data.KerberosKeytab, "LDAP_KERBEROS_KEYTAB")
	config.KerberosConfig = p.getStringValue(data.KerberosConfig, "LDAP_KERBEROS_CONFIG")
	config.KerberosCCache = p.getStringValue(data.KerberosCCache, "LDAP_KERBEROS_CCACHE")
	config.KerberosSPN = p.getStringValue(data.KerberosSPN, "LDAP_KERBEROS_SPN")

	config.UseTLS = p.getBoolValue(data.UseTLS, "LDAP_USE_TLS", config.UseTLS)
	config.SkipTLSVerify = p.getBoolValue(data.SkipTLSVerify, "LDAP_SKIP_TLS_VERIFY", config.SkipTLSVerify)
	config.TLSCACertFile = p.getStringValue(data.TLSCACertFile, "LDAP_TLS_CA_CERT_FILE")
	config.TLSClientCertFile = p.getStringValue(data.TLSClientCertFile, "LDAP_TLS_CLIENT_CERT_FILE")
	config.TLSClientKeyFile = p.getStringValue(data.TLSClientKeyFile, "LDAP_TLS_CLIENT_KEY_FILE")

	config.EnableFailover = p.getBoolValue(data.Failover, "LDAP_FAILOVER", config.EnableFailover)
	config.EnableWatchdog = p.getBoolValue(data.Watchdog, "LDAP_WATCHDOG", config.EnableWatchdog)
	config.EnableCaching = p.getBoolValue(data.Caching, "LDAP_CACHING", config.EnableCaching)
	config.EnableThreadSafety = p.getBoolValue(data.ThreadSafe, "LDAP_THREAD_SAFE", config.EnableThreadSafety)
	config.EnableStatistics = p.getBoolValue(data.Statistics, "LDAP_STATISTICS", config.EnableStatistics)
	config.ReadOnly = p.getBoolValue(data.ReadOnly, "LDAP_READ_ONLY", config.ReadOnly)
	config.EnableWireTrace = p.getBoolValue(data.WireTrace, "LDAP_WIRE_TRACE", config.EnableWireTrace)

	config.IdleTimeout = p.getSecondsValue(data.IdleTimeout, "LDAP_IDLE_TIMEOUT", config.IdleTimeout)
	config.OperationTimeout = p.getSecondsValue(data.OperationTimeout, "LDAP_OPERATION_TIMEOUT", config.OperationTimeout)
	config.MaxLifetime = p.getSecondsValue(data.MaxLifetime, "LDAP_MAX_LIFETIME", config.MaxLifetime)

	config.FailBackTime = p.getSecondsValue(data.FailBackTime, "LDAP_FAIL_BACK_TIME", config.FailBackTime)
	config.RetryCount = int(p.getInt64Value(data.RetryCount, "LDAP_RETRY_COUNT", int64(config.RetryCount)))

	config.CacheMaxSize = int(p.getInt64Value(data.CacheMaxSize, "LDAP_CACHE_MAX_SIZE", int64(config.CacheMaxSize)))
	config.CacheMaxAge = p.getSecondsValue(data.CacheMaxAge, "LDAP_CACHE_MAX_AGE", config.CacheMaxAge)

	return config
}

// Helper functions for configuration value resolution

func (p *LDAPProvider) getStringValue(configValue types.String, envVar string) string {
	if !configValue.IsNull() && configValue.ValueString() != "" {
		return configValue.ValueString()
	}
	return os.Getenv(envVar)
}

func (p *LDAPProvider) getBoolValue(configValue types.Bool, envVar string, defaultValue bool) bool {
	if !configValue.IsNull() {
		return configValue.ValueBool()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseBool(envValue); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) getInt64Value(configValue types.Int64, envVar string, defaultValue int64) int64 {
	if !configValue.IsNull() {
		return configValue.ValueInt64()
	}
	if envValue := os.Getenv(envVar); envValue != "" {
		if parsed, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (p *LDAPProvider) getSecondsValue(configValue types.Int64, envVar string, defaultValue time.Duration) time.Duration {
	seconds := p.getInt64Value(configValue, envVar, int64(defaultValue/time.Second))
	return time.Duration(seconds) * time.Second
}

func (p *LDAPProvider) Resources(ctx context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewEntryResource,
	}
}

func (p *LDAPProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return []func() datasource.DataSource{
		NewConnectionStatisticsDataSource,
		NewDirectoryInfoDataSource,
		NewEntriesDataSource,
		NewEntryDataSource,
		NewWhoAmIDataSource,
	}
}

func (p *LDAPProvider) Functions(ctx context.Context) []func() function.Function {
	return []func() function.Function{
		NewBuildDNFunction,
		NewNormalizeDNFunction,
	}
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &LDAPProvider{
			version: version,
		}
	}
}
