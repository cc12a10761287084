package provider

import (
	"context"
	"fmt"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &NormalizeDNFunction{}

func NewNormalizeDNFunction() function.Function {
	return &NormalizeDNFunction{}
}

// NormalizeDNFunction implements the normalize_dn function.
type NormalizeDNFunction struct{}

// Metadata returns the function name.
func (f NormalizeDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "normalize_dn"
}

// Definition returns the function signature.
func (f NormalizeDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Normalize a Distinguished Name",
		Description: "Upper-cases attribute types, drops insignificant spaces and re-escapes values. Value case is preserved.",
		MarkdownDescription: "Upper-cases attribute types, drops insignificant spaces and re-escapes values. Value case is preserved, " +
			"so `normalize_dn(\"cn=Doe\\\\, John, dc=example\")` returns `CN=Doe\\, John,DC=example`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:        "dn",
				Description: "Distinguished Name to normalize.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f NormalizeDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var dn string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &dn))
	if resp.Error != nil {
		return
	}

	if err := ldapclient.ValidateDN(dn); err != nil {
		resp.Error = function.NewArgumentFuncError(0, fmt.Sprintf("Invalid Distinguished Name %q: %s", dn, err.Error()))
		return
	}

	normalized, err := ldapclient.NormalizeDN(dn)
	if err != nil {
		resp.Error = function.NewArgumentFuncError(0, err.Error())
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, normalized))
}
