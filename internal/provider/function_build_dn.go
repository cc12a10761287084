package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework/function"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

var _ function.Function = &BuildDNFunction{}

// attributeTypePattern matches an attribute descriptor or a numeric OID.
var attributeTypePattern = regexp.MustCompile(`^(?:[A-Za-z][A-Za-z0-9-]*|[0-9]+(?:\.[0-9]+)*)$`)

func NewBuildDNFunction() function.Function {
	return &BuildDNFunction{}
}

// BuildDNFunction implements the build_dn function.
type BuildDNFunction struct{}

// Metadata returns the function name.
func (f BuildDNFunction) Metadata(_ context.Context, req function.MetadataRequest, resp *function.MetadataResponse) {
	resp.Name = "build_dn"
}

// Definition returns the function signature.
func (f BuildDNFunction) Definition(_ context.Context, req function.DefinitionRequest, resp *function.DefinitionResponse) {
	resp.Definition = function.Definition{
		Summary:     "Build a Distinguished Name from an RDN and its parent",
		Description: "Escapes the value, joins the RDN to the parent DN and returns the result in normalized form.",
		MarkdownDescription: "Escapes `value` per RFC 4514, joins `attribute=value` to `parent` and returns the result in normalized form, " +
			"so `build_dn(\"cn\", \"Doe, John\", \"ou=users,dc=example,dc=com\")` returns `CN=Doe\\, John,OU=users,DC=example,DC=com`.",
		Parameters: []function.Parameter{
			function.StringParameter{
				Name:                "attribute",
				Description:         "Naming attribute type, such as cn, ou or uid.",
				MarkdownDescription: "Naming attribute type, such as `cn`, `ou` or `uid`.",
			},
			function.StringParameter{
				Name:        "value",
				Description: "Unescaped value of the naming attribute.",
			},
			function.StringParameter{
				Name:                "parent",
				Description:         "Parent DN. An empty string builds a single-RDN DN.",
				MarkdownDescription: "Parent DN. An empty string builds a single-RDN DN.",
			},
		},
		Return: function.StringReturn{},
	}
}

// Run implements the function logic.
func (f BuildDNFunction) Run(ctx context.Context, req function.RunRequest, resp *function.RunResponse) {
	var attribute, value, parent string

	resp.Error = function.ConcatFuncErrors(resp.Error, req.Arguments.Get(ctx, &attribute, &value, &parent))
	if resp.Error != nil {
		return
	}

	dn, err := BuildDN(attribute, value, parent)
	if err != nil {
		resp.Error = function.NewFuncError(err.Error())
		return
	}

	resp.Error = function.ConcatFuncErrors(resp.Error, resp.Result.Set(ctx, dn))
}

// BuildDN returns the normalized DN of the entry named attribute=value under
// parent.
func BuildDN(attribute, value, parent string) (string, error) {
	attribute = strings.TrimSpace(attribute)
	if !attributeTypePattern.MatchString(attribute) {
		return "", fmt.Errorf("invalid attribute type %q", attribute)
	}
	if value == "" {
		return "", errors.New("value cannot be empty")
	}

	dn := attribute + "=" + ldapclient.EscapeDNValue(value)
	if parent = strings.TrimSpace(parent); parent != "" {
		dn += "," + parent
	}

	normalized, err := ldapclient.NormalizeDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid parent DN %q: %w", parent, err)
	}
	return normalized, nil
}
