package validators_test

import (
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

func TestDNValidator(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		val         types.String
		expectError bool
	}{
		"simple":            {val: types.StringValue("CN=Test,DC=example,DC=com")},
		"lower-case types":  {val: types.StringValue("uid=jdoe,ou=people,dc=example,dc=com")},
		"escaped comma":     {val: types.StringValue(`CN=Test\, User,OU=Users,DC=example,DC=com`)},
		"spaces in values":  {val: types.StringValue("CN=Test User,OU=Domain Users,DC=example,DC=com")},
		"empty value":       {val: types.StringValue("CN=,DC=example,DC=com")},
		"null":              {val: types.StringNull()},
		"unknown":           {val: types.StringUnknown()},
		"empty":             {val: types.StringValue(""), expectError: true},
		"blank":             {val: types.StringValue("  "), expectError: true},
		"no attribute type": {val: types.StringValue("=Test,DC=example,DC=com"), expectError: true},
		"not a dn":          {val: types.StringValue("invalid-dn"), expectError: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			request := validator.StringRequest{
				Path:        path.Root("dn"),
				ConfigValue: tc.val,
			}
			response := validator.StringResponse{}

			validators.IsValidDN().ValidateString(t.Context(), request, &response)

			if !tc.expectError {
				assert.False(t, response.Diagnostics.HasError(), "%s", response.Diagnostics)
				return
			}

			require.Len(t, response.Diagnostics, 1)
			assert.Equal(t, "Invalid Distinguished Name", response.Diagnostics[0].Summary())
			assert.Contains(t, response.Diagnostics[0].Detail(), "is not a valid Distinguished Name")
		})
	}
}

func TestDNValidatorDescription(t *testing.T) {
	v := validators.IsValidDN()

	assert.Equal(t, "value must be a valid Distinguished Name (DN)", v.Description(t.Context()))
	assert.Equal(t, v.Description(t.Context()), v.MarkdownDescription(t.Context()))
}
