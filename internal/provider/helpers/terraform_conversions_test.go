package helpers

import (
	"testing"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoValueToTerraform(t *testing.T) {
	ctx := t.Context()

	tests := []struct {
		name  string
		value any
		want  attr.Value
	}{
		{name: "nil", value: nil, want: types.StringNull()},
		{name: "string", value: "x", want: types.StringValue("x")},
		{name: "int", value: 7, want: types.Int64Value(7)},
		{name: "int64", value: int64(-3), want: types.Int64Value(-3)},
		{name: "float64", value: 1.5, want: types.Float64Value(1.5)},
		{name: "bool", value: true, want: types.BoolValue(true)},
		{name: "zero time", value: time.Time{}, want: types.StringNull()},
		{
			name:  "time",
			value: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
			want:  types.StringValue("2025-01-01T12:00:00Z"),
		},
		{
			name:  "strings",
			value: []string{"a", "b"},
			want:  types.ListValueMust(types.StringType, []attr.Value{types.StringValue("a"), types.StringValue("b")}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoValueToTerraform(ctx, tt.value)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestGoValueToTerraform_Nested(t *testing.T) {
	ctx := t.Context()

	got, err := GoValueToTerraform(ctx, map[string]any{
		"reads":  int64(2),
		"vendor": "openldap",
		"urls":   []string{"ldap://dc1"},
		"mixed":  []any{"x", 1},
	})
	require.NoError(t, err)

	obj, ok := got.(types.Object)
	require.True(t, ok)
	attrs := obj.Attributes()
	assert.Equal(t, types.Int64Value(2), attrs["reads"])
	assert.Equal(t, types.StringValue("openldap"), attrs["vendor"])
	assert.IsType(t, types.List{}, attrs["urls"])
	assert.IsType(t, types.Tuple{}, attrs["mixed"])

	_, err = GoValueToTerraform(ctx, struct{}{})
	assert.Error(t, err)
	_, err = GoValueToTerraform(ctx, map[string]any{"bad": uint8(1)})
	assert.Error(t, err)
}

func TestDynamicFromMap(t *testing.T) {
	dyn, err := DynamicFromMap(t.Context(), map[string]any{"binds": int64(1)})
	require.NoError(t, err)
	assert.False(t, dyn.IsNull())
	assert.IsType(t, types.Object{}, dyn.UnderlyingValue())

	dyn, err = DynamicFromMap(t.Context(), map[string]any{"bad": complex(1, 1)})
	assert.Error(t, err)
	assert.True(t, dyn.IsNull())
}
