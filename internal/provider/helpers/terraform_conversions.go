// Package helpers converts plain Go values into Terraform framework values.
package helpers

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/types"
)

// GoValueToTerraform converts a Go value into an attr.Value. Maps become
// objects so their fields may differ in type; string slices become lists.
// Returns an error for unsupported types.
func GoValueToTerraform(ctx context.Context, value any) (attr.Value, error) {
	if value == nil {
		return types.StringNull(), nil
	}

	switch v := value.(type) {
	case string:
		return types.StringValue(v), nil
	case int:
		return types.Int64Value(int64(v)), nil
	case int64:
		return types.Int64Value(v), nil
	case float64:
		return types.Float64Value(v), nil
	case bool:
		return types.BoolValue(v), nil
	case time.Time:
		if v.IsZero() {
			return types.StringNull(), nil
		}
		return types.StringValue(v.UTC().Format(time.RFC3339)), nil
	case []string:
		elements := make([]attr.Value, len(v))
		for i, s := range v {
			elements[i] = types.StringValue(s)
		}
		return types.ListValueMust(types.StringType, elements), nil
	case map[string]any:
		attrTypes := make(map[string]attr.Type, len(v))
		attrValues := make(map[string]attr.Value, len(v))

		for key, val := range v {
			terraformVal, err := GoValueToTerraform(ctx, val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert map element %s: %w", key, err)
			}
			attrValues[key] = terraformVal
			attrTypes[key] = terraformVal.Type(ctx)
		}

		return types.ObjectValueMust(attrTypes, attrValues), nil
	case []any:
		// Tuples allow heterogeneous elements.
		elements := make([]attr.Value, len(v))
		elementTypes := make([]attr.Type, len(v))

		for i, val := range v {
			terraformVal, err := GoValueToTerraform(ctx, val)
			if err != nil {
				return nil, fmt.Errorf("failed to convert list element %d: %w", i, err)
			}
			elements[i] = terraformVal
			elementTypes[i] = terraformVal.Type(ctx)
		}

		return types.TupleValueMust(elementTypes, elements), nil
	default:
		return nil, fmt.Errorf("unsupported Go type for conversion: %T", value)
	}
}

// DynamicFromMap wraps a map as a dynamic object value.
func DynamicFromMap(ctx context.Context, m map[string]any) (types.Dynamic, error) {
	value, err := GoValueToTerraform(ctx, m)
	if err != nil {
		return types.DynamicNull(), err
	}
	return types.DynamicValue(value), nil
}
