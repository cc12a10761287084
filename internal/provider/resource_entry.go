package provider

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hashicorp/terraform-plugin-framework-validators/mapvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/setvalidator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/attr"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/path"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
	"github.com/isometry/terraform-provider-ldap/internal/provider/planmodifiers"
	customtypes "github.com/isometry/terraform-provider-ldap/internal/provider/types"
	"github.com/isometry/terraform-provider-ldap/internal/provider/validators"
)

// Ensure provider defined types fully satisfy framework interfaces.
var _ resource.Resource = &EntryResource{}
var _ resource.ResourceWithImportState = &EntryResource{}

func NewEntryResource() resource.Resource {
	return &EntryResource{}
}

// EntryResource manages a directory entry and the attributes listed in its
// configuration. Attributes it does not list are left alone.
type EntryResource struct {
	data *providerData
}

// EntryResourceModel describes the resource data model.
type EntryResourceModel struct {
	ID            types.String              `tfsdk:"id"`             // Normalized DN (computed)
	DN            customtypes.DNStringValue `tfsdk:"dn"`             // Required
	ObjectClasses types.Set                 `tfsdk:"object_classes"` // Required
	Attributes    types.Map                 `tfsdk:"attributes"`     // Optional - map of set of string
}

const objectClassAttribute = "objectClass"

var attributeValuesType = types.SetType{ElemType: types.StringType}

func (r *EntryResource) Metadata(ctx context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse) {
	resp.TypeName = req.ProviderTypeName + "_entry"
}

func (r *EntryResource) Schema(ctx context.Context, req resource.SchemaRequest, resp *resource.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Manages a directory entry. Only the attributes named in `attributes` are managed; " +
			"values of the naming attribute are added from `dn` when not listed. Changing `dn` renames or moves the entry.",

		Attributes: map[string]schema.Attribute{
			"id": schema.StringAttribute{
				MarkdownDescription: "The normalized Distinguished Name of the entry.",
				Computed:            true,
				PlanModifiers: []planmodifier.String{
					planmodifiers.NormalizedDN("dn"),
				},
			},
			"dn": schema.StringAttribute{
				MarkdownDescription: "Distinguished Name of the entry (e.g., `cn=app,ou=Services,dc=example,dc=com`). " +
					"Compared case-insensitively after normalization.",
				Required:   true,
				CustomType: customtypes.DNStringType{},
				Validators: []validator.String{
					validators.IsValidDN(),
				},
			},
			"object_classes": schema.SetAttribute{
				MarkdownDescription: "Object classes of the entry. Classes the server adds on its own, such as `top`, " +
					"do not cause a difference.",
				ElementType: types.StringType,
				Required:    true,
				Validators: []validator.Set{
					setvalidator.SizeAtLeast(1),
					setvalidator.ValueStringsAre(stringvalidator.LengthAtLeast(1)),
				},
			},
			"attributes": schema.MapAttribute{
				MarkdownDescription: "Managed attributes and their values. Removing a key deletes the attribute from the entry.",
				ElementType:         attributeValuesType,
				Optional:            true,
				Validators: []validator.Map{
					mapvalidator.KeysAre(
						stringvalidator.LengthAtLeast(1),
						stringvalidator.NoneOfCaseInsensitive(objectClassAttribute),
					),
					mapvalidator.ValueSetsAre(setvalidator.SizeAtLeast(1)),
				},
			},
		},
	}
}

func (r *EntryResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	r.data = providerDataFrom(req.ProviderData, "Resource", &resp.Diagnostics)
}

func (r *EntryResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "create", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn, err := data.DN.Normalized()
	if err != nil {
		resp.Diagnostics.AddError("Invalid DN", fmt.Sprintf("Could not normalize DN: %s", err.Error()))
		return
	}

	attributes := entryAttributes(ctx, &data, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	rdn, err := ldapclient.RDNAttributes(data.DN.ValueString())
	if err != nil {
		resp.Diagnostics.AddError("Invalid DN", err.Error())
		return
	}
	for name, value := range rdn {
		key := keyFold(attributes, name)
		if !slices.ContainsFunc(attributes[key], func(v string) bool { return strings.EqualFold(v, value) }) {
			attributes[key] = append(attributes[key], value)
		}
	}

	tflog.Debug(ctx, "Creating entry", map[string]any{
		"dn":         dn,
		"attributes": slices.Sorted(maps.Keys(attributes)),
	})

	if err := r.data.handle.Add(ctx, &ldapclient.AddRequest{DN: dn, Attributes: attributes}); err != nil {
		addWriteError(&resp.Diagnostics, "Error Creating Entry", dn, err)
		return
	}

	tflog.Debug(ctx, "Created entry", map[string]any{"dn": dn})

	data.ID = types.StringValue(dn)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Read(ctx context.Context, req resource.ReadRequest, resp *resource.ReadResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "read", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.ID.ValueString()
	tflog.Debug(ctx, "Reading entry", map[string]any{"dn": dn})

	managed := []string{objectClassAttribute}
	var current map[string][]string
	if !data.Attributes.IsNull() {
		resp.Diagnostics.Append(data.Attributes.ElementsAs(ctx, &current, false)...)
		if resp.Diagnostics.HasError() {
			return
		}
		managed = append(managed, slices.Sorted(maps.Keys(current))...)
	}

	values, err := r.data.handle.ReadAttributes(ctx, dn, managed)
	if err != nil {
		if ldapclient.IsNotFoundError(err) {
			tflog.Info(ctx, "Entry no longer exists, removing from state", map[string]any{"dn": dn})
			resp.State.RemoveResource(ctx)
			return
		}
		resp.Diagnostics.AddError(
			"Error Reading Entry",
			fmt.Sprintf("Could not read entry %s: %s", dn, err.Error()),
		)
		return
	}

	var classes []string
	resp.Diagnostics.Append(data.ObjectClasses.ElementsAs(ctx, &classes, false)...)
	if resp.Diagnostics.HasError() {
		return
	}
	serverClasses, _ := lookupFold(values, objectClassAttribute)
	if len(classes) == 0 || !containsAllFold(serverClasses, classes) {
		classes = append([]string{}, serverClasses...)
	}
	objectClasses, diags := types.SetValueFrom(ctx, types.StringType, classes)
	resp.Diagnostics.Append(diags...)
	data.ObjectClasses = objectClasses

	if current != nil {
		for name, stateValues := range current {
			serverValues, _ := lookupFold(values, name)
			if !sameValuesFold(stateValues, serverValues) {
				current[name] = serverValues
			}
			if current[name] == nil {
				current[name] = []string{}
			}
		}
		attributes, diags := types.MapValueFrom(ctx, attributeValuesType, current)
		resp.Diagnostics.Append(diags...)
		data.Attributes = attributes
	}

	if data.DN.IsNull() {
		data.DN = customtypes.DNString(dn)
	}

	if resp.Diagnostics.HasError() {
		return
	}

	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Update(ctx context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	var data, state EntryResourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "update", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	resp.Diagnostics.Append(req.State.Get(ctx, &state)...)
	if resp.Diagnostics.HasError() {
		return
	}

	oldDN := state.ID.ValueString()
	newDN, err := data.DN.Normalized()
	if err != nil {
		resp.Diagnostics.AddError("Invalid DN", fmt.Sprintf("Could not normalize DN: %s", err.Error()))
		return
	}

	if !strings.EqualFold(oldDN, newDN) {
		modifyDN, err := renameRequest(oldDN, newDN)
		if err != nil {
			resp.Diagnostics.AddError("Invalid DN", err.Error())
			return
		}

		tflog.Debug(ctx, "Renaming entry", map[string]any{
			"dn":           oldDN,
			"new_rdn":      modifyDN.NewRDN,
			"new_superior": modifyDN.NewSuperior,
		})

		if err := r.data.handle.ModifyDN(ctx, modifyDN); err != nil {
			addWriteError(&resp.Diagnostics, "Error Renaming Entry", oldDN, err)
			return
		}
	}

	modify := entryModifications(ctx, newDN, &data, &state, &resp.Diagnostics)
	if resp.Diagnostics.HasError() {
		return
	}

	if len(modify.ReplaceAttributes) > 0 {
		tflog.Debug(ctx, "Modifying entry", map[string]any{
			"dn":         newDN,
			"attributes": slices.Sorted(maps.Keys(modify.ReplaceAttributes)),
		})

		if err := r.data.handle.Modify(ctx, modify); err != nil {
			addWriteError(&resp.Diagnostics, "Error Updating Entry", newDN, err)
			return
		}
	} else {
		tflog.Debug(ctx, "No attribute changes detected for entry", map[string]any{"dn": newDN})
	}

	data.ID = types.StringValue(newDN)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EntryResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data EntryResourceModel

	ctx = initializeLogging(ctx)
	logCompletion := ldapclient.LogResourceOperation(ctx, "ldap_entry", "delete", nil)
	defer func() { logCompletion(firstError(resp.Diagnostics)) }()

	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	dn := data.ID.ValueString()
	tflog.Debug(ctx, "Deleting entry", map[string]any{"dn": dn})

	if err := r.data.handle.Delete(ctx, dn); err != nil {
		if ldapclient.IsNotFoundError(err) {
			tflog.Debug(ctx, "Entry already deleted", map[string]any{"dn": dn})
			return
		}
		addWriteError(&resp.Diagnostics, "Error Deleting Entry", dn, err)
		return
	}

	tflog.Debug(ctx, "Deleted entry", map[string]any{"dn": dn})
}

// ImportState takes the entry's DN. Imported entries manage no attributes
// until `attributes` is configured.
func (r *EntryResource) ImportState(ctx context.Context, req resource.ImportStateRequest, resp *resource.ImportStateResponse) {
	importID := strings.TrimSpace(req.ID)

	tflog.Debug(ctx, "Importing entry", map[string]any{"import_id": importID})

	dn, err := ldapclient.NormalizeDN(importID)
	if err != nil || dn == "" {
		resp.Diagnostics.AddError(
			"Invalid Import ID",
			fmt.Sprintf("The import ID %q must be the Distinguished Name of the entry.", req.ID),
		)
		return
	}

	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("id"), dn)...)
	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("dn"), customtypes.DNString(dn))...)
	resp.Diagnostics.Append(resp.State.SetAttribute(ctx, path.Root("object_classes"), types.SetValueMust(types.StringType, []attr.Value{}))...)
}

// entryAttributes returns every attribute to write for data, object classes
// included.
func entryAttributes(ctx context.Context, data *EntryResourceModel, diags *diag.Diagnostics) map[string][]string {
	attributes := make(map[string][]string)
	if !data.Attributes.IsNull() && !data.Attributes.IsUnknown() {
		diags.Append(data.Attributes.ElementsAs(ctx, &attributes, false)...)
	}

	var classes []string
	diags.Append(data.ObjectClasses.ElementsAs(ctx, &classes, false)...)
	attributes[objectClassAttribute] = classes

	return attributes
}

// entryModifications builds the replace operations that turn state into plan.
// Attributes dropped from the plan are replaced with no values, which removes
// them whether or not they still exist.
func entryModifications(ctx context.Context, dn string, plan, state *EntryResourceModel, diags *diag.Diagnostics) *ldapclient.ModifyRequest {
	modify := &ldapclient.ModifyRequest{DN: dn, ReplaceAttributes: make(map[string][]string)}

	if !plan.ObjectClasses.Equal(state.ObjectClasses) {
		var classes []string
		diags.Append(plan.ObjectClasses.ElementsAs(ctx, &classes, false)...)
		modify.ReplaceAttributes[objectClassAttribute] = classes
	}

	planned := plan.Attributes.Elements()
	prior := state.Attributes.Elements()

	for name, value := range planned {
		if old, ok := prior[name]; ok && old.Equal(value) {
			continue
		}
		var values []string
		diags.Append(value.(types.Set).ElementsAs(ctx, &values, false)...)
		modify.ReplaceAttributes[name] = values
	}
	for name := range prior {
		if _, ok := planned[name]; !ok {
			modify.ReplaceAttributes[name] = []string{}
		}
	}

	return modify
}

// renameRequest moves oldDN to newDN, changing the superior only when the
// parent differs.
func renameRequest(oldDN, newDN string) (*ldapclient.ModifyDNRequest, error) {
	_, oldParent, err := ldapclient.SplitDN(oldDN)
	if err != nil {
		return nil, err
	}
	rdn, parent, err := ldapclient.SplitDN(newDN)
	if err != nil {
		return nil, err
	}

	req := &ldapclient.ModifyDNRequest{DN: oldDN, NewRDN: rdn, DeleteOldRDN: true}
	if !strings.EqualFold(parent, oldParent) {
		req.NewSuperior = parent
	}
	return req, nil
}

func addWriteError(diags *diag.Diagnostics, summary, dn string, err error) {
	switch {
	case errors.Is(err, ldapclient.ErrReadOnly):
		diags.AddError(
			"Provider Is Read-Only",
			fmt.Sprintf("Cannot change %s because the provider is configured with read_only = true.", dn),
		)
	case ldapclient.IsConflictError(err):
		diags.AddError(summary, fmt.Sprintf("The change to %s conflicts with existing directory content: %s", dn, err.Error()))
	case ldapclient.IsPermissionError(err):
		diags.AddError(summary, fmt.Sprintf("Insufficient access to change %s: %s", dn, err.Error()))
	default:
		diags.AddError(summary, fmt.Sprintf("Could not change %s: %s", dn, err.Error()))
	}
}

// keyFold returns the key of m that matches name case-insensitively, or name.
func keyFold(m map[string][]string, name string) string {
	if _, ok := m[name]; ok {
		return name
	}
	for key := range m {
		if strings.EqualFold(key, name) {
			return key
		}
	}
	return name
}

// lookupFold returns the values of name, matched case-insensitively.
func lookupFold(m map[string][]string, name string) ([]string, bool) {
	values, ok := m[keyFold(m, name)]
	return values, ok
}

func containsAllFold(have, want []string) bool {
	for _, w := range want {
		if !slices.ContainsFunc(have, func(h string) bool { return strings.EqualFold(h, w) }) {
			return false
		}
	}
	return true
}

func sameValuesFold(a, b []string) bool {
	return len(a) == len(b) && containsAllFold(a, b) && containsAllFold(b, a)
}
