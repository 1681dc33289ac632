package workflow

import "maps"

// PropertyType identifies how the workflow editor renders and resolves a parameter.
type PropertyType string

const (
	TypeString          PropertyType = "string"
	TypeNumber          PropertyType = "number"
	TypeBoolean         PropertyType = "boolean"
	TypeOptions         PropertyType = "options"
	TypeCollection      PropertyType = "collection"
	TypeFixedCollection PropertyType = "fixedCollection"
)

// PropertyTypeOptions carries rendering hints for a property.
type PropertyTypeOptions struct {
	// Password hides the value in the editor. It is a display hint only;
	// values of such fields are resolved into credentials.Secret.
	Password       bool `json:"password,omitempty" yaml:"password,omitempty"`
	MultipleValues bool `json:"multipleValues,omitempty" yaml:"multipleValues,omitempty"`
}

// DisplayOptions restricts when a property is shown, keyed by the name of
// another parameter and the values that make this one visible.
type DisplayOptions struct {
	Show map[string][]any `json:"show,omitempty" yaml:"show,omitempty"`
}

// OptionValue is a single selectable value of a TypeOptions property.
type OptionValue struct {
	Name        string `json:"name" yaml:"name"`
	Value       string `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Action      string `json:"action,omitempty" yaml:"action,omitempty"`
}

// Property describes one parameter of a node or credential type.
type Property struct {
	DisplayName    string               `json:"displayName" yaml:"displayName"`
	Name           string               `json:"name" yaml:"name"`
	Type           PropertyType         `json:"type" yaml:"type"`
	Description    string               `json:"description,omitempty" yaml:"description,omitempty"`
	Placeholder    string               `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Required       bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Default        any                  `json:"default" yaml:"default"`
	TypeOptions    *PropertyTypeOptions `json:"typeOptions,omitempty" yaml:"typeOptions,omitempty"`
	DisplayOptions *DisplayOptions      `json:"displayOptions,omitempty" yaml:"displayOptions,omitempty"`

	// Options holds nested properties for collections and fixed collections.
	Options []Property `json:"options,omitempty" yaml:"options,omitempty"`
	// Values holds the selectable values for TypeOptions properties.
	Values []OptionValue `json:"values,omitempty" yaml:"values,omitempty"`
}

// IsSecret reports whether the property holds a value that must never be displayed.
func (p Property) IsSecret() bool {
	return p.TypeOptions != nil && p.TypeOptions.Password
}

// Lookup finds a property by name in a flat property list.
func Lookup(props []Property, name string) (Property, bool) {
	for _, p := range props {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// ShowFor returns a copy of props that are only displayed when the parameter
// named key holds one of values.
func ShowFor(props []Property, key string, values ...any) []Property {
	out := make([]Property, len(props))
	for i, p := range props {
		show := map[string][]any{}
		if p.DisplayOptions != nil {
			maps.Copy(show, p.DisplayOptions.Show)
		}
		show[key] = values
		p.DisplayOptions = &DisplayOptions{Show: show}
		out[i] = p
	}
	return out
}
