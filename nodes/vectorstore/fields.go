package vectorstore

import (
	"fmt"
	"strings"

	"github.com/mr-good-bye/chroma-nodes/workflow"
)

const (
	ParamMode    = "mode"
	ParamPrompt  = "prompt"
	ParamTopK    = "topK"
	ParamOptions = "options"

	// OptionMetadataFilter is the options entry holding the metadata filter.
	OptionMetadataFilter = "metadataFilter"

	metadataValuesGroup = "metadataValues"

	DefaultTopK = 4
)

// MetadataFilterField is the shared option letting users restrict results to
// documents whose metadata matches every listed name/value pair.
var MetadataFilterField = workflow.Property{
	DisplayName: "Metadata Filter",
	Name:        OptionMetadataFilter,
	Type:        workflow.TypeFixedCollection,
	Description: "Metadata to filter the documents by",
	Placeholder: "Add filter field",
	TypeOptions: &workflow.PropertyTypeOptions{MultipleValues: true},
	Default:     map[string]any{},
	Options: []workflow.Property{
		{
			DisplayName: "Fields to Set",
			Name:        metadataValuesGroup,
			Type:        workflow.TypeCollection,
			Default:     map[string]any{},
			Options: []workflow.Property{
				{DisplayName: "Name", Name: "name", Type: workflow.TypeString, Required: true, Default: ""},
				{DisplayName: "Value", Name: "value", Type: workflow.TypeString, Default: ""},
			},
		},
	},
}

// MetadataFilter extracts the name/value pairs of the metadata filter from
// a resolved options collection. A missing filter yields nil. Values are
// passed through unchanged; a pair without a value matches the empty string.
func MetadataFilter(opts map[string]any) (map[string]any, error) {
	raw, ok := opts[OptionMetadataFilter]
	if !ok || raw == nil {
		return nil, nil
	}
	group, ok := raw.(map[string]any)
	if !ok {
		return nil, workflow.NewConfigurationError(OptionMetadataFilter, fmt.Errorf("expected collection, got %T", raw))
	}

	var entries []map[string]any
	switch v := group[metadataValuesGroup].(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		entries = v
	case []any:
		for _, item := range v {
			entry, ok := item.(map[string]any)
			if !ok {
				return nil, workflow.NewConfigurationError(OptionMetadataFilter, fmt.Errorf("expected name/value pair, got %T", item))
			}
			entries = append(entries, entry)
		}
	default:
		return nil, workflow.NewConfigurationError(OptionMetadataFilter, fmt.Errorf("expected list of name/value pairs, got %T", v))
	}

	if len(entries) == 0 {
		return nil, nil
	}
	filter := make(map[string]any, len(entries))
	for i, entry := range entries {
		name, _ := entry["name"].(string)
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, workflow.NewConfigurationError(fmt.Sprintf("%s[%d].name", OptionMetadataFilter, i), workflow.ErrValueRequired)
		}
		value, ok := entry["value"]
		if !ok || value == nil {
			// an untouched value field holds its default
			value = ""
		}
		filter[name] = value
	}
	return filter, nil
}

func modeSelector(def Definition) workflow.Property {
	return workflow.Property{
		DisplayName: "Operation Mode",
		Name:        ParamMode,
		Type:        workflow.TypeOptions,
		Default:     string(ModeRetrieve),
		Values: []workflow.OptionValue{
			{
				Name:        "Get Many",
				Value:       string(ModeLoad),
				Description: "Get many ranked documents from vector store for query",
				Action:      "Get many ranked documents from vector store for query",
			},
			{
				Name:        "Insert Documents",
				Value:       string(ModeInsert),
				Description: "Insert documents into vector store",
				Action:      "Add documents to vector store",
			},
			{
				Name:        "Retrieve Documents",
				Value:       string(ModeRetrieve),
				Description: "Retrieve documents from vector store to be used with AI nodes",
				Action:      fmt.Sprintf("Retrieve documents from %s", def.Meta.DisplayName),
			},
		},
	}
}

func loadModeFields() []workflow.Property {
	return []workflow.Property{
		{
			DisplayName: "Prompt",
			Name:        ParamPrompt,
			Type:        workflow.TypeString,
			Required:    true,
			Default:     "",
			Description: "Search prompt to retrieve matching documents from the vector store using similarity-based ranking",
		},
		{
			DisplayName: "Limit",
			Name:        ParamTopK,
			Type:        workflow.TypeNumber,
			Default:     DefaultTopK,
			Description: "Number of top results to fetch from vector store",
		},
	}
}
