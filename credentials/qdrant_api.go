package credentials

import (
	"fmt"
	"strings"

	"github.com/mr-good-bye/chroma-nodes/workflow"
)

const (
	QdrantAPIName = "qdrantApi"

	FieldURL    FieldRef = "url"
	FieldAPIKey FieldRef = "apiKey"

	// APIKeyHeader is the header Qdrant reads the API key from.
	APIKeyHeader = "api-key"
)

// QdrantAPI returns the credential type for reaching a Qdrant instance.
func QdrantAPI() Descriptor {
	return Descriptor{
		Name:             QdrantAPIName,
		DisplayName:      "Qdrant API",
		DocumentationURL: "https://docs.n8n.io/integrations/",
		Properties: []workflow.Property{
			{
				DisplayName: "URL",
				Name:        string(FieldURL),
				Type:        workflow.TypeString,
				Required:    true,
				Default:     "",
			},
			{
				DisplayName: "API Key",
				Name:        string(FieldAPIKey),
				Type:        workflow.TypeString,
				TypeOptions: &workflow.PropertyTypeOptions{Password: true},
				Required:    true,
				Default:     "",
			},
		},
		Authenticate: Authentication{
			Type:    AuthenticationGeneric,
			Headers: map[string]FieldRef{APIKeyHeader: FieldAPIKey},
		},
		Test: &CredentialTest{Method: "GET", Path: "/collections"},
	}
}

// QdrantRecord is a resolved qdrantApi credential.
type QdrantRecord struct {
	URL    string
	APIKey Secret
}

var _ FieldSource = QdrantRecord{}

func (r QdrantRecord) Field(name string) (string, bool) {
	switch FieldRef(name) {
	case FieldURL:
		return r.URL, true
	case FieldAPIKey:
		return r.APIKey.Reveal(), true
	default:
		return "", false
	}
}

// ResolveQdrant builds a record from the raw fields supplied by the host.
// Both fields must be non-empty strings; URL and key correctness are left to
// the first request against Qdrant.
func ResolveQdrant(raw map[string]any) (QdrantRecord, error) {
	url, err := requiredField(raw, FieldURL)
	if err != nil {
		return QdrantRecord{}, err
	}
	key, err := requiredField(raw, FieldAPIKey)
	if err != nil {
		return QdrantRecord{}, err
	}
	// keys are opaque and kept byte for byte
	return QdrantRecord{URL: strings.TrimSpace(url), APIKey: Secret(key)}, nil
}

func requiredField(raw map[string]any, ref FieldRef) (string, error) {
	field := QdrantAPIName + "." + string(ref)
	v, ok := raw[string(ref)]
	if !ok || v == nil {
		return "", workflow.NewConfigurationError(field, workflow.ErrValueRequired)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case Secret:
		s = t.Reveal()
	default:
		// the value is not echoed back; it may be the secret
		return "", workflow.NewConfigurationError(field, fmt.Errorf("expected string, got %T", v))
	}
	if strings.TrimSpace(s) == "" {
		return "", workflow.NewConfigurationError(field, workflow.ErrValueRequired)
	}
	return s, nil
}
