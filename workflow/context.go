package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

var (
	ErrConfiguration       = errors.New("workflow: node configuration error")
	ErrParameterNotFound   = errors.New("workflow: parameter not found")
	ErrCredentialsNotFound = errors.New("workflow: credentials not found")
	ErrValueRequired       = errors.New("workflow: value is required")
)

// ExecutionContext is the part of the host execution engine a node sees
// while it runs for one batch item.
type ExecutionContext interface {
	// GetNodeParameter resolves a node parameter for the given batch item.
	// It returns ErrParameterNotFound if the parameter is not set.
	GetNodeParameter(name string, itemIndex int) (any, error)
	// GetCredentials returns the decrypted fields of the credential type
	// attached to the node. It returns ErrCredentialsNotFound if none is attached.
	GetCredentials(ctx context.Context, typeName string) (map[string]any, error)
}

// ConfigurationError reports a node or credential field that is missing or
// malformed. It is raised before any call to an external system.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.Err}
}

func NewConfigurationError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}

// RequiredString resolves a string parameter that must be set and non-blank.
func RequiredString(exec ExecutionContext, name string, itemIndex int) (string, error) {
	raw, err := exec.GetNodeParameter(name, itemIndex)
	if err != nil {
		return "", NewConfigurationError(name, err)
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewConfigurationError(name, fmt.Errorf("expected string, got %T", raw))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", NewConfigurationError(name, ErrValueRequired)
	}
	return s, nil
}

// OptionalCollection resolves a collection parameter. An unset collection
// resolves to an empty map.
func OptionalCollection(exec ExecutionContext, name string, itemIndex int) (map[string]any, error) {
	raw, err := exec.GetNodeParameter(name, itemIndex)
	if errors.Is(err, ErrParameterNotFound) || (err == nil && raw == nil) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, NewConfigurationError(name, err)
	}
	coll, ok := raw.(map[string]any)
	if !ok {
		return nil, NewConfigurationError(name, fmt.Errorf("expected collection, got %T", raw))
	}
	return coll, nil
}

// Int resolves a numeric parameter, falling back to def when it is unset.
func Int(exec ExecutionContext, name string, itemIndex int, def int) (int, error) {
	raw, err := exec.GetNodeParameter(name, itemIndex)
	if errors.Is(err, ErrParameterNotFound) || (err == nil && raw == nil) {
		return def, nil
	}
	if err != nil {
		return 0, NewConfigurationError(name, err)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, NewConfigurationError(name, err)
		}
		return n, nil
	default:
		return 0, NewConfigurationError(name, fmt.Errorf("expected number, got %T", raw))
	}
}

// StringOption reads an optional string entry of a collection parameter.
func StringOption(coll map[string]any, key string) (string, error) {
	raw, ok := coll[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewConfigurationError(key, fmt.Errorf("expected string, got %T", raw))
	}
	return strings.TrimSpace(s), nil
}

// BoolOption reads an optional boolean entry of a collection parameter.
func BoolOption(coll map[string]any, key string, def bool) (bool, error) {
	raw, ok := coll[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def, NewConfigurationError(key, err)
		}
		return b, nil
	default:
		return def, NewConfigurationError(key, fmt.Errorf("expected boolean, got %T", raw))
	}
}

// StaticContext is an ExecutionContext backed by in-memory maps. Per-item
// parameters take precedence over node-level ones.
type StaticContext struct {
	Parameters  map[string]any
	Items       []map[string]any
	Credentials map[string]map[string]any
}

var _ ExecutionContext = (*StaticContext)(nil)

func (c *StaticContext) GetNodeParameter(name string, itemIndex int) (any, error) {
	if itemIndex >= 0 && itemIndex < len(c.Items) {
		if v, ok := c.Items[itemIndex][name]; ok {
			return v, nil
		}
	}
	if v, ok := c.Parameters[name]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
}

func (c *StaticContext) GetCredentials(ctx context.Context, typeName string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds, ok := c.Credentials[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, typeName)
	}
	return maps.Clone(creds), nil
}
