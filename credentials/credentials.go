// Package credentials declares the credential types the nodes in this module
// authenticate with, and the rules for injecting them into outbound requests.
package credentials

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mr-good-bye/chroma-nodes/workflow"
)

var (
	ErrUnknownField   = errors.New("credentials: field is not declared by the credential type")
	ErrUnresolved     = errors.New("credentials: field has no resolved value")
	ErrAuthentication = errors.New("credentials: authentication rejected")
	ErrConnectivity   = errors.New("credentials: endpoint unreachable")
)

// FieldRef names a declared credential property. Authentication rules refer
// to credential values only through a FieldRef, never through a hand-written
// template string.
type FieldRef string

// Expression renders the reference in the host's expression syntax.
func (r FieldRef) Expression() string {
	return "={{$credentials." + string(r) + "}}"
}

// AuthenticationType is the kind of injection the host performs.
type AuthenticationType string

const AuthenticationGeneric AuthenticationType = "generic"

// Authentication describes how resolved credential fields are attached to
// every outbound HTTP request made through the host's generic HTTP layer.
type Authentication struct {
	Type    AuthenticationType
	Headers map[string]FieldRef
}

// FieldSource resolves credential fields by their declared name.
type FieldSource interface {
	Field(name string) (string, bool)
}

// Apply sets every header of the rule on h. A reference that the source
// cannot resolve is an error rather than an empty header.
func (a Authentication) Apply(h http.Header, src FieldSource) error {
	for header, ref := range a.Headers {
		v, ok := src.Field(string(ref))
		if !ok {
			return fmt.Errorf("%w: header %q references %q", ErrUnresolved, header, ref)
		}
		h.Set(header, v)
	}
	return nil
}

// CredentialTest is the request the host issues to verify a credential.
type CredentialTest struct {
	Method string
	// Path is appended to the credential's base URL.
	Path string
}

// Descriptor is the static declaration of a credential type.
type Descriptor struct {
	Name             string
	DisplayName      string
	DocumentationURL string
	Properties       []workflow.Property
	Authenticate     Authentication
	Test             *CredentialTest
}

// Validate checks that every field reference in the authentication rule
// names a declared property.
func (d Descriptor) Validate() error {
	for header, ref := range d.Authenticate.Headers {
		if _, ok := workflow.Lookup(d.Properties, string(ref)); !ok {
			return fmt.Errorf("%w: %s header %q references %q", ErrUnknownField, d.Name, header, ref)
		}
	}
	return nil
}

// Requirement attaches a credential type to a node.
type Requirement struct {
	Name     string `json:"name" yaml:"name"`
	Required bool   `json:"required" yaml:"required"`
}
