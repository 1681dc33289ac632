package credentials

import (
	"encoding/json"
	"log/slog"
)

const redacted = "[REDACTED]"

// Secret holds a credential value that must never be rendered in logs, UI
// text or error messages. Use Reveal to get the value for the outbound request.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return "credentials.Secret(" + redacted + ")"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the plaintext value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether the secret has a non-empty value.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}
