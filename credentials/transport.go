package credentials

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Transport applies an authentication rule to every request it carries.
type Transport struct {
	Base   http.RoundTripper
	Auth   Authentication
	Source FieldSource
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	if err := t.Auth.Apply(out.Header, t.Source); err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(out)
}

// NewHTTPClient returns a client whose requests carry the credential headers
// declared by d, resolved from src.
func NewHTTPClient(d Descriptor, src FieldSource, base *http.Client) *http.Client {
	client := &http.Client{Timeout: 30 * time.Second}
	if base != nil {
		c := *base
		client = &c
	}
	client.Transport = &Transport{Base: client.Transport, Auth: d.Authenticate, Source: src}
	return client
}

// Tester verifies resolved credentials by issuing the descriptor's test request.
type Tester struct {
	descriptor Descriptor
	httpClient *http.Client
	logger     *slog.Logger
}

func NewTester(d Descriptor, httpClient *http.Client, logger *slog.Logger) *Tester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{
		descriptor: d,
		httpClient: httpClient,
		logger:     logger.With("component", "credential_tester", "credential", d.Name),
	}
}

// TestQdrant checks that the Qdrant endpoint accepts the record's API key.
// A 401 or 403 is ErrAuthentication; a failed round trip is ErrConnectivity.
func (t *Tester) TestQdrant(ctx context.Context, rec QdrantRecord) error {
	if t.descriptor.Test == nil {
		return fmt.Errorf("credential type %s declares no test request", t.descriptor.Name)
	}
	if err := t.descriptor.Validate(); err != nil {
		return err
	}

	target := strings.TrimRight(rec.URL, "/") + t.descriptor.Test.Path
	req, err := http.NewRequestWithContext(ctx, t.descriptor.Test.Method, target, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := NewHTTPClient(t.descriptor, rec, t.httpClient).Do(req)
	if err != nil {
		if errors.Is(err, ErrUnresolved) {
			return err
		}
		t.logger.WarnContext(ctx, "Credential test request failed", "url", rec.URL, "error", err)
		return fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	t.logger.DebugContext(ctx, "Credential test completed",
		"url", rec.URL, "status", resp.StatusCode, "api_key", rec.APIKey, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("credential test returned status %d", resp.StatusCode)
	}
	return nil
}
