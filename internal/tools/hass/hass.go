// Package hass executes assistant tool calls against a Home Assistant
// instance over its REST API. A tool name like "light_turn_on" maps onto
// the service call POST /api/services/light/turn_on with the call's
// arguments as the request body.
package hass

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/MrWong99/vesta/internal/tools"
)

var _ tools.Executor = (*Executor)(nil)

const defaultHTTPTimeout = 15 * time.Second

// maxResponseBytes bounds how much of a service response is read back.
const maxResponseBytes = 1 << 20

// Executor is a [tools.Executor] backed by the Home Assistant REST API.
type Executor struct {
	base   *url.URL
	client *http.Client
	tokens oauth2.TokenSource
}

// Option configures an [Executor].
type Option func(*Executor)

// WithHTTPClient replaces the HTTP client used for service calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// NewExecutor creates an executor for the Home Assistant instance at
// baseURL. Tokens for the Authorization header come from tokens, which is
// typically an [oauth2.TokenSource] refreshing long-lived access tokens.
func NewExecutor(baseURL string, tokens oauth2.TokenSource, opts ...Option) (*Executor, error) {
	if tokens == nil {
		return nil, fmt.Errorf("hass: token source must not be nil")
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("hass: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("hass: base URL %q must be absolute", baseURL)
	}
	e := &Executor{
		base:   base,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StaticToken returns a token source yielding a fixed long-lived access
// token, the common Home Assistant setup.
func StaticToken(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// CallTool implements [tools.Executor]. The tool name encodes the service
// as "<domain>_<service>" (first underscore splits); argsJSON becomes the
// service call body.
func (e *Executor) CallTool(ctx context.Context, name, argsJSON string) (string, error) {
	domain, service, err := splitService(name)
	if err != nil {
		return "", err
	}

	endpoint := e.base.JoinPath("api", "services", domain, service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader([]byte(argsJSON)))
	if err != nil {
		return "", fmt.Errorf("hass: build request: %w", err)
	}
	tok, err := e.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("hass: fetch token: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("hass: call %s.%s: %w", domain, service, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("hass: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("hass: %s.%s returned %s: %s", domain, service, resp.Status, strings.TrimSpace(string(body)))
	}
	if len(body) == 0 {
		return `{"status":"ok"}`, nil
	}
	return string(body), nil
}

// splitService maps a tool name onto a Home Assistant domain and service.
// Both "light_turn_on" and "light.turn_on" forms are accepted.
func splitService(name string) (domain, service string, err error) {
	sep := strings.IndexAny(name, "._")
	if sep <= 0 || sep == len(name)-1 {
		return "", "", fmt.Errorf("hass: tool name %q does not name a <domain>_<service> pair", name)
	}
	return name[:sep], name[sep+1:], nil
}
