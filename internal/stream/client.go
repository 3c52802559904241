package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/streamify/backend/internal/models"
)

// Client performs server-side REST calls against the provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
}

// NewClient constructs a Client with a bounded HTTP timeout.
func NewClient(baseURL, apiKey, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		APIKey:     apiKey,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type upsertUsersRequest struct {
	Users map[string]models.ProviderIdentity `json:"users"`
}

// UpsertUsers creates or updates the provider's copy of the given identities.
func (c *Client) UpsertUsers(ctx context.Context, identities ...models.ProviderIdentity) error {
	if len(identities) == 0 {
		return nil
	}
	if c == nil || c.BaseURL == "" || c.APIKey == "" || c.Secret == "" {
		return fmt.Errorf("%w: credentials not configured", ErrProviderUnavailable)
	}

	payload := upsertUsersRequest{Users: make(map[string]models.ProviderIdentity, len(identities))}
	for _, identity := range identities {
		payload.Users[identity.ID] = identity
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode upsert payload: %w", err)
	}

	token, err := serverToken(c.Secret)
	if err != nil {
		return fmt.Errorf("%w: sign server token: %v", ErrProviderUnavailable, err)
	}

	endpoint := c.BaseURL + "/users?" + url.Values{"api_key": {c.APIKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upsert users: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: upsert users: status %d: %s", ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
