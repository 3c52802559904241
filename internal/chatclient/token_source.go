package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streamify/backend/internal/models"
)

// ErrNotSignedIn is returned by HTTPTokenSource when it has no access token.
var ErrNotSignedIn = errors.New("not signed in")

// HTTPTokenSource fetches provider tokens from the backend token endpoint.
type HTTPTokenSource struct {
	BaseURL     string
	AccessToken func() string
	HTTPClient  *http.Client
}

// NewHTTPTokenSource returns a TokenSource for the backend at baseURL.
func NewHTTPTokenSource(baseURL string, accessToken func() string) *HTTPTokenSource {
	return &HTTPTokenSource{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Token performs GET /api/get-stream-token with the bearer access token.
func (s *HTTPTokenSource) Token(ctx context.Context) (models.ProviderToken, error) {
	var access string
	if s.AccessToken != nil {
		access = s.AccessToken()
	}
	if access == "" {
		return models.ProviderToken{}, ErrNotSignedIn
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/get-stream-token", nil)
	if err != nil {
		return models.ProviderToken{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Accept", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.ProviderToken{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if resp.StatusCode == http.StatusUnauthorized {
			return models.ProviderToken{}, fmt.Errorf("%w: %s", ErrNotSignedIn, body.Error)
		}
		return models.ProviderToken{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body.Error)
	}

	var token models.ProviderToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return models.ProviderToken{}, fmt.Errorf("decode token: %w", err)
	}
	return token, nil
}
