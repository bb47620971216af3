package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AuthClient fetches fresh bearer tokens from the web app's auth endpoint.
type AuthClient struct {
	*BaseClient
}

type tokenResponse struct {
	Token string `json:"token"`
}

// NewAuthClient creates a client for the endpoint at refreshURL. Requests carry
// the given headers (typically a session cookie).
func NewAuthClient(refreshURL string, headers map[string]string) *AuthClient {
	client := &AuthClient{
		BaseClient: NewBaseClient(refreshURL),
	}
	for key, value := range headers {
		client.SetHeader(key, value)
	}
	client.SetHeader("Accept", "application/json")
	return client
}

// RefreshToken requests a new token. An empty token in the response is an error.
func (c *AuthClient) RefreshToken(ctx context.Context) (string, error) {
	body, err := c.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	token := strings.TrimSpace(resp.Token)
	if token == "" {
		return "", fmt.Errorf("refresh token: response carried no token")
	}
	return token, nil
}
