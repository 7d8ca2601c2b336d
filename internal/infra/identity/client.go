package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client resolves bearer credentials against the external identity service.
// This engine only ever consumes the resolved caller id.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

type resolveResponse struct {
	UserID string `json:"userId"`
}

func (c *Client) Authenticate(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if !strings.HasPrefix(token, "Bearer ") {
		return "", fmt.Errorf("missing bearer credential")
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, c.baseURL+"/v1/identity/resolve", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity service rejected credential: %d", resp.StatusCode)
	}

	var parsed resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode identity response: %w", err)
	}
	if parsed.UserID == "" {
		return "", fmt.Errorf("identity response had no user id")
	}
	return parsed.UserID, nil
}
